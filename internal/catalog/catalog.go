// Package catalog reads species reference data from a PokeAPI v2 compatible
// service. Responses are cached for a fixed window and concurrent identical
// lookups share one request.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/DoyleJ11/pokeroster/internal/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
)

var (
	ErrNotFound      = errors.New("catalog: not found")
	ErrBadChainURL   = errors.New("catalog: malformed evolution chain url")
	ErrUnexpectedRes = errors.New("catalog: unexpected response")
)

const (
	DefaultBaseURL   = "https://pokeapi.co/api/v2"
	DefaultPageLimit = 10000

	// The full species listing is well under 2 MiB.
	maxBodyBytes = 16 << 20
)

type Config struct {
	BaseURL           string
	Timeout           time.Duration
	CacheTTL          time.Duration
	CacheSize         int
	PageLimit         int
	PrimaryLanguage   string
	SecondaryLanguage string
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Minute
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 12000
	}
	if c.PageLimit <= 0 {
		c.PageLimit = DefaultPageLimit
	}
	if c.PrimaryLanguage == "" {
		c.PrimaryLanguage = "en"
	}
	if c.SecondaryLanguage == "" {
		c.SecondaryLanguage = "fr"
	}
	return c
}

type NamedResource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type ResourceList struct {
	Count   int             `json:"count"`
	Results []NamedResource `json:"results"`
}

type Name struct {
	Name     string        `json:"name"`
	Language NamedResource `json:"language"`
}

type Species struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	Names          []Name `json:"names"`
	EvolutionChain struct {
		URL string `json:"url"`
	} `json:"evolution_chain"`
}

type ChainLink struct {
	Species   NamedResource `json:"species"`
	EvolvesTo []ChainLink   `json:"evolves_to"`
}

type EvolutionChain struct {
	ID    int       `json:"id"`
	Chain ChainLink `json:"chain"`
}

type Client struct {
	http      *http.Client
	base      string
	pageLimit int
	maxBody   int64
	primary   language.Tag
	secondary language.Tag
	cache     *expirable.LRU[string, []byte]
	group     singleflight.Group
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func New(cfg Config, log *zap.Logger, m *metrics.Metrics) (*Client, error) {
	cfg = cfg.withDefaults()
	primary, err := language.Parse(cfg.PrimaryLanguage)
	if err != nil {
		return nil, fmt.Errorf("primary language: %w", err)
	}
	secondary, err := language.Parse(cfg.SecondaryLanguage)
	if err != nil {
		return nil, fmt.Errorf("secondary language: %w", err)
	}
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		pageLimit: cfg.PageLimit,
		maxBody:   maxBodyBytes,
		primary:   primary,
		secondary: secondary,
		cache:     expirable.NewLRU[string, []byte](cfg.CacheSize, nil, cfg.CacheTTL),
		log:       log.Named("catalog"),
		metrics:   m,
	}, nil
}

// PageLimit is how many species a full catalog listing asks for.
func (c *Client) PageLimit() int { return c.pageLimit }

func (c *Client) ListSpecies(ctx context.Context, offset, limit int) (ResourceList, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	var out ResourceList
	err := c.get(ctx, "/pokemon-species?"+q.Encode(), &out)
	return out, err
}

func (c *Client) SpeciesByName(ctx context.Context, name string) (Species, error) {
	var out Species
	err := c.get(ctx, "/pokemon-species/"+url.PathEscape(strings.ToLower(name)), &out)
	return out, err
}

func (c *Client) SpeciesByID(ctx context.Context, id int) (Species, error) {
	var out Species
	err := c.get(ctx, "/pokemon-species/"+strconv.Itoa(id), &out)
	return out, err
}

func (c *Client) EvolutionChain(ctx context.Context, id int) (EvolutionChain, error) {
	var out EvolutionChain
	err := c.get(ctx, "/evolution-chain/"+strconv.Itoa(id), &out)
	return out, err
}

// ChainID extracts the numeric id from an evolution chain resource URL such
// as "https://pokeapi.co/api/v2/evolution-chain/10/".
func ChainID(raw string) (int, error) {
	parts := strings.Split(strings.TrimRight(raw, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] != "evolution-chain" {
		return 0, fmt.Errorf("%w: %q", ErrBadChainURL, raw)
	}
	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadChainURL, raw)
	}
	return id, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if body, ok := c.cache.Get(path); ok {
		c.metrics.CatalogRequest("hit")
		return json.Unmarshal(body, out)
	}

	// Shared fetches outlive any one caller and are bounded by the client
	// timeout. A cancelled caller only stops its own wait.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(path, func() (any, error) {
		body, err := c.fetch(shared, path)
		if err != nil {
			return nil, err
		}
		c.cache.Add(path, body)
		return body, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		c.metrics.CatalogRequest("error")
		c.log.Warn("catalog lookup failed", zap.String("path", path), zap.Error(res.Err))
		return res.Err
	}
	c.metrics.CatalogRequest("miss")
	if err := json.Unmarshal(res.Val.([]byte), out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "pokeroster")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s returned %s", ErrUnexpectedRes, path, res.Status)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: %s body exceeds %d bytes", ErrUnexpectedRes, path, c.maxBody)
	}
	return body, nil
}
