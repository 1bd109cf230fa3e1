// Package mongo stores rosters in MongoDB. Each entry is one document whose
// location field decides which roster it belongs to.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/DoyleJ11/pokeroster/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	_ store.Store      = (*Store)(nil)
	_ store.ChangeFeed = (*Store)(nil)
)

const (
	defaultURI      = "mongodb://localhost:27017"
	defaultDatabase = "pokeroster"
)

type Config struct {
	URI      string
	Database string
}

type sessionDoc struct {
	ID        string    `bson:"_id"`
	CreatedAt time.Time `bson:"created_at"`
	// Deleting holds a token while DeleteSession checks that the session is
	// empty.
	Deleting string `bson:"deleting,omitempty"`
}

type entryDoc struct {
	ID        string    `bson:"_id"`
	SessionID string    `bson:"session_id"`
	Location  string    `bson:"location"`
	SpeciesID int       `bson:"species_id"`
	Nickname  string    `bson:"nickname"`
	Level     int       `bson:"level"`
	Gender    string    `bson:"gender"`
	PlacedAt  time.Time `bson:"placed_at"`
}

type Store struct {
	client   *mongo.Client
	sessions *mongo.Collection
	entries  *mongo.Collection
	log      *zap.Logger
}

func New(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	if cfg.URI == "" {
		cfg.URI = defaultURI
	}
	if cfg.Database == "" {
		cfg.Database = defaultDatabase
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(cfg.Database)
	s := &Store{
		client:   client,
		sessions: db.Collection("sessions"),
		entries:  db.Collection("roster_entries"),
		log:      log.Named("mongo"),
	}
	_, err = s.entries.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "location", Value: 1}, {Key: "placed_at", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create index: %w", err)
	}
	return s, nil
}

func (s *Store) CreateSession(ctx context.Context, id string) error {
	_, err := s.sessions.InsertOne(ctx, sessionDoc{ID: id, CreatedAt: store.Now()})
	if mongo.IsDuplicateKeyError(err) {
		return roster.ErrSessionExists
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) SessionExists(ctx context.Context, id string) (bool, error) {
	n, err := s.sessions.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	return n > 0, nil
}

// DeleteSession marks the session before counting its entries. An Insert
// racing with it either lands before the count, which then refuses, or sees
// the mark and takes its entry back out.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	token := store.NewID()
	err := s.sessions.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"deleting": token}}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return roster.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("mark session: %w", err)
	}
	n, err := s.entries.CountDocuments(ctx, bson.M{"session_id": id}, options.Count().SetLimit(1))
	if err == nil && n > 0 {
		err = roster.ErrSessionNotEmpty
	}
	if err != nil {
		_, uerr := s.sessions.UpdateOne(context.WithoutCancel(ctx), bson.M{"_id": id, "deleting": token}, bson.M{"$unset": bson.M{"deleting": ""}})
		if uerr != nil {
			err = multierr.Append(err, fmt.Errorf("unmark session: %w", uerr))
		}
		return err
	}
	res, err := s.sessions.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if res.DeletedCount == 0 {
		return roster.ErrSessionNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, session string, loc roster.Location) ([]roster.Entry, error) {
	if err := s.requireSession(ctx, session); err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "placed_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.entries.Find(ctx, bson.M{"session_id": session, "location": string(loc)}, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", loc, err)
	}
	var docs []entryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", loc, err)
	}
	out := make([]roster.Entry, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.entry())
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, session string, loc roster.Location, id string) (roster.Entry, error) {
	var d entryDoc
	err := s.entries.FindOne(ctx, entryFilter(session, loc, id)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return roster.Entry{}, roster.ErrEntryNotFound
	}
	if err != nil {
		return roster.Entry{}, fmt.Errorf("find entry: %w", err)
	}
	return d.entry(), nil
}

// Insert checks the limit before writing; two concurrent inserts can both pass.
func (s *Store) Insert(ctx context.Context, e roster.Entry, limit int) (roster.Entry, error) {
	if err := s.requireSession(ctx, e.SessionID); err != nil {
		return roster.Entry{}, err
	}
	if err := s.checkLimit(ctx, e.SessionID, e.Location, limit); err != nil {
		return roster.Entry{}, err
	}
	e.ID = store.NewID()
	e = roster.Placed(e, e.Location, store.Now())
	if _, err := s.entries.InsertOne(ctx, fromEntry(e)); err != nil {
		return roster.Entry{}, fmt.Errorf("insert entry: %w", err)
	}

	// A DeleteSession may have counted before the write above.
	n, err := s.sessions.CountDocuments(ctx, bson.M{"_id": e.SessionID, "deleting": bson.M{"$exists": false}}, options.Count().SetLimit(1))
	if err == nil && n > 0 {
		return e, nil
	}
	if err == nil {
		err = roster.ErrSessionNotFound
	} else {
		err = fmt.Errorf("recheck session: %w", err)
	}
	if _, derr := s.entries.DeleteOne(context.WithoutCancel(ctx), bson.M{"_id": e.ID}); derr != nil {
		s.log.Warn("entry left without a session", zap.String("session", e.SessionID), zap.String("id", e.ID), zap.Error(derr))
	}
	return roster.Entry{}, err
}

func (s *Store) Relocate(ctx context.Context, session, id string, from, to roster.Location, limit int) (roster.Entry, error) {
	e, err := s.Get(ctx, session, from, id)
	if err != nil {
		return roster.Entry{}, err
	}
	if from == to {
		return e, nil
	}
	if err := s.checkLimit(ctx, session, to, limit); err != nil {
		return roster.Entry{}, err
	}
	e = roster.Placed(e, to, store.Now())
	res, err := s.entries.UpdateOne(ctx, entryFilter(session, from, id), bson.M{
		"$set": bson.M{"location": string(to), "placed_at": e.PlacedAt},
	})
	if err != nil {
		return roster.Entry{}, fmt.Errorf("relocate entry: %w", err)
	}
	if res.MatchedCount == 0 {
		return roster.Entry{}, roster.ErrEntryNotFound
	}
	return e, nil
}

func (s *Store) Delete(ctx context.Context, session string, loc roster.Location, id string) error {
	res, err := s.entries.DeleteOne(ctx, entryFilter(session, loc, id))
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if res.DeletedCount == 0 {
		return roster.ErrEntryNotFound
	}
	return nil
}

func (s *Store) Patch(ctx context.Context, session string, loc roster.Location, id string, p roster.Patch) (roster.Entry, error) {
	set := bson.M{}
	if p.Nickname != nil {
		set["nickname"] = *p.Nickname
	}
	if p.Level != nil {
		set["level"] = *p.Level
	}
	if p.Gender != nil {
		set["gender"] = string(*p.Gender)
	}
	if len(set) == 0 {
		return s.Get(ctx, session, loc, id)
	}
	var d entryDoc
	err := s.entries.FindOneAndUpdate(ctx, entryFilter(session, loc, id), bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return roster.Entry{}, roster.ErrEntryNotFound
	}
	if err != nil {
		return roster.Entry{}, fmt.Errorf("patch entry: %w", err)
	}
	return d.entry(), nil
}

// StepLevel uses $inc guarded by a level bound in the filter, so concurrent
// steps are applied one after the other by the server.
func (s *Store) StepLevel(ctx context.Context, session string, loc roster.Location, id string, delta int) (roster.Entry, error) {
	filter := entryFilter(session, loc, id)
	filter["level"] = bson.M{"$gte": roster.MinLevel - delta, "$lte": roster.MaxLevel - delta}

	var d entryDoc
	err := s.entries.FindOneAndUpdate(ctx, filter, bson.M{"$inc": bson.M{"level": delta}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// at a bound, or missing
		return s.Get(ctx, session, loc, id)
	}
	if err != nil {
		return roster.Entry{}, fmt.Errorf("step level: %w", err)
	}
	return d.entry(), nil
}

// WatchChanges follows the entries change stream. It needs a replica set.
// Deletes carry no document, so they are reported with an empty session id.
func (s *Store) WatchChanges(ctx context.Context, notify func(sessionID string)) (err error) {
	stream, err := s.entries.Watch(ctx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return fmt.Errorf("watch entries: %w", err)
	}
	defer func() { err = multierr.Append(err, stream.Close(context.Background())) }()

	s.log.Info("watching roster change stream")
	for stream.Next(ctx) {
		var ev struct {
			FullDocument *entryDoc `bson:"fullDocument"`
		}
		if err := stream.Decode(&ev); err != nil {
			s.log.Warn("decode change event", zap.Error(err))
			continue
		}
		session := ""
		if ev.FullDocument != nil {
			session = ev.FullDocument.SessionID
		}
		notify(session)
	}
	if ctx.Err() != nil {
		return nil
	}
	return stream.Err()
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *Store) requireSession(ctx context.Context, id string) error {
	ok, err := s.SessionExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return roster.ErrSessionNotFound
	}
	return nil
}

func (s *Store) checkLimit(ctx context.Context, session string, loc roster.Location, limit int) error {
	if limit <= 0 {
		return nil
	}
	n, err := s.entries.CountDocuments(ctx, bson.M{"session_id": session, "location": string(loc)})
	if err != nil {
		return fmt.Errorf("count %s: %w", loc, err)
	}
	if n >= int64(limit) {
		return roster.ErrLocationFull
	}
	return nil
}

func entryFilter(session string, loc roster.Location, id string) bson.M {
	return bson.M{"_id": id, "session_id": session, "location": string(loc)}
}

func fromEntry(e roster.Entry) entryDoc {
	return entryDoc{
		ID:        e.ID,
		SessionID: e.SessionID,
		Location:  string(e.Location),
		SpeciesID: e.SpeciesID,
		Nickname:  e.Nickname,
		Level:     e.Level,
		Gender:    string(e.Gender),
		PlacedAt:  e.PlacedAt,
	}
}

func (d entryDoc) entry() roster.Entry {
	return roster.Entry{
		ID:        d.ID,
		SessionID: d.SessionID,
		Location:  roster.Location(d.Location),
		SpeciesID: d.SpeciesID,
		Nickname:  d.Nickname,
		Level:     d.Level,
		Gender:    roster.Gender(d.Gender),
		PlacedAt:  d.PlacedAt.UTC(),
	}
}
