// Package postgres stores rosters in PostgreSQL through gorm and publishes
// every write on a LISTEN/NOTIFY channel so other instances can refresh.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/pokeroster/internal/roster"
	"github.com/DoyleJ11/pokeroster/internal/store"
	"github.com/jackc/pgx/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	_ store.Store      = (*Store)(nil)
	_ store.ChangeFeed = (*Store)(nil)
)

const (
	defaultDSN     = "postgres://localhost/pokeroster?sslmode=disable"
	defaultChannel = "roster_changes"
)

type Config struct {
	DSN     string
	Channel string // NOTIFY channel, defaults to roster_changes
}

type sessionRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

func (sessionRow) TableName() string { return "sessions" }

type entryRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	SessionID string    `gorm:"size:64;not null;index:idx_roster_session_location,priority:1"`
	Location  string    `gorm:"size:16;not null;index:idx_roster_session_location,priority:2"`
	SpeciesID int       `gorm:"not null"`
	Nickname  string    `gorm:"not null;default:''"`
	Level     int       `gorm:"not null"`
	Gender    string    `gorm:"size:8;not null"`
	PlacedAt  time.Time `gorm:"not null"`
}

func (entryRow) TableName() string { return "roster_entries" }

type Store struct {
	db      *gorm.DB
	dsn     string
	channel string
	log     *zap.Logger
}

// New opens the database and migrates the two tables.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		cfg.DSN = defaultDSN
	}
	if cfg.Channel == "" {
		cfg.Channel = defaultChannel
	}
	db, err := gorm.Open(pgdriver.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&sessionRow{}, &entryRow{}); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &Store{db: db, dsn: cfg.DSN, channel: cfg.Channel, log: log.Named("postgres")}, nil
}

func (s *Store) CreateSession(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&sessionRow{ID: id})
	if res.Error != nil {
		return fmt.Errorf("create session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return roster.ErrSessionExists
	}
	return nil
}

func (s *Store) SessionExists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	return n > 0, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockSession(tx, id); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&entryRow{}).Where("session_id = ?", id).Count(&n).Error; err != nil {
			return fmt.Errorf("count entries: %w", err)
		}
		if n > 0 {
			return roster.ErrSessionNotEmpty
		}
		if err := tx.Delete(&sessionRow{ID: id}).Error; err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return s.notify(tx, id)
	})
}

func (s *Store) List(ctx context.Context, session string, loc roster.Location) ([]roster.Entry, error) {
	ok, err := s.SessionExists(ctx, session)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, roster.ErrSessionNotFound
	}
	var rows []entryRow
	err = s.db.WithContext(ctx).
		Where("session_id = ? AND location = ?", session, string(loc)).
		Order("placed_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", loc, err)
	}
	out := make([]roster.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, session string, loc roster.Location, id string) (roster.Entry, error) {
	row, err := findEntry(s.db.WithContext(ctx), session, loc, id)
	if err != nil {
		return roster.Entry{}, err
	}
	return row.entry(), nil
}

func (s *Store) Insert(ctx context.Context, e roster.Entry, limit int) (roster.Entry, error) {
	e.ID = store.NewID()
	e = roster.Placed(e, e.Location, store.Now())
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockSession(tx, e.SessionID); err != nil {
			return err
		}
		if err := checkLimit(tx, e.SessionID, e.Location, limit); err != nil {
			return err
		}
		row := fromEntry(e)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		return s.notify(tx, e.SessionID)
	})
	if err != nil {
		return roster.Entry{}, err
	}
	return e, nil
}

func (s *Store) Relocate(ctx context.Context, session, id string, from, to roster.Location, limit int) (roster.Entry, error) {
	var moved roster.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockSession(tx, session); err != nil {
			return err
		}
		row, err := findEntry(tx, session, from, id)
		if err != nil {
			return err
		}
		if from == to {
			moved = row.entry()
			return nil
		}
		if err := checkLimit(tx, session, to, limit); err != nil {
			return err
		}
		moved = roster.Placed(row.entry(), to, store.Now())
		err = tx.Model(&entryRow{}).
			Where("id = ? AND session_id = ? AND location = ?", id, session, string(from)).
			Updates(map[string]any{"location": string(to), "placed_at": moved.PlacedAt}).Error
		if err != nil {
			return fmt.Errorf("relocate entry: %w", err)
		}
		return s.notify(tx, session)
	})
	if err != nil {
		return roster.Entry{}, err
	}
	return moved, nil
}

func (s *Store) Delete(ctx context.Context, session string, loc roster.Location, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND session_id = ? AND location = ?", id, session, string(loc)).Delete(&entryRow{})
		if res.Error != nil {
			return fmt.Errorf("delete entry: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return roster.ErrEntryNotFound
		}
		return s.notify(tx, session)
	})
}

func (s *Store) Patch(ctx context.Context, session string, loc roster.Location, id string, p roster.Patch) (roster.Entry, error) {
	var patched roster.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findEntry(tx, session, loc, id)
		if err != nil {
			return err
		}
		patched = p.Apply(row.entry())
		err = tx.Model(&entryRow{}).
			Where("id = ? AND session_id = ?", id, session).
			Updates(map[string]any{
				"nickname": patched.Nickname,
				"level":    patched.Level,
				"gender":   string(patched.Gender),
			}).Error
		if err != nil {
			return fmt.Errorf("patch entry: %w", err)
		}
		return s.notify(tx, session)
	})
	if err != nil {
		return roster.Entry{}, err
	}
	return patched, nil
}

// StepLevel increments in SQL so concurrent steps never read the same level.
func (s *Store) StepLevel(ctx context.Context, session string, loc roster.Location, id string, delta int) (roster.Entry, error) {
	var stepped roster.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entryRow{}).
			Where("id = ? AND session_id = ? AND location = ?", id, session, string(loc)).
			Where("level + ? BETWEEN ? AND ?", delta, roster.MinLevel, roster.MaxLevel).
			Update("level", gorm.Expr("level + ?", delta))
		if res.Error != nil {
			return fmt.Errorf("step level: %w", res.Error)
		}
		row, err := findEntry(tx, session, loc, id)
		if err != nil {
			return err
		}
		stepped = row.entry()
		if res.RowsAffected == 0 {
			return nil
		}
		return s.notify(tx, session)
	})
	if err != nil {
		return roster.Entry{}, err
	}
	return stepped, nil
}

// WatchChanges LISTENs on the notify channel until ctx ends.
func (s *Store) WatchChanges(ctx context.Context, notify func(sessionID string)) (err error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer func() { err = multierr.Append(err, conn.Close(context.Background())) }()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}
	s.log.Info("listening for roster changes", zap.String("channel", s.channel))
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait notification: %w", err)
		}
		notify(n.Payload)
	}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// pg_notify inside tx is delivered on commit only.
func (s *Store) notify(tx *gorm.DB, session string) error {
	if err := tx.Exec("SELECT pg_notify(?, ?)", s.channel, session).Error; err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func lockSession(tx *gorm.DB, id string) error {
	var sess sessionRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return roster.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	return nil
}

func checkLimit(tx *gorm.DB, session string, loc roster.Location, limit int) error {
	if limit <= 0 {
		return nil
	}
	var n int64
	if err := tx.Model(&entryRow{}).Where("session_id = ? AND location = ?", session, string(loc)).Count(&n).Error; err != nil {
		return fmt.Errorf("count %s: %w", loc, err)
	}
	if n >= int64(limit) {
		return roster.ErrLocationFull
	}
	return nil
}

func findEntry(db *gorm.DB, session string, loc roster.Location, id string) (entryRow, error) {
	var row entryRow
	err := db.Where("id = ? AND session_id = ? AND location = ?", id, session, string(loc)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entryRow{}, roster.ErrEntryNotFound
	}
	if err != nil {
		return entryRow{}, fmt.Errorf("find entry: %w", err)
	}
	return row, nil
}

func fromEntry(e roster.Entry) entryRow {
	return entryRow{
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

func (r entryRow) entry() roster.Entry {
	return roster.Entry{
		ID:        r.ID,
		SessionID: r.SessionID,
		Location:  roster.Location(r.Location),
		SpeciesID: r.SpeciesID,
		Nickname:  r.Nickname,
		Level:     r.Level,
		Gender:    roster.Gender(r.Gender),
		PlacedAt:  r.PlacedAt.UTC(),
	}
}
