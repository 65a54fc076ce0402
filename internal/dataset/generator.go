// Package dataset generates the synthetic session data the accuracy harness
// runs against.
//
// Day 0 has a group but no sessions. Every following day d has sessions for
// the first d*Users/Days users, so each day adds a further 1/Days of the users
// on top of all earlier ones and every user keeps coming back.
package dataset

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/fidde/simple_hll/pkg/hashing"
	"github.com/fidde/simple_hll/pkg/models"
)

// Default configuration values
const (
	DefaultUsers     = 140_000
	DefaultDays      = 7
	DefaultBatchSize = 2_500
)

// Sink receives generated data. storage.Storage satisfies it.
type Sink interface {
	StoreGroup(ctx context.Context, group *models.Group) error
	StoreSessions(ctx context.Context, sessions []*models.Session) error
}

// Config controls the size and shape of the dataset.
type Config struct {
	Users     int
	Days      int
	BatchSize int

	// Base is the first day. It is truncated to midnight UTC.
	Base time.Time

	// Seed drives the session times.
	Seed uint64
}

// DefaultConfig returns the configuration of the reference fixture, starting
// today.
func DefaultConfig() Config {
	return Config{
		Users:     DefaultUsers,
		Days:      DefaultDays,
		BatchSize: DefaultBatchSize,
		Base:      time.Now(),
		Seed:      1,
	}
}

// Generator writes the dataset to a Sink.
type Generator struct {
	cfg    Config
	base   time.Time
	logger *slog.Logger
}

// New validates cfg and returns a Generator. A nil logger discards progress.
func New(cfg Config, logger *slog.Logger) (*Generator, error) {
	if cfg.Users < 0 {
		return nil, fmt.Errorf("users must not be negative, got %d", cfg.Users)
	}
	if cfg.Days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", cfg.Days)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Generator{
		cfg:    cfg,
		base:   cfg.Base.UTC().Truncate(24 * time.Hour),
		logger: logger,
	}, nil
}

// UsersOnDay returns how many users have a session on day d.
func (g *Generator) UsersOnDay(d int) int {
	return int(float64(d) * (float64(g.cfg.Users) / float64(g.cfg.Days)))
}

// Run generates every group and session and streams them to sink in batches.
// It returns the number of sessions written.
func (g *Generator) Run(ctx context.Context, sink Sink) (int64, error) {
	rng := rand.New(rand.NewPCG(g.cfg.Seed, g.cfg.Seed^0x5851f42d4c957f2d))

	var nextID int64 = 1
	batch := make([]*models.Session, 0, g.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.StoreSessions(ctx, batch); err != nil {
			return fmt.Errorf("storing sessions: %w", err)
		}
		batch = make([]*models.Session, 0, g.cfg.BatchSize)
		return nil
	}

	for d := 0; d <= g.cfg.Days; d++ {
		day := g.base.AddDate(0, 0, d)
		group := &models.Group{ID: UUIDFromInt(uint64(d)), Created: day}
		if err := sink.StoreGroup(ctx, group); err != nil {
			return 0, fmt.Errorf("storing group for day %d: %w", d, err)
		}

		users := g.UsersOnDay(d)
		for i := 0; i < users; i++ {
			s := NewSession(int64(i), group, day)
			s.ID = nextID
			s.Created = day.Add(time.Duration(rng.IntN(24))*time.Hour + time.Duration(rng.IntN(60))*time.Minute)
			nextID++

			batch = append(batch, s)
			if len(batch) == g.cfg.BatchSize {
				if err := flush(); err != nil {
					return 0, err
				}
			}
		}
		if err := flush(); err != nil {
			return 0, err
		}

		g.logger.Debug("generated day", "day", d, "date", models.DateKey(day), "sessions", users)
	}

	total := nextID - 1
	g.logger.Info("dataset generated", "users", g.cfg.Users, "days", g.cfg.Days, "sessions", total)
	return total, nil
}

// NewSession builds the session of user i in group, created at the start of
// day. The caller assigns ID and may move Created within the day.
func NewSession(i int64, group *models.Group, day time.Time) *models.Session {
	id := UUIDFromInt(uint64(i))
	return &models.Session{
		UserUUID: id,
		UserInt:  i,
		UserStr:  fmt.Sprintf("%d-%s", i, id),
		UserHash: UserHash(id),
		Created:  day,
		GroupID:  group.ID,
	}
}

// UUIDFromInt returns the UUID whose 128-bit big-endian value is i.
func UUIDFromInt(i uint64) uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], i)
	return id
}

// UserHash is the 31-bit blake2s hash of the UUID's unhyphenated hex form.
func UserHash(id uuid.UUID) int64 {
	return int64(hashing.Blake2s{}.Sum([]byte(hex.EncodeToString(id[:]))))
}
