package services

import (
	"context"
	"fmt"
	"game-session-system/models"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an in-memory database on a single connection. That keeps the
// database alive but also serializes every writer, so concurrent tests on it
// check outcomes under contention for the connection, not interleaved writes.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openTestDB(t, ":memory:", 1)
}

// newFileTestDB opens a WAL database with several connections so concurrent
// statements really race for the same rows.
func newFileTestDB(t *testing.T, conns int) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "matches.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	return openTestDB(t, dsn, conns)
}

func openTestDB(t *testing.T, dsn string, conns int) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingProvisioner hands out a fresh endpoint per call.
type countingProvisioner struct {
	calls atomic.Int32
	err   error
}

func (p *countingProvisioner) Provision(ctx context.Context) (ProvisionedInstance, error) {
	n := p.calls.Add(1)
	if p.err != nil {
		return ProvisionedInstance{}, p.err
	}
	return ProvisionedInstance{
		Endpoint: models.Endpoint{Host: fmt.Sprintf("10.0.0.%d", n), Port: 12346},
		Ref:      fmt.Sprintf("task-%d", n),
	}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []MatchEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event MatchEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
