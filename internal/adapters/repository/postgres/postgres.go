// Package postgres implements repository.Store backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/okian/leadflow/internal/adapters/repository"
	"github.com/okian/leadflow/internal/domain/model"
	"github.com/okian/leadflow/pkg/idgen"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements repository.Store on a *sql.DB.
type Store struct {
	db        *sql.DB
	now       func() time.Time
	newLeadID func() (string, error)
}

var _ repository.Store = (*Store)(nil)

// Open connects to databaseURL, configures the pool and applies pending
// migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now, newLeadID: idgen.LeadID}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateLead(ctx context.Context, lead model.Lead) (model.Lead, error) {
	if lead.ID == "" {
		id, err := s.newLeadID()
		if err != nil {
			return model.Lead{}, fmt.Errorf("create lead: %w", err)
		}
		lead.ID = id
	}
	if lead.Status == "" {
		lead.Status = model.LeadNew
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = s.now().UTC()
	}
	if err := queryCreateLead(ctx, s.db, lead); err != nil {
		return model.Lead{}, fmt.Errorf("create lead %s: %w", lead.Email, err)
	}
	return lead, nil
}

func (s *Store) GetLead(ctx context.Context, id string) (model.Lead, error) {
	return queryGetLead(ctx, s.db, id)
}

func (s *Store) ListLeads(ctx context.Context, limit int) ([]model.Lead, error) {
	return queryListLeads(ctx, s.db, limit)
}

func (s *Store) LeadIDs(ctx context.Context) ([]string, error) {
	return queryLeadIDs(ctx, s.db)
}

func (s *Store) CountLeads(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM leads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return n, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev model.Event) (model.Event, error) {
	return queryAppendEvent(ctx, s.db, ev)
}

func (s *Store) FindEvent(ctx context.Context, eventID string) (model.Event, error) {
	return queryFindEvent(ctx, s.db, eventID)
}

func (s *Store) LeadEvents(ctx context.Context, leadID string) ([]model.Event, error) {
	return queryLeadEvents(ctx, s.db, leadID)
}

func (s *Store) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	return queryListEvents(ctx, s.db, filter)
}

func (s *Store) MarkProcessed(ctx context.Context, eventIDs ...string) error {
	return queryMarkProcessed(ctx, s.db, eventIDs)
}

func (s *Store) UnprocessedEvents(ctx context.Context, cutoff time.Time, limit int) ([]model.Event, error) {
	return queryUnprocessedEvents(ctx, s.db, cutoff, limit)
}

func (s *Store) ListRules(ctx context.Context) ([]model.ScoringRule, error) {
	return queryListRules(ctx, s.db)
}

func (s *Store) ActiveRules(ctx context.Context) (map[string]int64, error) {
	return queryActiveRules(ctx, s.db)
}

func (s *Store) UpsertRule(ctx context.Context, rule model.ScoringRule) (model.ScoringRule, error) {
	return queryUpsertRule(ctx, s.db, rule)
}

func (s *Store) InsertRuleIfAbsent(ctx context.Context, rule model.ScoringRule) (bool, error) {
	return queryInsertRuleIfAbsent(ctx, s.db, rule)
}

// ApplyScoreChange updates the lead score and appends the ledger entry in
// one transaction, guarded by the lead version the caller read.
func (s *Store) ApplyScoreChange(ctx context.Context, version int64, entry model.ScoreHistoryEntry) (model.ScoreHistoryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ScoreHistoryEntry{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := queryCompareAndSetScore(ctx, tx, entry.LeadID, version, entry.NewScore); err != nil {
		return model.ScoreHistoryEntry{}, err
	}
	saved, err := queryInsertHistory(ctx, tx, entry)
	if err != nil {
		return model.ScoreHistoryEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.ScoreHistoryEntry{}, fmt.Errorf("commit score change: %w", err)
	}
	return saved, nil
}

func (s *Store) History(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error) {
	return queryHistory(ctx, s.db, leadID, limit)
}
