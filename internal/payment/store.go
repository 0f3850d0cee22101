package payment

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"ms-ledger/internal/logger"
)

// PostgresEventStore persists processed Stripe event IDs so webhook
// redeliveries are applied at most once.
type PostgresEventStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresEventStoreWithDB wraps an existing connection.
func NewPostgresEventStoreWithDB(db *sql.DB, log *logger.Logger) (*PostgresEventStore, error) {
	store := &PostgresEventStore{
		db:  db,
		log: log,
	}
	if err := store.initTables(); err != nil {
		log.Error("DATABASE", "Failed to initialize webhook event table: "+err.Error())
		return nil, fmt.Errorf("failed to initialize webhook event table: %w", err)
	}
	return store, nil
}

func NewPostgresEventStore(dsn string, log *logger.Logger) (*PostgresEventStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Error("DATABASE", "Failed to open PostgreSQL connection: "+err.Error())
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		log.Error("DATABASE", "Failed to ping PostgreSQL: "+err.Error())
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgresEventStoreWithDB(db, log)
}

func (s *PostgresEventStore) initTables() error {
	query := `
    CREATE TABLE IF NOT EXISTS processed_webhook_events (
        event_id VARCHAR(255) PRIMARY KEY,
        processed_at TIMESTAMP NOT NULL DEFAULT NOW()
    )`
	_, err := s.db.Exec(query)
	return err
}

// MarkProcessed claims an event ID. It returns false when another
// delivery already claimed it.
func (s *PostgresEventStore) MarkProcessed(eventID string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO processed_webhook_events (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING`,
		eventID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s processed: %w", eventID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Release drops a claim after a failed handler run, so the next
// redelivery of the event gets applied instead of skipped.
func (s *PostgresEventStore) Release(eventID string) error {
	_, err := s.db.Exec(
		`DELETE FROM processed_webhook_events WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to release event %s: %w", eventID, err)
	}
	return nil
}

func (s *PostgresEventStore) Close() error {
	return s.db.Close()
}
