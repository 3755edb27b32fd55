package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jkristofgh/TradeAssist-sub001/internal/alertlog"
	"github.com/jkristofgh/TradeAssist-sub001/internal/dispatch"
	"github.com/jkristofgh/TradeAssist-sub001/internal/engine"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS alert_outcomes (
        id           BIGSERIAL PRIMARY KEY,
        event_id     TEXT,
        status       TEXT NOT NULL,
        rule_id      TEXT NOT NULL,
        symbol       TEXT NOT NULL,
        trigger_value NUMERIC NOT NULL,
        threshold    NUMERIC NOT NULL,
        condition    TEXT NOT NULL,
        error        TEXT,
        evaluated_at TIMESTAMPTZ NOT NULL,
        latency_us   BIGINT NOT NULL,
        created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS alert_outcomes_evaluated_at_idx ON alert_outcomes (evaluated_at);
    CREATE TABLE IF NOT EXISTS alert_deliveries (
        id           BIGSERIAL PRIMARY KEY,
        event_id     TEXT NOT NULL,
        channel      TEXT NOT NULL,
        status       TEXT NOT NULL,
        attempts     INT NOT NULL,
        reason       TEXT,
        started_at   TIMESTAMPTZ NOT NULL,
        completed_at TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS alert_deliveries_event_idx ON alert_deliveries (event_id);`

	insertOutcomeSQL = `INSERT INTO alert_outcomes (
        event_id, status, rule_id, symbol, trigger_value, threshold, condition, error, evaluated_at, latency_us
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`

	insertDeliverySQL = `INSERT INTO alert_deliveries (
        event_id, channel, status, attempts, reason, started_at, completed_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7);`

	listRecentOutcomesSQL = `SELECT
        event_id, status, rule_id, symbol, trigger_value, threshold, condition, error, evaluated_at, latency_us
    FROM alert_outcomes
    ORDER BY evaluated_at DESC
    LIMIT $1;`

	listOutcomesBetweenSQL = `SELECT
        event_id, status, rule_id, symbol, trigger_value, threshold, condition, error, evaluated_at, latency_us
    FROM alert_outcomes
    WHERE evaluated_at >= $1
      AND evaluated_at < $2
    ORDER BY evaluated_at;`

	listDeliveriesSQL = `SELECT
        event_id, channel, status, attempts, reason, started_at, completed_at
    FROM alert_deliveries
    WHERE event_id = $1
    ORDER BY channel;`
)

// Store persists and queries alert log entries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the alert log tables when missing. There is no
// separate migration step.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, createSchemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

// WriteEntry appends an alert log entry and its delivery records. Implements
// alertlog.Sink.
func (s *Store) WriteEntry(ctx context.Context, entry alertlog.Entry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var eventID interface{}
	if entry.EventID != "" {
		eventID = entry.EventID
	}
	var errMsg interface{}
	if entry.Error != "" {
		errMsg = entry.Error
	}

	if _, execErr := pool.Exec(ctx, insertOutcomeSQL,
		eventID,
		string(entry.Status),
		entry.RuleID,
		entry.Symbol,
		entry.Value.String(),
		entry.Threshold.String(),
		entry.Condition,
		errMsg,
		entry.EvaluatedAt,
		entry.Latency.Microseconds(),
	); execErr != nil {
		return fmt.Errorf("insert alert outcome: %w", execErr)
	}

	for _, delivery := range entry.Deliveries {
		var reason interface{}
		if delivery.Reason != "" {
			reason = delivery.Reason
		}
		if _, execErr := pool.Exec(ctx, insertDeliverySQL,
			delivery.EventID,
			delivery.Channel,
			string(delivery.Status),
			delivery.Attempts,
			reason,
			delivery.StartedAt,
			delivery.CompletedAt,
		); execErr != nil {
			return fmt.Errorf("insert delivery record: %w", execErr)
		}
	}
	return nil
}

var _ alertlog.Sink = (*Store)(nil)

// ListRecentEntries returns the latest alert outcomes, newest first.
func (s *Store) ListRecentEntries(ctx context.Context, limit int) ([]alertlog.Entry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOutcomesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent outcomes: %w", queryErr)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListEntriesBetween returns outcomes within [from, to), oldest first.
func (s *Store) ListEntriesBetween(ctx context.Context, from, to time.Time) ([]alertlog.Entry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOutcomesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list outcomes between: %w", queryErr)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListDeliveries returns the delivery records for one alert event.
func (s *Store) ListDeliveries(ctx context.Context, eventID string) ([]dispatch.DeliveryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDeliveriesSQL, eventID)
	if queryErr != nil {
		return nil, fmt.Errorf("list deliveries: %w", queryErr)
	}
	defer rows.Close()

	records := make([]dispatch.DeliveryRecord, 0)
	for rows.Next() {
		var (
			rec    dispatch.DeliveryRecord
			status string
			reason sql.NullString
		)
		if err := rows.Scan(
			&rec.EventID,
			&rec.Channel,
			&status,
			&rec.Attempts,
			&reason,
			&rec.StartedAt,
			&rec.CompletedAt,
		); err != nil {
			return nil, err
		}
		rec.Status = dispatch.DeliveryStatus(status)
		if reason.Valid {
			rec.Reason = reason.String
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanEntries(rows pgx.Rows) ([]alertlog.Entry, error) {
	entries := make([]alertlog.Entry, 0)
	for rows.Next() {
		var (
			entry     alertlog.Entry
			eventID   sql.NullString
			status    string
			valueStr  string
			threshStr string
			errMsg    sql.NullString
			latencyUS int64
		)
		if err := rows.Scan(
			&eventID,
			&status,
			&entry.RuleID,
			&entry.Symbol,
			&valueStr,
			&threshStr,
			&entry.Condition,
			&errMsg,
			&entry.EvaluatedAt,
			&latencyUS,
		); err != nil {
			return nil, err
		}

		entry.Status = engine.OutcomeStatus(status)
		if eventID.Valid {
			entry.EventID = eventID.String
		}
		if errMsg.Valid {
			entry.Error = errMsg.String
		}
		entry.Latency = time.Duration(latencyUS) * time.Microsecond

		var convErr error
		entry.Value, convErr = decimal.NewFromString(valueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse trigger value: %w", convErr)
		}
		entry.Threshold, convErr = decimal.NewFromString(threshStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse threshold: %w", convErr)
		}

		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}
