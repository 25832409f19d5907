package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shipsplit/shipsplit/internal/experiment"
)

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tests (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    test_type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    variants TEXT NOT NULL,
    rules TEXT,
    exploration_rate REAL NOT NULL DEFAULT 0,
    attribution_window_secs INTEGER NOT NULL DEFAULT 0,
    mutually_exclusive TEXT,
    winner_variant TEXT,
    start_at INTEGER,
    end_at INTEGER,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_tests_tenant ON tests(tenant_id);
CREATE INDEX IF NOT EXISTS idx_tests_status ON tests(status);

CREATE TABLE IF NOT EXISTS assignments (
    tenant_id TEXT NOT NULL,
    test_id TEXT NOT NULL,
    visitor_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    assigned_at INTEGER NOT NULL,
    expired_at INTEGER,
    PRIMARY KEY (tenant_id, test_id, visitor_id)
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id TEXT NOT NULL,
    test_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    visitor_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    value REAL NOT NULL DEFAULT 0,
    dedup_key TEXT,
    quarantined INTEGER NOT NULL DEFAULT 0,
    occurred_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_test ON events(test_id, event_type);
CREATE INDEX IF NOT EXISTS idx_events_visitor ON events(test_id, visitor_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedup ON events(dedup_key) WHERE dedup_key IS NOT NULL AND dedup_key != '';

CREATE TABLE IF NOT EXISTS bandit_arms (
    test_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    trials INTEGER NOT NULL DEFAULT 0,
    rewards REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (test_id, variant_id)
);

CREATE TABLE IF NOT EXISTS orders (
    order_id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    revenue REAL NOT NULL,
    placed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id, placed_at);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTest(ctx context.Context, t *experiment.Test) error {
	variantsJSON, err := json.Marshal(t.Variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants: %w", err)
	}
	rulesJSON, err := json.Marshal(t.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}
	exclusiveJSON, err := json.Marshal(t.MutuallyExclusive)
	if err != nil {
		return fmt.Errorf("failed to marshal exclusions: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tests (id, tenant_id, name, test_type, status, variants, rules,
		                    exploration_rate, attribution_window_secs, mutually_exclusive,
		                    winner_variant, start_at, end_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.Name, string(t.Type), string(t.Status),
		string(variantsJSON), string(rulesJSON),
		t.ExplorationRate, int64(t.AttributionWindow.Seconds()), string(exclusiveJSON),
		t.WinnerVariant, unixOrNull(t.StartAt), unixOrNull(t.EndAt), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert test: %w", err)
	}
	t.CreatedAt = time.Unix(now, 0)
	t.UpdatedAt = time.Unix(now, 0)
	return nil
}

func (s *SQLiteStore) GetTest(ctx context.Context, testID string) (*experiment.Test, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, test_type, status, variants, rules,
		        exploration_rate, attribution_window_secs, mutually_exclusive,
		        winner_variant, start_at, end_at, created_at, updated_at
		 FROM tests WHERE id = ?`, testID)
	return scanTest(row)
}

func (s *SQLiteStore) ListTests(ctx context.Context, tenantID string) ([]*experiment.Test, error) {
	query := `SELECT id, tenant_id, name, test_type, status, variants, rules,
	                 exploration_rate, attribution_window_secs, mutually_exclusive,
	                 winner_variant, start_at, end_at, created_at, updated_at
	          FROM tests`
	args := []any{}
	if tenantID != "" {
		query += " WHERE tenant_id = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	var tests []*experiment.Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

func (s *SQLiteStore) UpdateTestStatus(ctx context.Context, testID string, status experiment.Status, winnerVariant string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tests SET status = ?, winner_variant = ?, updated_at = unixepoch() WHERE id = ?`,
		string(status), winnerVariant, testID)
	if err != nil {
		return fmt.Errorf("failed to update test status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteTest(ctx context.Context, testID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tests WHERE id = ?`, testID)
	if err != nil {
		return fmt.Errorf("failed to delete test: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, tenantID, testID, visitorID string) (*experiment.Assignment, error) {
	var a experiment.Assignment
	var assignedAt int64
	var expiredAt sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, test_id, visitor_id, variant_id, assigned_at, expired_at
		 FROM assignments WHERE tenant_id = ? AND test_id = ? AND visitor_id = ?`,
		tenantID, testID, visitorID,
	).Scan(&a.TenantID, &a.TestID, &a.VisitorID, &a.VariantID, &assignedAt, &expiredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	a.AssignedAt = time.Unix(assignedAt, 0)
	if expiredAt.Valid {
		t := time.Unix(expiredAt.Int64, 0)
		a.ExpiredAt = &t
	}
	return &a, nil
}

// PutAssignmentIfAbsent inserts the assignment unless one already
// exists, then reads back whichever row won. Losing an insert race is
// harmless: the variant is a pure function of (test, visitor), so both
// racers computed the same one. The bool reports whether this call did
// the insert.
func (s *SQLiteStore) PutAssignmentIfAbsent(ctx context.Context, a *experiment.Assignment) (*experiment.Assignment, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO assignments (tenant_id, test_id, visitor_id, variant_id, assigned_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.TenantID, a.TestID, a.VisitorID, a.VariantID, a.AssignedAt.Unix())
	if err != nil {
		return nil, false, fmt.Errorf("failed to put assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	winner, err := s.GetAssignment(ctx, a.TenantID, a.TestID, a.VisitorID)
	if err != nil {
		return nil, false, err
	}
	if winner == nil {
		return nil, false, fmt.Errorf("assignment vanished after insert for test %s visitor %s", a.TestID, a.VisitorID)
	}
	return winner, n > 0, nil
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, events []experiment.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO events (tenant_id, test_id, variant_id, visitor_id, event_type, value, dedup_key, quarantined, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err := stmt.ExecContext(ctx,
			ev.TenantID, ev.TestID, ev.VariantID, ev.VisitorID,
			string(ev.Type), ev.Value, ev.DedupKey, boolToInt(ev.Quarantined), ev.OccurredAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ReadEvents(ctx context.Context, testID string, filter EventFilter) ([]experiment.Event, error) {
	query := `SELECT id, tenant_id, test_id, variant_id, visitor_id, event_type, value, dedup_key, quarantined, occurred_at
	          FROM events WHERE test_id = ?`
	args := []any{testID}

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += " AND event_type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if filter.VisitorID != "" {
		query += " AND visitor_id = ?"
		args = append(args, filter.VisitorID)
	}
	if !filter.Since.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, filter.Since.Unix())
	}
	if !filter.Until.IsZero() {
		query += " AND occurred_at <= ?"
		args = append(args, filter.Until.Unix())
	}
	if !filter.IncludeQuarantined {
		query += " AND quarantined = 0"
	}
	query += " ORDER BY occurred_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	defer rows.Close()

	var events []experiment.Event
	for rows.Next() {
		var ev experiment.Event
		var eventType string
		var dedupKey sql.NullString
		var quarantined int
		var occurredAt int64
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.TestID, &ev.VariantID, &ev.VisitorID,
			&eventType, &ev.Value, &dedupKey, &quarantined, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = experiment.EventType(eventType)
		ev.DedupKey = dedupKey.String
		ev.Quarantined = quarantined != 0
		ev.OccurredAt = time.Unix(occurredAt, 0)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) GetBanditArms(ctx context.Context, testID string) ([]experiment.BanditArm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT variant_id, trials, rewards FROM bandit_arms WHERE test_id = ?`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to read bandit arms: %w", err)
	}
	defer rows.Close()

	var arms []experiment.BanditArm
	for rows.Next() {
		var a experiment.BanditArm
		if err := rows.Scan(&a.VariantID, &a.Trials, &a.Rewards); err != nil {
			return nil, fmt.Errorf("failed to scan bandit arm: %w", err)
		}
		arms = append(arms, a)
	}
	return arms, rows.Err()
}

func (s *SQLiteStore) RecordTrial(ctx context.Context, testID, variantID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bandit_arms (test_id, variant_id, trials, rewards) VALUES (?, ?, 1, 0)
		 ON CONFLICT (test_id, variant_id) DO UPDATE SET trials = trials + 1`,
		testID, variantID)
	if err != nil {
		return fmt.Errorf("failed to record trial: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordReward(ctx context.Context, testID, variantID string, reward float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bandit_arms (test_id, variant_id, trials, rewards) VALUES (?, ?, 0, ?)
		 ON CONFLICT (test_id, variant_id) DO UPDATE SET rewards = rewards + excluded.rewards`,
		testID, variantID, reward)
	if err != nil {
		return fmt.Errorf("failed to record reward: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PutOrder(ctx context.Context, o *experiment.Order) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO orders (order_id, customer_id, revenue, placed_at) VALUES (?, ?, ?, ?)`,
		o.OrderID, o.CustomerID, o.Revenue, o.PlacedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to put order: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReadOrders(ctx context.Context, customerIDs []string, dateRange DateRange) ([]experiment.Order, error) {
	if len(customerIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(customerIDs))
	args := make([]any, 0, len(customerIDs)+2)
	for i, id := range customerIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := `SELECT order_id, customer_id, revenue, placed_at FROM orders
	          WHERE customer_id IN (` + strings.Join(placeholders, ", ") + `)`
	if !dateRange.From.IsZero() {
		query += " AND placed_at >= ?"
		args = append(args, dateRange.From.Unix())
	}
	if !dateRange.To.IsZero() {
		query += " AND placed_at <= ?"
		args = append(args, dateRange.To.Unix())
	}
	query += " ORDER BY placed_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	defer rows.Close()

	var orders []experiment.Order
	for rows.Next() {
		var o experiment.Order
		var placedAt int64
		if err := rows.Scan(&o.OrderID, &o.CustomerID, &o.Revenue, &placedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.PlacedAt = time.Unix(placedAt, 0)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTest(row scannable) (*experiment.Test, error) {
	var t experiment.Test
	var testType, status, variantsJSON string
	var rulesJSON, exclusiveJSON, winner sql.NullString
	var windowSecs int64
	var startAt, endAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&t.ID, &t.TenantID, &t.Name, &testType, &status, &variantsJSON, &rulesJSON,
		&t.ExplorationRate, &windowSecs, &exclusiveJSON, &winner, &startAt, &endAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan test: %w", err)
	}

	t.Type = experiment.TestType(testType)
	t.Status = experiment.Status(status)
	t.AttributionWindow = time.Duration(windowSecs) * time.Second
	t.WinnerVariant = winner.String
	if err := json.Unmarshal([]byte(variantsJSON), &t.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}
	if rulesJSON.Valid && rulesJSON.String != "" {
		if err := json.Unmarshal([]byte(rulesJSON.String), &t.Rules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
		}
	}
	if exclusiveJSON.Valid && exclusiveJSON.String != "" {
		if err := json.Unmarshal([]byte(exclusiveJSON.String), &t.MutuallyExclusive); err != nil {
			return nil, fmt.Errorf("failed to unmarshal exclusions: %w", err)
		}
	}
	if startAt.Valid {
		t.StartAt = time.Unix(startAt.Int64, 0)
	}
	if endAt.Valid {
		t.EndAt = time.Unix(endAt.Int64, 0)
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

func unixOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
