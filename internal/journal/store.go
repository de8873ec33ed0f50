package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tradedesk/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store persists journal entries and trade records in SQLite. One desk, one
// file; the single-connection pool serializes writers so concurrent agents
// cannot interleave partial writes.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS journal_entries (
		id          TEXT PRIMARY KEY,
		timestamp   DATETIME NOT NULL,
		title       TEXT NOT NULL,
		summary     TEXT,
		tags        TEXT,
		sentiment   TEXT,
		symbol      TEXT,
		agent_id    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_journal_time ON journal_entries(timestamp);

	CREATE TABLE IF NOT EXISTS trades (
		id           TEXT PRIMARY KEY,
		timestamp    DATETIME NOT NULL,
		symbol       TEXT NOT NULL,
		direction    TEXT NOT NULL,
		entry        REAL,
		exit         REAL,
		quantity     REAL,
		risk_percent REAL,
		pnl          REAL,
		status       TEXT NOT NULL,
		playbook     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// AppendEntry saves one journal entry and returns its ID. Zero-value ID and
// timestamp are filled in here so callers can hand over drafts as-is.
func (s *Store) AppendEntry(ctx context.Context, entry domain.JournalEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	tags := ""
	if len(entry.Tags) > 0 {
		raw, err := json.Marshal(entry.Tags)
		if err != nil {
			return "", fmt.Errorf("encode tags: %w", err)
		}
		tags = string(raw)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_entries (id, timestamp, title, summary, tags, sentiment, symbol, agent_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp, entry.Title, entry.Summary, tags, entry.Sentiment, entry.Symbol, entry.AgentID,
	)
	if err != nil {
		return "", err
	}
	s.logger.Debug("journal entry saved", "id", entry.ID, "agent", entry.AgentID)
	return entry.ID, nil
}

// Entries returns the newest entries first.
func (s *Store) Entries(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, title, summary, tags, sentiment, symbol, agent_id
		 FROM journal_entries ORDER BY timestamp DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var tags string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Title, &e.Summary, &tags,
			&e.Sentiment, &e.Symbol, &e.AgentID); err != nil {
			return nil, err
		}
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
				s.logger.Warn("corrupt tags column", "id", e.ID, "error", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordTrade saves one trade record and returns its ID.
func (s *Store) RecordTrade(ctx context.Context, trade domain.TradeRecord) (string, error) {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if trade.Timestamp.IsZero() {
		trade.Timestamp = time.Now().UTC()
	}
	if trade.Status == "" {
		trade.Status = "open"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, timestamp, symbol, direction, entry, exit, quantity, risk_percent, pnl, status, playbook)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.Timestamp, trade.Symbol, trade.Direction, trade.Entry, trade.Exit,
		trade.Quantity, trade.RiskPercent, trade.PnL, trade.Status, trade.Playbook,
	)
	if err != nil {
		return "", err
	}
	s.logger.Debug("trade recorded", "id", trade.ID, "symbol", trade.Symbol, "status", trade.Status)
	return trade.ID, nil
}

// CloseTrade marks a trade closed with its exit price and realized PnL.
func (s *Store) CloseTrade(ctx context.Context, id string, exit, pnl float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trades SET status='closed', exit=?, pnl=? WHERE id=?`, exit, pnl, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("trade %s not found", id)
	}
	return nil
}

// RecentTrades returns the newest trades first.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, symbol, direction, entry, exit, quantity, risk_percent, pnl, status, playbook
		 FROM trades ORDER BY timestamp DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.Symbol, &t.Direction, &t.Entry, &t.Exit,
			&t.Quantity, &t.RiskPercent, &t.PnL, &t.Status, &t.Playbook); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CountTradesSince counts trades opened at or after the cutoff. The risk
// evaluator's per-day counter comes from here.
func (s *Store) CountTradesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE timestamp >= ?`, since,
	).Scan(&n)
	return n, err
}

// RealizedPnLSince sums closed-trade PnL from the cutoff onward. Open trades
// do not count toward realized loss caps.
func (s *Store) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	var pnl float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE status = 'closed' AND timestamp >= ?`, since,
	).Scan(&pnl)
	return pnl, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
