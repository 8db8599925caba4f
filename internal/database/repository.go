package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type AIUsage struct {
	ID               int       `json:"id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageTotals aggregates the ai_usage ledger.
type UsageTotals struct {
	Requests         int        `json:"requests"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	TotalTokens      int        `json:"total_tokens"`
	LastRequestAt    *time.Time `json:"last_request_at,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS ai_usage (
	id SERIAL PRIMARY KEY,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Ledger records one row per successful generation call.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create ai_usage table: %w", err)
	}
	return nil
}

func (l *Ledger) LogAIUsage(ctx context.Context, u *AIUsage) error {
	query := `
		INSERT INTO ai_usage (provider, model, prompt_tokens, completion_tokens, total_tokens)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := l.db.QueryRowContext(ctx, query, u.Provider, u.Model, u.PromptTokens, u.CompletionTokens, u.TotalTokens).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ai_usage: %w", err)
	}
	return nil
}

func (l *Ledger) Totals(ctx context.Context) (UsageTotals, error) {
	var (
		t    UsageTotals
		last sql.NullTime
	)
	query := `
		SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(total_tokens), 0), MAX(created_at)
		FROM ai_usage
	`
	err := l.db.QueryRowContext(ctx, query).Scan(&t.Requests, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens, &last)
	if err != nil {
		return UsageTotals{}, fmt.Errorf("query ai_usage totals: %w", err)
	}
	if last.Valid {
		t.LastRequestAt = &last.Time
	}
	return t, nil
}

func (l *Ledger) Recent(ctx context.Context, limit int) ([]AIUsage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, "SELECT id, provider, model, prompt_tokens, completion_tokens, total_tokens, created_at FROM ai_usage ORDER BY created_at DESC, id DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("query ai_usage: %w", err)
	}
	defer rows.Close()

	var out []AIUsage
	for rows.Next() {
		var u AIUsage
		if err := rows.Scan(&u.ID, &u.Provider, &u.Model, &u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Clear removes every ledger row.
func (l *Ledger) Clear(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "DELETE FROM ai_usage")
	return err
}
