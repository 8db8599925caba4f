package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// openTestLedger connects to TEST_DB_URL; tests are skipped without it.
func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	url := os.Getenv("TEST_DB_URL")
	if url == "" {
		t.Skip("TEST_DB_URL not set; skipping PostgreSQL ledger tests")
	}
	ctx := context.Background()
	db, err := NewConnection(ctx, url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l := NewLedger(db)
	require.NoError(t, l.Migrate(ctx))
	require.NoError(t, l.Clear(ctx))
	return l
}

func TestLedger_LogAndTotals(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	empty, err := l.Totals(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Requests)
	assert.Nil(t, empty.LastRequestAt)

	u1 := &AIUsage{Provider: "gemini", Model: "gemini-2.5-flash", PromptTokens: 9, CompletionTokens: 21, TotalTokens: 30}
	u2 := &AIUsage{Provider: "gemini", Model: "gemini-2.5-flash", PromptTokens: 8, CompletionTokens: 12, TotalTokens: 20}
	require.NoError(t, l.LogAIUsage(ctx, u1))
	require.NoError(t, l.LogAIUsage(ctx, u2))
	assert.NotZero(t, u1.ID)
	assert.False(t, u1.CreatedAt.IsZero())

	totals, err := l.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, totals.Requests)
	assert.Equal(t, 17, totals.PromptTokens)
	assert.Equal(t, 33, totals.CompletionTokens)
	assert.Equal(t, 50, totals.TotalTokens)
	assert.NotNil(t, totals.LastRequestAt)

	recent, err := l.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, u2.ID, recent[0].ID)
}
