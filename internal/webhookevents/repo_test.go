package webhookevents

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupMarkerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS webhook_events (
  event_id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func TestMarkerCreateAndExists(t *testing.T) {
	db := setupMarkerTestDB(t)
	repo := NewRepository(db)

	exists, err := repo.Exists(context.Background(), "stripe_pi_123")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Create(context.Background(), "stripe_pi_123", "payment_intent.succeeded"))

	exists, err = repo.Exists(context.Background(), "stripe_pi_123")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMarkerCreateRejectsDuplicate(t *testing.T) {
	db := setupMarkerTestDB(t)
	repo := NewRepository(db)

	require.NoError(t, repo.Create(context.Background(), "mpesa_ws_CO_1", "stk_callback"))

	err := repo.Create(context.Background(), "mpesa_ws_CO_1", "stk_callback")
	require.Error(t, err)
}
