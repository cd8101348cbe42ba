package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speakloop/speakloop/app/models"
)

// All model column tags must be portable enough for SQLite to migrate; a
// dialect-specific type would break every database-backed test in setup.
func TestSetupTestDBMigratesAllModels(t *testing.T) {
	db := SetupTestDB(t)
	t.Cleanup(func() { CleanupTestDB(t, db) })

	user := TestUser(t, db, WithEmail("case.sensitive@example.com"))
	TestSubscription(t, db, user.ID)

	var stored models.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	assert.Equal(t, "case.sensitive@example.com", stored.Email)

	settings := &models.UserSettings{UserID: user.ID}
	require.NoError(t, db.Create(settings).Error)

	event := &models.GatewayWebhookEvent{EventID: "evt_migrate", EventType: "subscription.updated"}
	require.NoError(t, db.Create(event).Error)
}
