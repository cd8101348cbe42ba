package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speakloop/speakloop/app/models"
)

func TestResolvePromo(t *testing.T) {
	canonical, benefit, err := ResolvePromo("TESTING2025")
	require.NoError(t, err)
	assert.Equal(t, "TESTING2025", canonical)
	assert.Equal(t, BenefitLifetime, benefit.Type)

	// Case-insensitive with surrounding whitespace.
	canonical, _, err = ResolvePromo("  founders ")
	require.NoError(t, err)
	assert.Equal(t, "FOUNDERS", canonical)

	_, _, err = ResolvePromo("")
	assert.ErrorIs(t, err, ErrInvalidPromoCode)

	_, _, err = ResolvePromo("HALF-OFF")
	assert.ErrorIs(t, err, ErrInvalidPromoCode)
}

func TestNextBillingDate(t *testing.T) {
	from := time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, from.AddDate(0, 1, 0), NextBillingDate(models.SubscriptionPlanMonthly, from))
	assert.Equal(t, from.AddDate(1, 0, 0), NextBillingDate(models.SubscriptionPlanAnnual, from))
}
