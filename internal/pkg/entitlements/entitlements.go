package entitlements

import "github.com/speakloop/speakloop/app/models"

// Entitlements describes what a subscription status unlocks in the app.
type Entitlements struct {
	DailyLessonLimit int    `json:"daily_lesson_limit"`
	PremiumVoices    bool   `json:"premium_voices"`
	OfflinePacks     bool   `json:"offline_packs"`
	Tier             string `json:"tier"`
}

const (
	TierFree    = "free"
	TierPremium = "premium"
)

// UnlimitedLessons is the lesson limit for paying tiers.
const UnlimitedLessons = -1

// ForSubscription maps a subscription record to its entitlements. Trial,
// active and lifetime records get the full premium feature set; everything
// else falls back to the free tier, including payment_failed so a billing
// hiccup degrades access instead of locking the account.
func ForSubscription(sub *models.Subscription) Entitlements {
	if sub != nil && sub.IsSubscribed() {
		return Entitlements{
			DailyLessonLimit: UnlimitedLessons,
			PremiumVoices:    true,
			OfflinePacks:     true,
			Tier:             TierPremium,
		}
	}
	return Entitlements{
		DailyLessonLimit: 5,
		PremiumVoices:    false,
		OfflinePacks:     false,
		Tier:             TierFree,
	}
}
