package subscription

import "strings"

// Benefit types grantable through promo codes.
const (
	BenefitLifetime = "lifetime"
)

// Benefit describes what a promo code grants.
type Benefit struct {
	Type string `json:"type"`
}

// promoRegistry is the closed registry of known promo codes. Keys are stored
// upper-case; lookup is case-insensitive.
var promoRegistry = map[string]Benefit{
	"TESTING2025":   {Type: BenefitLifetime},
	"FOUNDERS":      {Type: BenefitLifetime},
	"POLYGLOT-VIP":  {Type: BenefitLifetime},
	"TEAMSPEAKLOOP": {Type: BenefitLifetime},
}

// ResolvePromo resolves a promo code to its benefit. The returned code is the
// canonical registry spelling. Unknown or empty codes yield
// ErrInvalidPromoCode.
func ResolvePromo(code string) (string, Benefit, error) {
	canonical := strings.ToUpper(strings.TrimSpace(code))
	if canonical == "" {
		return "", Benefit{}, ErrInvalidPromoCode
	}
	benefit, ok := promoRegistry[canonical]
	if !ok {
		return "", Benefit{}, ErrInvalidPromoCode
	}
	return canonical, benefit, nil
}
