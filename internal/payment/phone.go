// internal/payment/phone.go
package payment

import (
	"fmt"
	"regexp"
	"strings"
)

// Zambian mobile money numbering: an optional country prefix (+260, 260) or a
// trunk 0, then a two digit network prefix and seven subscriber digits.
var providerPatterns = map[Provider]*regexp.Regexp{
	ProviderMTN:    regexp.MustCompile(`^(?:\+?260|0)?(96|76)\d{7}$`),
	ProviderAirtel: regexp.MustCompile(`^(?:\+?260|0)?(97|77)\d{7}$`),
	ProviderZamtel: regexp.MustCompile(`^(?:\+?260|0)?(95|75)\d{7}$`),
}

func (p Provider) Valid() bool {
	_, ok := providerPatterns[p]
	return ok
}

// NormalizePhone validates phone against the provider's numbering plan and
// returns it in international form without the plus sign (260XXXXXXXXX).
func NormalizePhone(provider Provider, phone string) (string, error) {
	pattern, ok := providerPatterns[provider]
	if !ok {
		return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidPhoneNumber, provider)
	}
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	m := pattern.FindStringSubmatch(cleaned)
	if m == nil {
		return "", fmt.Errorf("%w: %s number expected", ErrInvalidPhoneNumber, provider)
	}
	subscriber := cleaned[len(cleaned)-9:]
	return "260" + subscriber, nil
}
