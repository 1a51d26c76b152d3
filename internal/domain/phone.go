package domain

import (
	"fmt"
	"regexp"
	"strings"
)

const DefaultCountryCode = "255"

var subscriberPattern = regexp.MustCompile(`^[67]\d{8}$`)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// PhoneFormat normalizes subscriber numbers for one country. Canonical form is
// the country code followed by the subscriber number, with no '+' and no
// leading trunk '0'.
type PhoneFormat struct {
	CountryCode string
}

func NewPhoneFormat(countryCode string) PhoneFormat {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return PhoneFormat{CountryCode: strings.TrimPrefix(countryCode, "+")}
}

func (f PhoneFormat) Normalize(raw string) (string, error) {
	s := phoneSeparators.Replace(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "+")

	var subscriber string
	switch {
	case strings.HasPrefix(s, "00"+f.CountryCode):
		subscriber = strings.TrimPrefix(s, "00"+f.CountryCode)
	case strings.HasPrefix(s, f.CountryCode) && len(s) == len(f.CountryCode)+9:
		subscriber = strings.TrimPrefix(s, f.CountryCode)
	case strings.HasPrefix(s, "0"):
		subscriber = strings.TrimPrefix(s, "0")
	default:
		subscriber = s
	}

	if !subscriberPattern.MatchString(subscriber) {
		return "", fmt.Errorf("Normalize: %q: %w", raw, ErrInvalidPhone)
	}
	return f.CountryCode + subscriber, nil
}

// NormalizePhone normalizes raw using the default country code.
func NormalizePhone(raw string) (string, error) {
	return NewPhoneFormat(DefaultCountryCode).Normalize(raw)
}
