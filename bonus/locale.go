package bonus

import (
	"strings"
	"time"
)

// DefaultLocale is used for unknown or empty locales.
const DefaultLocale = "en"

var dateLayouts = map[string]string{
	"en": "Jan 2, 2006",
	"es": "02/01/2006",
	"de": "02.01.2006",
	"ru": "02.01.2006",
	"uz": "02.01.2006",
}

// NormalizeLocale maps "en-US", "RU" etc. to a supported base locale.
func NormalizeLocale(locale string) string {
	base := strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(base, "-_"); i >= 0 {
		base = base[:i]
	}
	if _, ok := dateLayouts[base]; ok {
		return base
	}
	return DefaultLocale
}

// DateLayout returns the display layout for payment dates in locale.
func DateLayout(locale string) string {
	return dateLayouts[NormalizeLocale(locale)]
}

// FormatPaymentDate renders t for display, or "" when t is nil.
func FormatPaymentDate(t *time.Time, locale string) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout(locale))
}

// FormatPaymentDateIn renders t as a calendar date in loc. A nil loc keeps
// t's own location.
func FormatPaymentDateIn(t *time.Time, locale string, loc *time.Location) string {
	if t == nil || loc == nil {
		return FormatPaymentDate(t, locale)
	}
	local := t.In(loc)
	return FormatPaymentDate(&local, locale)
}
