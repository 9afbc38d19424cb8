package i18n

import (
	"github.com/pkg/errors"
	"golang.org/x/text/language"
)

// Locale is a supported message language.
type Locale string

const (
	// English messages.
	English Locale = "en"
	// Ukrainian messages. Alert locations arrive in Ukrainian.
	Ukrainian Locale = "uk"
)

// SourceLocale is the language notifications are written in.
const SourceLocale = Ukrainian

// SupportedLocales lists every locale with a template set.
var SupportedLocales = []Locale{English, Ukrainian}

// ParseLocale resolves a language tag such as "en", "en-GB" or "uk-UA" to a supported locale.
func ParseLocale(s string) (Locale, error) {
	tag, err := language.Parse(s)
	if err != nil {
		return "", errors.Wrapf(err, "invalid locale %q", s)
	}

	base, _ := tag.Base()
	for _, locale := range SupportedLocales {
		if base.String() == string(locale) {
			return locale, nil
		}
	}

	return "", errors.Errorf("unsupported locale %q (supported: en, uk)", s)
}

// String returns the locale code.
func (l Locale) String() string {
	return string(l)
}
