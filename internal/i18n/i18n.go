// Package i18n resolves builtin category labels for the configured language.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const keyPrefix = "category."

// supported lists the catalog languages; the first one is the fallback.
var supported = []language.Tag{language.English, language.German, language.Hungarian}

var translations = map[language.Tag]map[string]string{
	language.English: {
		"games":     "Games",
		"music":     "Music",
		"news":      "News",
		"tutorials": "Tutorials",
		"youtuber":  "YouTuber",
		"for_kids":  "For Kids",
	},
	language.German: {
		"games":     "Spiele",
		"music":     "Musik",
		"news":      "Nachrichten",
		"tutorials": "Anleitungen",
		"youtuber":  "YouTuber",
		"for_kids":  "Für Kinder",
	},
	language.Hungarian: {
		"games":     "Játékok",
		"music":     "Zene",
		"news":      "Hírek",
		"tutorials": "Oktatóanyagok",
		"youtuber":  "YouTuber",
		"for_kids":  "Gyerekeknek",
	},
}

// Translator turns builtin label keys into display strings.
type Translator struct {
	printer *message.Printer
}

// New returns a Translator for lang (a BCP 47 tag such as "de" or "en-GB").
// Unsupported languages fall back to English.
func New(lang string) *Translator {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range translations {
		for key, msg := range msgs {
			// keys and messages are static; SetString only fails on malformed tags
			_ = b.SetString(tag, keyPrefix+key, msg)
		}
	}
	_, idx, _ := language.NewMatcher(supported).Match(language.Make(lang))
	tag := supported[idx]
	return &Translator{printer: message.NewPrinter(tag, message.Catalog(b))}
}

// Translate returns the label for a builtin category key. Unknown keys are
// returned unchanged.
func (t *Translator) Translate(key string) string {
	out := t.printer.Sprintf(keyPrefix + key)
	if out == keyPrefix+key {
		return key
	}
	return out
}
