package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		lang, key, want string
	}{
		{"en", "music", "Music"},
		{"en-GB", "for_kids", "For Kids"},
		{"de", "news", "Nachrichten"},
		{"de-AT", "games", "Spiele"},
		{"hu", "music", "Zene"},
		{"xx", "tutorials", "Tutorials"},
		{"de", "unknown_key", "unknown_key"},
	}
	for _, tt := range tests {
		tr := New(tt.lang)
		assert.Equal(t, tt.want, tr.Translate(tt.key), "%s/%s", tt.lang, tt.key)
	}
}
