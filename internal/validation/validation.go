package validation

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/siohaza/tapserv/internal/protocol"
)

const (
	PlayerNameLen     = 16
	DefaultPlayerName = "player"
)

// SanitizeName normalizes to NFC, drops control and format characters, collapses
// whitespace and caps the result at PlayerNameLen runes.
func SanitizeName(name string) string {
	name = norm.NFC.String(name)

	var b strings.Builder
	n := 0
	space := false
	for _, r := range name {
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if r == unicode.ReplacementChar || unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		if space {
			if n+1 >= PlayerNameLen {
				break
			}
			b.WriteByte(' ')
			n++
			space = false
		}
		b.WriteRune(r)
		n++
		if n >= PlayerNameLen {
			break
		}
	}

	if b.Len() == 0 {
		return DefaultPlayerName
	}
	return b.String()
}

func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func IsFiniteVector(v protocol.Vector2f) bool {
	return IsFinite(v.X) && IsFinite(v.Y)
}
