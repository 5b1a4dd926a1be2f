package campaign

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// DefaultCodePrefix is the prefix of generated room codes.
	DefaultCodePrefix = "DRGN"
	// LobbyCode names the room used when a join carries no code.
	LobbyCode = "LOBBY"

	codeSuffixLen = 4
	maxCodeRunes  = 64
	codeAlphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// ErrInvalidCode reports a room code that cannot name a room.
var ErrInvalidCode = errors.New("campaign: invalid room code")

var upper = cases.Upper(language.Und)

// NormalizeCode trims and upper-cases a room code so that codes typed by
// hand match generated ones.
func NormalizeCode(raw string) string {
	return upper.String(strings.TrimSpace(raw))
}

// ValidateCode checks a normalised code: non-empty, bounded, and free of
// whitespace and control characters.
func ValidateCode(code string) error {
	if code == "" {
		return ErrInvalidCode
	}
	if utf8.RuneCountInString(code) > maxCodeRunes {
		return ErrInvalidCode
	}
	for _, r := range code {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrInvalidCode
		}
	}
	return nil
}

// GenerateCode returns a fresh code in the form PREFIX-XXXX.
func GenerateCode(prefix string) string {
	prefix = NormalizeCode(prefix)
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	id := uuid.New()
	var suffix [codeSuffixLen]byte
	for i := range suffix {
		suffix[i] = codeAlphabet[int(id[i])%len(codeAlphabet)]
	}
	return prefix + "-" + string(suffix[:])
}
