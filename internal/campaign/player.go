package campaign

import (
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"dragons-keep/server/internal/geometry"
)

const (
	// MaxBleedLevel caps the bleeding intensity a player can accumulate.
	MaxBleedLevel = 100
	// DefaultDisplayName is used when a participant joins without a name.
	DefaultDisplayName = "Player"

	maxDisplayNameRunes = 48
)

// Status is the set of independent injury effects on a player.
type Status struct {
	Blinded    bool `json:"blinded"`
	Flashed    bool `json:"flashed"`
	BleedLevel int  `json:"bleedLevel"`
}

// StatusPatch describes a partial status change. Nil fields are left alone.
// BleedLevel replaces the level; BleedDelta is added afterwards. The result is
// always clamped to [0, MaxBleedLevel].
type StatusPatch struct {
	Blinded    *bool
	Flashed    *bool
	BleedLevel *int
	BleedDelta int
}

// Empty reports whether the patch changes nothing.
func (p StatusPatch) Empty() bool {
	return p.Blinded == nil && p.Flashed == nil && p.BleedLevel == nil && p.BleedDelta == 0
}

// Apply returns s with the patch merged in.
func (s Status) Apply(p StatusPatch) Status {
	if p.Blinded != nil {
		s.Blinded = *p.Blinded
	}
	if p.Flashed != nil {
		s.Flashed = *p.Flashed
	}
	if p.BleedLevel != nil {
		s.BleedLevel = ClampBleed(*p.BleedLevel)
	}
	s.BleedLevel = ClampBleed(addBleed(s.BleedLevel, p.BleedDelta))
	return s
}

func addBleed(level, delta int) int {
	sum := int64(level) + int64(delta)
	if sum > MaxBleedLevel {
		return MaxBleedLevel
	}
	if sum < 0 {
		return 0
	}
	return int(sum)
}

// ClampBleed limits a bleed level to [0, MaxBleedLevel].
func ClampBleed(level int) int {
	if level < 0 {
		return 0
	}
	if level > MaxBleedLevel {
		return MaxBleedLevel
	}
	return level
}

// Player is the per-participant record inside a room.
type Player struct {
	ID             string        `json:"id"`
	DisplayName    string        `json:"displayName"`
	Position       geometry.Vec2 `json:"position"`
	MovementBudget float64       `json:"movementBudget"`
	Status         Status        `json:"status"`
}

// PlayerPatch merges client-reported fields into a player. Nil fields are
// left unchanged.
type PlayerPatch struct {
	DisplayName    *string
	Position       *geometry.Vec2
	MovementBudget *float64
	Status         *StatusPatch
}

func (p *Player) apply(patch PlayerPatch) {
	if patch.DisplayName != nil {
		if name := NormalizeDisplayName(*patch.DisplayName); name != "" {
			p.DisplayName = name
		}
	}
	if patch.Position != nil && patch.Position.Finite() {
		p.Position = *patch.Position
	}
	if patch.MovementBudget != nil {
		p.MovementBudget = clampBudget(*patch.MovementBudget, p.MovementBudget)
	}
	if patch.Status != nil {
		p.Status = p.Status.Apply(*patch.Status)
	}
}

// clampBudget keeps a budget non-negative. NaN keeps the previous value.
func clampBudget(value, previous float64) float64 {
	if math.IsNaN(value) {
		return previous
	}
	if value < 0 {
		return 0
	}
	return value
}

// NormalizeDisplayName trims, NFC-normalises, and truncates a display name.
func NormalizeDisplayName(raw string) string {
	name := strings.TrimSpace(norm.NFC.String(raw))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if utf8.RuneCountInString(name) <= maxDisplayNameRunes {
		return name
	}
	runes := []rune(name)
	return strings.TrimSpace(string(runes[:maxDisplayNameRunes]))
}
