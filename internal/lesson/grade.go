// Package lesson holds the classroom content model: grades, teaching modes,
// curriculum units, the seven-stage lesson script and the persona prompts
// that drive script generation, narration and live conversation.
package lesson

import (
	"fmt"
	"strings"
)

// Grade is a kindergarten year.
type Grade string

// Supported grades.
const (
	KG1 Grade = "KG1"
	KG2 Grade = "KG2"
)

// Grades lists every supported grade in display order.
func Grades() []Grade { return []Grade{KG1, KG2} }

// ParseGrade accepts "KG1"/"kg1" style names.
func ParseGrade(s string) (Grade, error) {
	g := Grade(strings.ToUpper(strings.TrimSpace(s)))
	switch g {
	case KG1, KG2:
		return g, nil
	}
	return "", fmt.Errorf("lesson: unknown grade %q", s)
}

// Mode selects the language the teacher explains in.
type Mode string

const (
	// ModeBilingual explains in Egyptian Arabic and teaches English words.
	ModeBilingual Mode = "bilingual"

	// ModeImmersion explains in simple English only.
	ModeImmersion Mode = "immersion"
)

// ParseMode accepts the canonical names plus the short aliases "ar" and "en".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bilingual", "ar", "ar-en":
		return ModeBilingual, nil
	case "immersion", "en", "english":
		return ModeImmersion, nil
	}
	return "", fmt.Errorf("lesson: unknown mode %q", s)
}

// Label returns the human-readable mode name.
func (m Mode) Label() string {
	switch m {
	case ModeBilingual:
		return "Bilingual (AR/EN)"
	case ModeImmersion:
		return "Immersion (EN Only)"
	}
	return string(m)
}
