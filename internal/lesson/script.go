package lesson

import (
	"errors"
	"fmt"
	"strings"
)

// Stage is one step of a lesson, in teaching order.
type Stage int

// Lesson stages in the order they are taught.
const (
	StageWarmUp Stage = iota
	StageVocabulary
	StagePronunciation
	StagePhonics
	StageSong
	StageActivity
	StageRevision

	stageCount
)

var stageInfo = [stageCount]struct{ key, label string }{
	StageWarmUp:        {"warm_up", "Warm Up"},
	StageVocabulary:    {"vocabulary", "Words"},
	StagePronunciation: {"pronunciation", "Speak"},
	StagePhonics:       {"phonics", "Sounds"},
	StageSong:          {"song", "Song"},
	StageActivity:      {"activity", "Play"},
	StageRevision:      {"revision", "Done"},
}

// Stages returns every stage in teaching order.
func Stages() []Stage {
	out := make([]Stage, stageCount)
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}

// Valid reports whether s names a real stage.
func (s Stage) Valid() bool { return s >= 0 && s < stageCount }

// Last reports whether s is the final stage of a lesson.
func (s Stage) Last() bool { return s == stageCount-1 }

// Key returns the stable snake_case identifier.
func (s Stage) Key() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageInfo[s].key
}

// Label returns the short child-facing name.
func (s Stage) Label() string {
	if !s.Valid() {
		return ""
	}
	return stageInfo[s].label
}

// String implements fmt.Stringer.
func (s Stage) String() string { return s.Key() }

// Script is the generated teacher text for each stage of one unit. The JSON
// names match the schema the model is asked to produce.
type Script struct {
	WarmUp        string `json:"warmUp"`
	Vocabulary    string `json:"vocabulary"`
	Pronunciation string `json:"pronunciation"`
	Phonics       string `json:"phonics"`
	Song          string `json:"song"`
	Activity      string `json:"activity"`
	Revision      string `json:"revision"`
}

// Text returns the script text for stage, or "" for an invalid stage.
func (s *Script) Text(stage Stage) string {
	switch stage {
	case StageWarmUp:
		return s.WarmUp
	case StageVocabulary:
		return s.Vocabulary
	case StagePronunciation:
		return s.Pronunciation
	case StagePhonics:
		return s.Phonics
	case StageSong:
		return s.Song
	case StageActivity:
		return s.Activity
	case StageRevision:
		return s.Revision
	}
	return ""
}

// Validate checks that every stage has text.
func (s *Script) Validate() error {
	var errs []error
	for _, st := range Stages() {
		if strings.TrimSpace(s.Text(st)) == "" {
			errs = append(errs, fmt.Errorf("stage %s is empty", st.Key()))
		}
	}
	return errors.Join(errs...)
}
