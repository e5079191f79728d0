package lesson

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownUnit is returned when a grade has no unit with the requested ID.
var ErrUnknownUnit = errors.New("lesson: unknown unit")

//go:embed curriculum.yaml
var defaultCurriculum string

// Unit is one thematic block of the curriculum.
type Unit struct {
	ID         int      `yaml:"id"         json:"id"`
	Title      string   `yaml:"title"      json:"title"`
	Vocabulary []string `yaml:"vocabulary" json:"vocabulary"`
	Phonics    []string `yaml:"phonics"    json:"phonics"`
	Math       []string `yaml:"math"       json:"math"`
	Structure  []string `yaml:"structure"  json:"structure,omitempty"`
	Skills     []string `yaml:"skills"     json:"skills,omitempty"`
}

// Curriculum maps each grade to its ordered units.
type Curriculum struct {
	grades map[Grade][]Unit
}

type curriculumFile struct {
	Grades map[Grade][]Unit `yaml:"grades"`
}

// DefaultCurriculum returns the curriculum compiled into the binary.
func DefaultCurriculum() *Curriculum {
	c, err := ParseCurriculum(strings.NewReader(defaultCurriculum))
	if err != nil {
		panic(fmt.Sprintf("lesson: embedded curriculum is invalid: %v", err))
	}
	return c
}

// LoadCurriculum reads a curriculum YAML file from path.
func LoadCurriculum(path string) (*Curriculum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lesson: open curriculum %q: %w", path, err)
	}
	defer f.Close()
	return ParseCurriculum(f)
}

// ParseCurriculum decodes and validates curriculum YAML from r. Unknown keys
// are rejected.
func ParseCurriculum(r io.Reader) (*Curriculum, error) {
	var file curriculumFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("lesson: decode curriculum: %w", err)
	}

	var errs []error
	for grade, units := range file.Grades {
		if _, err := ParseGrade(string(grade)); err != nil {
			errs = append(errs, err)
			continue
		}
		seen := make(map[int]bool, len(units))
		for i, u := range units {
			if u.ID <= 0 {
				errs = append(errs, fmt.Errorf("lesson: %s unit[%d]: id must be positive", grade, i))
			}
			if seen[u.ID] {
				errs = append(errs, fmt.Errorf("lesson: %s unit[%d]: duplicate id %d", grade, i, u.ID))
			}
			seen[u.ID] = true
			if u.Title == "" {
				errs = append(errs, fmt.Errorf("lesson: %s unit[%d]: title is required", grade, i))
			}
			if len(u.Vocabulary) == 0 {
				errs = append(errs, fmt.Errorf("lesson: %s unit[%d]: vocabulary is required", grade, i))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Curriculum{grades: file.Grades}, nil
}

// Units returns the units for grade in curriculum order.
func (c *Curriculum) Units(grade Grade) []Unit {
	return append([]Unit(nil), c.grades[grade]...)
}

// Unit returns the unit with the given ID, or [ErrUnknownUnit].
func (c *Curriculum) Unit(grade Grade, id int) (Unit, error) {
	for _, u := range c.grades[grade] {
		if u.ID == id {
			return u, nil
		}
	}
	return Unit{}, fmt.Errorf("%w: %s unit %d", ErrUnknownUnit, grade, id)
}
