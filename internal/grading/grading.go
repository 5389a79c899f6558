// Package grading implements the assessment form strategies that turn a filled
// form into a single grade. Strategies are pure: they never touch storage and
// always return the same result for the same form and answers.
package grading

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

var (
	// ErrUnknownStrategy indicates the workshop references a strategy that is not registered.
	ErrUnknownStrategy = errors.New("unknown grading strategy")
	// ErrInvalidForm indicates the form definition cannot produce a grade.
	ErrInvalidForm = errors.New("invalid assessment form")
	// ErrMissingAnswer indicates a dimension was left unanswered.
	ErrMissingAnswer = errors.New("missing answer for dimension")
	// ErrAnswerOutOfRange indicates an answer lies outside the dimension bounds.
	ErrAnswerOutOfRange = errors.New("answer out of range")
)

// Level is a selectable rubric level.
type Level struct {
	ID    uint
	Grade float64
}

// Dimension is one aspect of the form.
type Dimension struct {
	ID       uint
	MaxGrade float64
	Weight   int
	Levels   []Level
}

// Mapping converts a number of errors into a grade percentage.
type Mapping struct {
	Errors  int
	Percent float64
}

// Form is the full definition a strategy scores against.
type Form struct {
	Dimensions []Dimension
	Mappings   []Mapping
}

// Answer is what a reviewer filled in for one dimension. LevelID is only used by rubrics.
type Answer struct {
	DimensionID uint
	Grade       float64
	LevelID     uint
	Comment     string
}

// DimensionValue is the per-dimension value the caller persists.
type DimensionValue struct {
	DimensionID uint
	Grade       float64
	Comment     string
}

// Result is the outcome of scoring one assessment.
type Result struct {
	Percent    float64
	Grade      float64
	Dimensions []DimensionValue
}

// Strategy scores filled assessment forms.
type Strategy interface {
	Name() string
	Validate(form Form) error
	Score(form Form, answers []Answer, maxGrade float64) (Result, error)
}

var registry = map[string]Strategy{
	models.StrategyComments:     Comments{},
	models.StrategyAccumulative: Accumulative{},
	models.StrategyNumErrors:    NumErrors{},
	models.StrategyRubric:       Rubric{},
}

// ForStrategy resolves the persisted strategy tag to its implementation.
func ForStrategy(tag string) (Strategy, error) {
	strategy, ok := registry[strings.ToLower(strings.TrimSpace(tag))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, tag)
	}
	return strategy, nil
}

// FormFromModels builds a strategy form from persisted definitions.
func FormFromModels(dimensions []models.FormDimension, mappings []models.NumErrorsMapping) Form {
	form := Form{
		Dimensions: make([]Dimension, 0, len(dimensions)),
		Mappings:   make([]Mapping, 0, len(mappings)),
	}
	for _, d := range dimensions {
		dimension := Dimension{ID: d.ID, MaxGrade: d.MaxGrade, Weight: d.Weight}
		for _, level := range d.Levels {
			dimension.Levels = append(dimension.Levels, Level{ID: level.ID, Grade: level.Grade})
		}
		form.Dimensions = append(form.Dimensions, dimension)
	}
	for _, m := range mappings {
		form.Mappings = append(form.Mappings, Mapping{Errors: m.Errors, Percent: m.Percent})
	}
	return form
}

// Round5 rounds a grade to the five decimals grades are stored with.
func Round5(value float64) float64 {
	return math.Round(value*1e5) / 1e5
}

// Clamp bounds value to [lo, hi].
func Clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}

func finish(percent, maxGrade float64, values []DimensionValue) Result {
	percent = Clamp(percent, 0, 100)
	if maxGrade < 0 {
		maxGrade = 0
	}
	return Result{
		Percent:    Round5(percent),
		Grade:      Round5(Clamp(percent*maxGrade/100, 0, maxGrade)),
		Dimensions: values,
	}
}

func answersByDimension(answers []Answer) map[uint]Answer {
	indexed := make(map[uint]Answer, len(answers))
	for _, answer := range answers {
		indexed[answer.DimensionID] = answer
	}
	return indexed
}

func requireDimensions(form Form) error {
	if len(form.Dimensions) == 0 {
		return fmt.Errorf("%w: no dimensions defined", ErrInvalidForm)
	}
	return nil
}
