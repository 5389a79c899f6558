package grading

import (
	"fmt"
	"sort"

	"github.com/noah-isme/gema-workshop-api/internal/models"
)

// Comments collects written feedback only. Every completed assessment is worth the full grade.
type Comments struct{}

func (Comments) Name() string { return models.StrategyComments }

func (Comments) Validate(form Form) error {
	return requireDimensions(form)
}

func (c Comments) Score(form Form, answers []Answer, maxGrade float64) (Result, error) {
	if err := c.Validate(form); err != nil {
		return Result{}, err
	}
	indexed := answersByDimension(answers)
	values := make([]DimensionValue, 0, len(form.Dimensions))
	for _, dimension := range form.Dimensions {
		values = append(values, DimensionValue{DimensionID: dimension.ID, Comment: indexed[dimension.ID].Comment})
	}
	return finish(100, maxGrade, values), nil
}

// Accumulative sums weighted per-criterion grades.
type Accumulative struct{}

func (Accumulative) Name() string { return models.StrategyAccumulative }

func (Accumulative) Validate(form Form) error {
	if err := requireDimensions(form); err != nil {
		return err
	}
	totalWeight := 0
	for _, dimension := range form.Dimensions {
		if dimension.MaxGrade <= 0 {
			return fmt.Errorf("%w: dimension %d has no maximum grade", ErrInvalidForm, dimension.ID)
		}
		if dimension.Weight < 0 {
			return fmt.Errorf("%w: dimension %d has a negative weight", ErrInvalidForm, dimension.ID)
		}
		totalWeight += dimension.Weight
	}
	if totalWeight == 0 {
		return fmt.Errorf("%w: all dimension weights are zero", ErrInvalidForm)
	}
	return nil
}

func (a Accumulative) Score(form Form, answers []Answer, maxGrade float64) (Result, error) {
	if err := a.Validate(form); err != nil {
		return Result{}, err
	}
	indexed := answersByDimension(answers)
	values := make([]DimensionValue, 0, len(form.Dimensions))

	var weighted float64
	var totalWeight int
	for _, dimension := range form.Dimensions {
		answer, ok := indexed[dimension.ID]
		if !ok {
			return Result{}, fmt.Errorf("%w: %d", ErrMissingAnswer, dimension.ID)
		}
		if answer.Grade < 0 || answer.Grade > dimension.MaxGrade {
			return Result{}, fmt.Errorf("%w: dimension %d accepts 0..%g, got %g", ErrAnswerOutOfRange, dimension.ID, dimension.MaxGrade, answer.Grade)
		}
		weighted += answer.Grade / dimension.MaxGrade * float64(dimension.Weight)
		totalWeight += dimension.Weight
		values = append(values, DimensionValue{DimensionID: dimension.ID, Grade: answer.Grade, Comment: answer.Comment})
	}

	return finish(weighted/float64(totalWeight)*100, maxGrade, values), nil
}

// NumErrors counts failed assertions and maps the weighted error count to a grade.
type NumErrors struct{}

func (NumErrors) Name() string { return models.StrategyNumErrors }

func (NumErrors) Validate(form Form) error {
	if err := requireDimensions(form); err != nil {
		return err
	}
	for _, dimension := range form.Dimensions {
		if dimension.Weight < 0 {
			return fmt.Errorf("%w: assertion %d has a negative weight", ErrInvalidForm, dimension.ID)
		}
	}
	for _, mapping := range form.Mappings {
		if mapping.Errors < 1 {
			return fmt.Errorf("%w: mapping for %d errors", ErrInvalidForm, mapping.Errors)
		}
	}
	return nil
}

func (n NumErrors) Score(form Form, answers []Answer, maxGrade float64) (Result, error) {
	if err := n.Validate(form); err != nil {
		return Result{}, err
	}
	indexed := answersByDimension(answers)
	values := make([]DimensionValue, 0, len(form.Dimensions))

	errorsCount := 0
	for _, dimension := range form.Dimensions {
		answer, ok := indexed[dimension.ID]
		if !ok {
			return Result{}, fmt.Errorf("%w: %d", ErrMissingAnswer, dimension.ID)
		}
		switch answer.Grade {
		case 0:
			errorsCount += dimension.Weight
		case 1:
		default:
			return Result{}, fmt.Errorf("%w: assertion %d accepts 0 or 1, got %g", ErrAnswerOutOfRange, dimension.ID, answer.Grade)
		}
		values = append(values, DimensionValue{DimensionID: dimension.ID, Grade: answer.Grade, Comment: answer.Comment})
	}

	return finish(n.errorsToPercent(form.Mappings, errorsCount), maxGrade, values), nil
}

// errorsToPercent walks the mappings from one error upward; a missing entry keeps the previous percentage.
func (NumErrors) errorsToPercent(mappings []Mapping, errorsCount int) float64 {
	byErrors := make(map[int]float64, len(mappings))
	for _, mapping := range mappings {
		byErrors[mapping.Errors] = mapping.Percent
	}
	percent := 100.0
	for i := 1; i <= errorsCount; i++ {
		if mapped, ok := byErrors[i]; ok {
			percent = mapped
		}
	}
	return percent
}

// Rubric selects one level per criterion and scales the sum between the lowest and highest reachable score.
type Rubric struct{}

func (Rubric) Name() string { return models.StrategyRubric }

func (Rubric) Validate(form Form) error {
	if err := requireDimensions(form); err != nil {
		return err
	}
	lowest, highest := rubricBounds(form)
	for _, dimension := range form.Dimensions {
		if len(dimension.Levels) == 0 {
			return fmt.Errorf("%w: criterion %d has no levels", ErrInvalidForm, dimension.ID)
		}
	}
	if highest <= lowest {
		return fmt.Errorf("%w: rubric levels do not span a grade range", ErrInvalidForm)
	}
	return nil
}

func (r Rubric) Score(form Form, answers []Answer, maxGrade float64) (Result, error) {
	if err := r.Validate(form); err != nil {
		return Result{}, err
	}
	indexed := answersByDimension(answers)
	values := make([]DimensionValue, 0, len(form.Dimensions))

	var sum float64
	for _, dimension := range form.Dimensions {
		answer, ok := indexed[dimension.ID]
		if !ok || answer.LevelID == 0 {
			return Result{}, fmt.Errorf("%w: %d", ErrMissingAnswer, dimension.ID)
		}
		level, found := findLevel(dimension.Levels, answer.LevelID)
		if !found {
			return Result{}, fmt.Errorf("%w: level %d does not belong to criterion %d", ErrAnswerOutOfRange, answer.LevelID, dimension.ID)
		}
		sum += level.Grade
		values = append(values, DimensionValue{DimensionID: dimension.ID, Grade: float64(level.ID), Comment: answer.Comment})
	}

	lowest, highest := rubricBounds(form)
	return finish((sum-lowest)/(highest-lowest)*100, maxGrade, values), nil
}

func rubricBounds(form Form) (float64, float64) {
	var lowest, highest float64
	for _, dimension := range form.Dimensions {
		if len(dimension.Levels) == 0 {
			continue
		}
		grades := make([]float64, 0, len(dimension.Levels))
		for _, level := range dimension.Levels {
			grades = append(grades, level.Grade)
		}
		sort.Float64s(grades)
		lowest += grades[0]
		highest += grades[len(grades)-1]
	}
	return lowest, highest
}

func findLevel(levels []Level, id uint) (Level, bool) {
	for _, level := range levels {
		if level.ID == id {
			return level, true
		}
	}
	return Level{}, false
}
