package allocation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// Target count modes.
const (
	NumPerSubmission = "submission"
	NumPerReviewer   = "reviewer"
)

var (
	// ErrInvalidSettings indicates the allocation settings failed validation.
	ErrInvalidSettings = errors.New("invalid allocation settings")
	// ErrNoReviewers indicates nobody is eligible to review.
	ErrNoReviewers = errors.New("no eligible reviewers")
	// ErrSelfAssessmentDisabled indicates self-assessment edges were requested on a workshop that does not allow them.
	ErrSelfAssessmentDisabled = errors.New("self-assessment is not enabled for this workshop")
)

// RandomSettings configures one random allocation run.
type RandomSettings struct {
	NumOfReviews            int    `json:"num_of_reviews" validate:"gte=0,lte=30"`
	NumPer                  string `json:"num_per" validate:"required,oneof=submission reviewer"`
	ExcludeSameGroup        bool   `json:"exclude_same_group"`
	RemoveCurrent           bool   `json:"remove_current"`
	AssessWithoutSubmission bool   `json:"assess_without_submission"`
	AddSelfAssessment       bool   `json:"add_self_assessment"`
}

// DefaultRandomSettings mirrors the allocation form defaults.
func DefaultRandomSettings() RandomSettings {
	return RandomSettings{NumOfReviews: 5, NumPer: NumPerSubmission}
}

// Validate checks the settings against their constraints.
func (s RandomSettings) Validate(validate *validator.Validate) error {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if s.NumOfReviews == 0 && !s.AddSelfAssessment {
		return fmt.Errorf("%w: num_of_reviews must be positive unless only self-assessments are added", ErrInvalidSettings)
	}
	return nil
}

// ToJSONMap converts the settings for storage on a scheduled allocation.
func (s RandomSettings) ToJSONMap() datatypes.JSONMap {
	raw, _ := json.Marshal(s)
	out := datatypes.JSONMap{}
	_ = json.Unmarshal(raw, &out)
	return out
}

// SettingsFromJSONMap restores stored settings, falling back to defaults for missing keys.
func SettingsFromJSONMap(stored datatypes.JSONMap) (RandomSettings, error) {
	settings := DefaultRandomSettings()
	if len(stored) == 0 {
		return settings, nil
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return RandomSettings{}, err
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return RandomSettings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return settings, nil
}
