package models

// FormDimension is one aspect of the assessment form: a criterion for
// accumulative grading, an assertion for number-of-errors, a rubric criterion
// or a comment field.
type FormDimension struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	WorkshopID  uint          `gorm:"not null;index" json:"workshop_id"`
	Sort        int           `gorm:"not null;default:0" json:"sort"`
	Description string        `gorm:"type:text" json:"description"`
	MaxGrade    float64       `gorm:"not null;default:0" json:"max_grade"`
	Weight      int           `gorm:"not null;default:1" json:"weight"`
	Levels      []RubricLevel `gorm:"foreignKey:DimensionID;constraint:OnDelete:CASCADE" json:"levels,omitempty"`
}

// RubricLevel is a selectable level of a rubric criterion.
type RubricLevel struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	DimensionID uint    `gorm:"not null;index" json:"dimension_id"`
	Grade       float64 `gorm:"not null" json:"grade"`
	Definition  string  `gorm:"type:text" json:"definition"`
}

// NumErrorsMapping converts a number of failed assertions into a grade percentage.
type NumErrorsMapping struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	WorkshopID uint    `gorm:"not null;uniqueIndex:idx_numerrors_mapping" json:"workshop_id"`
	Errors     int     `gorm:"not null;uniqueIndex:idx_numerrors_mapping" json:"errors"`
	Percent    float64 `gorm:"not null" json:"percent"`
}
