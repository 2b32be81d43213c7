package rules

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

var detailsValidate = validator.New()

// Details is the documented payload of one alert type.
type Details interface {
	alertDetails()
}

type NullRateDetails struct {
	NullCount int64   `json:"null_count" validate:"gte=0"`
	RowCount  int64   `json:"row_count" validate:"gt=0"`
	NullRate  float64 `json:"null_rate" validate:"gte=0,lte=1"`
	Threshold float64 `json:"threshold" validate:"gte=0,lte=1"`
}

type RowCountGapDetails struct {
	RowCount       int64   `json:"row_count" validate:"gte=0"`
	Baseline       float64 `json:"baseline" validate:"gt=0"`
	RelativeGap    float64 `json:"relative_gap" validate:"gte=0"`
	MaxRelativeGap float64 `json:"max_relative_gap" validate:"gt=0"`
	Window         int     `json:"window" validate:"gt=0"`
	HistoryDays    int     `json:"history_days" validate:"gt=0"`
}

type ZScoreDetails struct {
	Bound  string  `json:"bound" validate:"oneof=max min"`
	Value  float64 `json:"value"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev" validate:"gt=0"`
	ZScore float64 `json:"z_score"`
	K      float64 `json:"k" validate:"gt=0"`
}

type ConstraintViolation struct {
	ConstraintID string `json:"constraint_id" validate:"required"`
	Expression   string `json:"expression"`
	Count        int64  `json:"count" validate:"gt=0"`
}

type ConstraintViolationDetails struct {
	ConstraintType  string                `json:"constraint_type" validate:"required"`
	TotalViolations int64                 `json:"total_violations" validate:"gt=0"`
	Violations      []ConstraintViolation `json:"violations" validate:"required,min=1,dive"`
}

// CustomDetails carries the payload of rules registered outside this package.
type CustomDetails struct {
	Values map[string]any `json:"values" validate:"required"`
}

func (*NullRateDetails) alertDetails()            {}
func (*RowCountGapDetails) alertDetails()         {}
func (*ZScoreDetails) alertDetails()              {}
func (*ConstraintViolationDetails) alertDetails() {}
func (*CustomDetails) alertDetails()              {}

func ValidateDetails(d Details) error {
	if d == nil {
		return errors.New("details are required")
	}
	return detailsValidate.Struct(d)
}

// EncodeDetails validates d and renders it as the stored document.
func EncodeDetails(d Details) (datatypes.JSONMap, error) {
	if err := ValidateDetails(d); err != nil {
		return nil, fmt.Errorf("invalid details: %w", err)
	}
	if c, ok := d.(*CustomDetails); ok {
		return datatypes.JSONMap(c.Values), nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	out := datatypes.JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
