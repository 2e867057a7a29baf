// Package imc computes the body-mass index (IMC) used to personalise content.
package imc

import (
	"errors"

	"github.com/shopspring/decimal"
)

type Category string

const (
	Underweight Category = "underweight"
	Normal      Category = "normal"
	Overweight  Category = "overweight"
	Obese       Category = "obese"
)

var ErrInvalidMeasurements = errors.New("height and weight must be positive")

var (
	underweightLimit = decimal.RequireFromString("18.5")
	normalLimit      = decimal.NewFromInt(25)
	overweightLimit  = decimal.NewFromInt(30)
	hundred          = decimal.NewFromInt(100)
)

// Calculate returns weight / height² rounded to one decimal place.
func Calculate(heightCM, weightKG decimal.Decimal) (decimal.Decimal, error) {
	if !heightCM.IsPositive() || !weightKG.IsPositive() {
		return decimal.Zero, ErrInvalidMeasurements
	}
	h := heightCM.Div(hundred)
	return weightKG.Div(h.Mul(h)).Round(1), nil
}

// Classify maps an IMC value to its WHO adult category.
func Classify(value decimal.Decimal) Category {
	switch {
	case value.LessThan(underweightLimit):
		return Underweight
	case value.LessThan(normalLimit):
		return Normal
	case value.LessThan(overweightLimit):
		return Overweight
	default:
		return Obese
	}
}

// Result is the IMC together with its category.
type Result struct {
	Value    decimal.Decimal `json:"value"`
	Category Category        `json:"category"`
}

func Evaluate(heightCM, weightKG decimal.Decimal) (Result, error) {
	v, err := Calculate(heightCM, weightKG)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: v, Category: Classify(v)}, nil
}
