// Package raster provides the client for the external raster evaluation
// service: named environmental layers queried for areal statistics over
// arbitrary regions at an explicit resolution.
package raster

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Layer is a named handle onto one raster surface in the remote catalog.
// NativeResolutionM is informational; queries always pass an explicit scale.
type Layer struct {
	Name              string  `json:"name" mapstructure:"name"`
	ID                string  `json:"id" mapstructure:"id"`
	NativeResolutionM float64 `json:"native_resolution_m" mapstructure:"native_resolution_m"`
}

// Value is the outcome of a raster query: either a number or NoData.
// NoData means the queried region contained no valid pixels. It is a value,
// not an error, and must never collapse to a numeric zero downstream.
type Value struct {
	Float64 float64
	Valid   bool
}

// Some wraps a numeric raster value.
func Some(v float64) Value { return Value{Float64: v, Valid: true} }

// NoData is the missing-value outcome.
func NoData() Value { return Value{} }

// Ptr returns the value as a *float64, nil for NoData. Used at JSON and
// storage boundaries where nil is the natural missing-value encoding.
func (v Value) Ptr() *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// ErrTimeout is returned when the service gives up on an evaluation before
// completing it. Retryable as-is.
var ErrTimeout = eris.New("raster: evaluation timed out")

// ErrPixelBudgetExceeded is returned when a query touches more pixels than
// the service allows in one evaluation. Not retryable as-is: the caller must
// subdivide the region or coarsen the scale first.
var ErrPixelBudgetExceeded = eris.New("raster: pixel budget exceeded")

// Evaluator is the query surface of the raster service used by the exposure
// and tiling pipelines.
type Evaluator interface {
	// EvaluateRegionMean returns the areal mean of the layer's valid pixels
	// inside region, computed at scaleM meters per pixel. A region with no
	// valid pixels yields NoData and a nil error.
	EvaluateRegionMean(ctx context.Context, layer Layer, region *geom.Polygon, scaleM float64) (Value, error)
}
