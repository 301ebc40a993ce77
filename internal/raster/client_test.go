package raster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/exposure-cli/internal/geometry"
	"github.com/sells-group/exposure-cli/internal/resilience"
)

var testLayer = Layer{Name: "NDVI", ID: "catalog/ndvi", NativeResolutionM: 30}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     1.0,
	}
}

func TestValue(t *testing.T) {
	v := Some(1.5)
	assert.True(t, v.Valid)
	require.NotNil(t, v.Ptr())
	assert.Equal(t, 1.5, *v.Ptr())

	nd := NoData()
	assert.False(t, nd.Valid)
	assert.Nil(t, nd.Ptr())
}

func TestEvaluateRegionMean_Success(t *testing.T) {
	var gotReq evaluateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/evaluate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(evaluateResponse{Value: 0.42})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(fastRetry()))
	region := geometry.Circle([]float64{-97.7, 30.3}, 25, 16)

	v, err := c.EvaluateRegionMean(context.Background(), testLayer, region, 30)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.InDelta(t, 0.42, v.Float64, 1e-9)

	assert.Equal(t, "catalog/ndvi", gotReq.Layer)
	assert.Equal(t, "mean", gotReq.Op)
	assert.Equal(t, 30.0, gotReq.ScaleM)
	assert.NotEmpty(t, gotReq.Region)
}

func TestEvaluateRegionMean_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(evaluateResponse{NoData: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(fastRetry()))
	region := geometry.Circle([]float64{0, 0}, 25, 16)

	v, err := c.EvaluateRegionMean(context.Background(), testLayer, region, 30)
	require.NoError(t, err)
	assert.False(t, v.Valid, "NoData must not look like a numeric value")
}

func TestEvaluateRegionMean_PixelBudgetNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(apiError{Code: "pixel_budget_exceeded", Message: "too many pixels"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(fastRetry()))
	region := geometry.Rect(-98, 29, -96, 31)

	_, err := c.EvaluateRegionMean(context.Background(), testLayer, region, 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPixelBudgetExceeded)
	assert.Equal(t, int32(1), calls.Load(), "budget errors must not be retried as-is")
}

func TestEvaluateRegionMean_TimeoutRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		json.NewEncoder(w).Encode(evaluateResponse{Value: 7})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(fastRetry()))
	region := geometry.Circle([]float64{0, 0}, 25, 16)

	v, err := c.EvaluateRegionMean(context.Background(), testLayer, region, 30)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, v.Valid)
	assert.Equal(t, 7.0, v.Float64)
}

func TestEvaluateRegionMean_TransientServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(evaluateResponse{Value: 3})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(fastRetry()))
	region := geometry.Circle([]float64{0, 0}, 25, 16)

	v, err := c.EvaluateRegionMean(context.Background(), testLayer, region, 30)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, 3.0, v.Float64)
}

func TestEvaluateRegionMean_FatalStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(apiError{Code: "bad_geometry", Message: "self-intersecting ring"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(fastRetry()))
	region := geometry.Circle([]float64{0, 0}, 25, 16)

	_, err := c.EvaluateRegionMean(context.Background(), testLayer, region, 30)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx validation errors are fatal")
	assert.Contains(t, err.Error(), "400")
}

func TestEvaluateRegionMean_AuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(evaluateResponse{Value: 1})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithAPIKey("sekrit"), WithRetry(fastRetry()))
	region := geometry.Circle([]float64{0, 0}, 25, 16)

	_, err := c.EvaluateRegionMean(context.Background(), testLayer, region, 30)
	require.NoError(t, err)
}

func TestExportRegion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/export", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"job_id": "export-123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(fastRetry()))
	region := geometry.Rect(-98, 29, -97, 30)

	jobID, err := c.ExportRegion(context.Background(), testLayer, region, 250, "bucket/exports")
	require.NoError(t, err)
	assert.Equal(t, "export-123", jobID)
}

func TestExportRegion_MissingJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(fastRetry()))
	region := geometry.Rect(-98, 29, -97, 30)

	_, err := c.ExportRegion(context.Background(), testLayer, region, 250, "bucket/exports")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing job id")
}

func TestLayerString(t *testing.T) {
	assert.Equal(t, "NDVI(catalog/ndvi @ 30m)", testLayer.String())
}
