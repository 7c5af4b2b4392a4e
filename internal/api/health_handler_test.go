package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGauge struct{ inFlight, capacity int }

func (g fakeGauge) InFlight() int { return g.inFlight }
func (g fakeGauge) Capacity() int { return g.capacity }

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		pinger     Pinger
		wantStatus int
		wantOK     bool
	}{
		{name: "no pinger", wantStatus: http.StatusOK, wantOK: true},
		{name: "healthy store", pinger: pingerFunc(func(context.Context) error { return nil }), wantStatus: http.StatusOK, wantOK: true},
		{name: "store down", pinger: pingerFunc(func(context.Context) error { return errors.New("refused") }), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := NewHealthHandler(fakeGauge{inFlight: 3, capacity: 50}, "postgres", tc.pinger, logger)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tc.wantStatus, rr.Code)
			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantOK, resp.StateStoreOkay)
			assert.Equal(t, 3, resp.InFlightSteps)
			assert.Equal(t, 50, resp.StepCapacity)
		})
	}
}
