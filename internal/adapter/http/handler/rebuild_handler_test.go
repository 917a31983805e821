package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eduops/courseledger/internal/adapter/http/dto"
	"github.com/eduops/courseledger/internal/usecase"
)

type rebuildStatusStub struct {
	latestFn func(ctx context.Context) (*usecase.RebuildRun, error)
}

func (s *rebuildStatusStub) Latest(ctx context.Context) (*usecase.RebuildRun, error) {
	return s.latestFn(ctx)
}

func TestRebuildHandler_Latest(t *testing.T) {
	finished := time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC)

	handler := NewRebuildHandler(&rebuildStatusStub{
		latestFn: func(ctx context.Context) (*usecase.RebuildRun, error) {
			return &usecase.RebuildRun{
				ID:           "run-1",
				Mode:         usecase.ModeFull,
				State:        usecase.StateComplete,
				Cursor:       120,
				Transactions: 120,
				Lines:        260,
				StartedAt:    finished.Add(-time.Minute),
				FinishedAt:   &finished,
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/rebuild/latest", nil)
	rec := httptest.NewRecorder()

	handler.Latest(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp dto.RebuildRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.State != "complete" || resp.Transactions != 120 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRebuildHandler_Latest_NeverRebuilt(t *testing.T) {
	handler := NewRebuildHandler(&rebuildStatusStub{
		latestFn: func(ctx context.Context) (*usecase.RebuildRun, error) {
			return nil, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/rebuild/latest", nil)
	rec := httptest.NewRecorder()

	handler.Latest(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
