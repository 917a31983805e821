package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eduops/courseledger/internal/domain"
)

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"transaction not found", domain.ErrTransactionNotFound, http.StatusNotFound},
		{"account not found", domain.ErrAccountNotFound, http.StatusNotFound},
		{"unknown account", domain.ErrUnknownAccount, http.StatusBadRequest},
		{"imbalanced", domain.ErrImbalancedTransaction, http.StatusBadRequest},
		{"invalid amount", domain.ErrInvalidAmount, http.StatusBadRequest},
		{"already reversed", domain.ErrAlreadyReversed, http.StatusConflict},
		{"rebuild in progress", domain.ErrRebuildInProgress, http.StatusConflict},
		{"wrapped", errors.Join(errors.New("context"), domain.ErrAlreadyReversed), http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapDomainError(tt.err); got != tt.want {
				t.Errorf("mapDomainError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseAsOf(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		got, err := parseAsOf(req)
		if err != nil || got != nil {
			t.Fatalf("expected nil, nil; got %v, %v", got, err)
		}
	})

	t.Run("bare date", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?as_of=2025-03-01", nil)
		got, err := parseAsOf(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		if got == nil || !got.Equal(want) {
			t.Fatalf("expected %s, got %v", want, got)
		}
	})

	t.Run("rfc3339", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?as_of=2025-03-01T12:30:00Z", nil)
		got, err := parseAsOf(req)
		if err != nil || got == nil {
			t.Fatalf("expected timestamp, got %v, %v", got, err)
		}
		if got.Hour() != 12 || got.Minute() != 30 {
			t.Fatalf("unexpected time: %s", got)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?as_of=last+tuesday", nil)
		if _, err := parseAsOf(req); err == nil {
			t.Fatal("expected error for unparseable as_of")
		}
	})
}

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25&offset=abc", nil)

	if got := parseIntQuery(req, "limit", 20); got != 25 {
		t.Errorf("expected 25, got %d", got)
	}
	if got := parseIntQuery(req, "offset", 0); got != 0 {
		t.Errorf("expected default 0 for non-numeric, got %d", got)
	}
	if got := parseIntQuery(req, "missing", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}
