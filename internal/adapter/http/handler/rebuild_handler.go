package handler

import (
	"context"
	"net/http"

	"github.com/eduops/courseledger/internal/adapter/http/dto"
	"github.com/eduops/courseledger/internal/usecase"
)

// RebuildStatusService reports the latest rebuild run.
type RebuildStatusService interface {
	Latest(ctx context.Context) (*usecase.RebuildRun, error)
}

// RebuildHandler exposes rebuild run state to operators. Rebuilds are
// started from the CLI, never over HTTP.
type RebuildHandler struct {
	runs RebuildStatusService
}

// NewRebuildHandler creates a new RebuildHandler.
func NewRebuildHandler(runs RebuildStatusService) *RebuildHandler {
	return &RebuildHandler{runs: runs}
}

// Latest returns the most recent rebuild run, or 404 when the ledger has
// never been rebuilt.
func (h *RebuildHandler) Latest(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Latest(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rebuild run", err.Error())
		return
	}

	if run == nil {
		writeError(w, http.StatusNotFound, "no rebuild run recorded", "")
		return
	}

	writeJSON(w, http.StatusOK, dto.RebuildRunFromUseCase(run))
}
