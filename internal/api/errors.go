package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/taxlot/cgt-engine/internal/config"
	"github.com/taxlot/cgt-engine/internal/harvest"
	"github.com/taxlot/cgt-engine/internal/ingest"
	"github.com/taxlot/cgt-engine/internal/model"
	"github.com/taxlot/cgt-engine/internal/pool"
	"github.com/taxlot/cgt-engine/internal/security"
	"github.com/taxlot/cgt-engine/internal/store"
	"github.com/taxlot/cgt-engine/internal/taxyear"
	"github.com/taxlot/cgt-engine/internal/window"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidTransaction),
		errors.Is(err, security.ErrInvalidTicker),
		errors.Is(err, security.ErrInvalidISIN),
		errors.Is(err, security.ErrInvalidSEDOL),
		errors.Is(err, security.ErrMismatch),
		errors.Is(err, taxyear.ErrInvalidTaxYear),
		errors.Is(err, ingest.ErrMissingHeader),
		errors.Is(err, harvest.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrInsufficientPool),
		errors.Is(err, harvest.ErrNoPosition),
		errors.Is(err, harvest.ErrNoLoss):
		return http.StatusUnprocessableEntity
	case errors.Is(err, window.ErrRepurchaseWindow),
		errors.Is(err, harvest.ErrNotPending):
		return http.StatusConflict
	default:
		// Includes config.ErrConfiguration: a missing setting is a server fault.
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with the status statusFor picks. Unexpected
// failures are logged and their detail withheld.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError && !errors.Is(err, config.ErrConfiguration) {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
