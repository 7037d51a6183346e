package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rfp-intake/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps domain sentinels onto HTTP status codes. Unrecognized
// errors become a 500 with the detail kept in the server log, not the body.
func writeError(w http.ResponseWriter, err error) {
	var illegal *model.IllegalTransitionError

	status := http.StatusInternalServerError
	switch {
	case eris.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case eris.Is(err, model.ErrInvalidDocument),
		eris.Is(err, model.ErrInvalidCandidateID):
		status = http.StatusBadRequest
	case eris.Is(err, model.ErrOriginPolicyViolation):
		status = http.StatusForbidden
	case eris.Is(err, model.ErrInvalidState),
		eris.Is(err, model.ErrRunInProgress),
		eris.Is(err, model.ErrAlreadyRejected),
		eris.Is(err, model.ErrNothingToCompare),
		errors.As(err, &illegal):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
