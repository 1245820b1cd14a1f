package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"frizo/position_engine/internal/common"
)

var errBadBody = errors.New("invalid request body")

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// statusOf maps an engine error to an HTTP status.
func statusOf(err error) int {
	switch common.Kind(err) {
	case common.ErrUserNotFound, common.ErrPositionNotFound:
		return http.StatusNotFound
	case common.ErrUserAlreadyExists, common.ErrPositionAlreadyClosed:
		return http.StatusConflict
	case common.ErrUnauthorized:
		return http.StatusForbidden
	case common.ErrInsufficientCollateral, common.ErrCannotReduceMargin, common.ErrTierExceeded,
		common.ErrCalculationOverflow, common.ErrCalculationUnderflow:
		return http.StatusUnprocessableEntity
	case common.ErrInvalidAmount, common.ErrInvalidPositionSize, common.ErrInvalidSide,
		common.ErrInvalidSymbol, common.ErrInvalidLeverage, common.ErrInvalidPrice, common.ErrInvalidOwner:
		return http.StatusBadRequest
	}
	if errors.Is(err, errBadBody) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorResponse{Error: err.Error(), Code: common.Code(err)})
}
