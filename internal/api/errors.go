package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/market/series"
)

// AppError is an error with the HTTP status and stable kind it is reported as.
type AppError struct {
	Code    int    `json:"-"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func invalidInput(err error) *AppError {
	return &AppError{Code: http.StatusBadRequest, Kind: "InvalidInput", Message: err.Error(), Err: err}
}

// toAppError classifies err.
func toAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	e := &AppError{Message: err.Error(), Err: err, Kind: broker.Kind(err)}
	switch {
	case errors.Is(err, broker.ErrInvalidOrder),
		errors.Is(err, broker.ErrInvalidAmount):
		e.Code = http.StatusBadRequest
	case errors.Is(err, clock.ErrInvalidInterval):
		e.Code, e.Kind = http.StatusBadRequest, "InvalidInterval"
	case errors.Is(err, broker.ErrUnknownBroker):
		e.Code = http.StatusNotFound
	case errors.Is(err, series.ErrUnknownSymbol) && !broker.IsRejection(err):
		e.Code, e.Kind = http.StatusNotFound, "UnknownSymbol"
	case errors.Is(err, broker.ErrBrokerExists),
		errors.Is(err, broker.ErrHoldingsNotEmpty):
		e.Code = http.StatusConflict
	case broker.IsRejection(err):
		e.Code = http.StatusUnprocessableEntity
	case errors.Is(err, clock.ErrNoData):
		e.Code, e.Kind = http.StatusServiceUnavailable, "NoData"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.Code, e.Kind = http.StatusServiceUnavailable, "Unavailable"
	default:
		e.Code, e.Kind, e.Message = http.StatusInternalServerError, "Internal", "internal server error"
	}
	return e
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	if appErr.Code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(appErr.Err))
	}
	writeJSON(w, appErr.Code, appErr)
}
