package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/pkg/httputil"
	"github.com/machinery-site/comments/services/comments/internal/repository"
)

// Availability headers on every /api/comments response.
const (
	HeaderStatus    = "X-Comments-Status"
	HeaderErrorCode = "X-Comments-Error-Code"

	statusReady   = "ready"
	statusOffline = "offline"
)

// Storage reports the storage state. *repository.Manager implements it.
type Storage interface {
	Initialize(ctx context.Context) error
	IsReady() bool
	Health() repository.Health
}

// statusWriter stamps X-Comments-Status when the response header is
// written, so a request that initialized storage reports it as ready.
type statusWriter struct {
	http.ResponseWriter
	storage Storage
	stamped bool
}

func (w *statusWriter) stamp() {
	if w.stamped {
		return
	}
	w.stamped = true
	state := statusOffline
	if w.storage.IsReady() {
		state = statusReady
	}
	w.Header().Set(HeaderStatus, state)
}

func (w *statusWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

// Availability sets X-Comments-Status on every response.
func Availability(storage Storage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(&statusWriter{ResponseWriter: w, storage: storage}, r)
		})
	}
}

// writeError adds X-Comments-Error-Code to unavailable responses before
// writing the standard error body.
func writeError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Status == http.StatusServiceUnavailable {
		w.Header().Set(HeaderErrorCode, appErr.Code)
	}
	httputil.WriteError(w, r, err, logger)
}
