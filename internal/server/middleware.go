package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyTeam      ctxKey = "team"
)

const (
	headerRequestID = "X-Request-Id"
	headerTeam      = "X-Team-Id"
	headerBank      = "X-Bank-Id"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(headerRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, reqID)))
	})
}

// identityMiddleware reads the caller's team. TLS termination in front of
// the service is trusted to have set it.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if team := strings.TrimSpace(r.Header.Get(headerTeam)); team != "" {
			r = r.WithContext(context.WithValue(r.Context(), ctxKeyTeam, team))
		}
		next.ServeHTTP(w, r)
	})
}

func recoverMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().
						Interface("panic", rec).
						Str("request_id", requestIDFromContext(r.Context())).
						Str("path", r.URL.Path).
						Msg("handler panicked")
					writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal_error", Message: "internal error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func accessLogMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			log.Debug().
				Str("request_id", requestIDFromContext(r.Context())).
				Str("team", teamFromContext(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.Status()).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}

func requestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return s
	}
	return ""
}

func teamFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeyTeam).(string); ok {
		return s
	}
	return ""
}
