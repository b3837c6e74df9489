package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	ct "github.com/dennislee928/carbontrade"
)

const headerRequestID = "X-Request-ID"

// Response bodies kept on an error log entry are cut at this size
const maxLoggedBody = 4 << 10

const (
	errorTypeServer = "server_error"
	errorTypePanic  = "panic"
)

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *responseRecorder) WriteHeader(status int) {
	if rw.status == 0 {
		rw.status = status
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	if room := maxLoggedBody - rw.body.Len(); room > 0 {
		rw.body.Write(b[:min(room, len(b))])
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// recordErrors tags every request with an id, turns panics into 500s and
// stores an error log entry for every 5xx response.
func (a *App) recordErrors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)

		rec := &responseRecorder{ResponseWriter: w}
		start := time.Now()
		defer func() {
			errorType, message, stack := errorTypeServer, "", ""
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				errorType, message, stack = errorTypePanic, fmt.Sprint(p), string(debug.Stack())
				slog.ErrorContext(r.Context(), "panic serving request", "path", r.URL.Path, "panic", message, "request_id", requestID)
				if rec.status == 0 {
					ct.WriteError(rec, http.StatusInternalServerError, "Internal server error")
				}
			}
			if rec.status < http.StatusInternalServerError {
				return
			}
			if message == "" {
				message = http.StatusText(rec.status)
			}
			a.storeErrorLog(r, rec, requestID, errorType, message, stack, time.Since(start))
		}()
		next.ServeHTTP(rec, r)
	})
}

func (a *App) storeErrorLog(r *http.Request, rec *responseRecorder, requestID, errorType, message, stack string, elapsed time.Duration) {
	if a.ErrorLogs == nil {
		return
	}
	durationMS := elapsed.Milliseconds()
	req := ct.CreateErrorLogRequest{
		Endpoint:     r.URL.Path,
		Method:       r.Method,
		StatusCode:   rec.status,
		ErrorType:    errorType,
		ErrorMessage: message,
		RequestID:    requestID,
		IPAddress:    ct.ClientIP(r),
		UserAgent:    r.UserAgent(),
		DurationMS:   &durationMS,
		StackTrace:   stack,
	}
	if a.Middleware != nil {
		if claims, err := a.Middleware.Authenticate(r); err == nil {
			req.UserID = claims.UserID
		}
	}
	entry := req.ToErrorLog()
	if rec.body.Len() > 0 {
		body := rec.body.String()
		entry.ResponseBody = &body
	}
	if err := a.ErrorLogs.CreateErrorLog(entry); err != nil {
		slog.ErrorContext(r.Context(), "failed to store error log", "request_id", requestID, "error", err)
	}
}
