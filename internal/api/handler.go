package api

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/strefethen/upnp-control-go/internal/apperrors"
)

// Handler adapts handlers that return errors into http.Handler.
type Handler func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP implements http.Handler.
func (handler Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := handler(w, r); err != nil {
		WriteError(w, r, err)
	}
}

// Recoverer converts panics into 500 responses and logs the stack with the
// request ID. http.ErrAbortHandler is re-raised so the server aborts the
// connection as usual.
func Recoverer(logger *log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				logger.Printf("panic in %s %s (request %s): %v\n%s", r.Method, r.URL.Path, GetRequestID(r), recovered, debug.Stack())
				WriteError(w, r, apperrors.NewInternalError("Internal server error"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
