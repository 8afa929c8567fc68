package notify

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MethodNotify is the GENA event delivery method.
const MethodNotify = "NOTIFY"

// maxBodyBytes bounds a single NOTIFY body.
const maxBodyBytes = 1 << 20

func init() {
	chi.RegisterMethod(MethodNotify)
}

// Handler serves NOTIFY requests for a dispatcher.
type Handler struct {
	dispatcher *Dispatcher
}

// NewHandler creates a NOTIFY handler.
func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// ServeHTTP answers 200 when delivered, 202 when held, 422 without a SID,
// 413 for oversized bodies and 405 for any method but NOTIFY.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != MethodNotify {
		w.Header().Set("Allow", MethodNotify)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodyBytes {
		http.Error(w, "Event body too large", http.StatusRequestEntityTooLarge)
		return
	}

	status, err := h.dispatcher.Dispatch(r.Header, body)
	switch {
	case errors.Is(err, ErrMissingSID):
		http.Error(w, "Missing SID", http.StatusUnprocessableEntity)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case status == StatusPending:
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// RegisterRoutes mounts the callback endpoint. Every method reaches the handler
// so non-NOTIFY requests get a consistent 405.
func RegisterRoutes(router chi.Router, dispatcher *Dispatcher) {
	router.Handle(CallbackPath, NewHandler(dispatcher))
}
