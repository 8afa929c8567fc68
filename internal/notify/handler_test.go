package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*Dispatcher, http.Handler) {
	t.Helper()
	d, _ := newTestDispatcher(8, time.Minute)
	router := chi.NewRouter()
	RegisterRoutes(router, d)
	return d, router
}

func notifyRequest(sidValue, body string) *http.Request {
	req := httptest.NewRequest(MethodNotify, CallbackPath, strings.NewReader(body))
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	if sidValue != "" {
		req.Header.Set("SID", sidValue)
	}
	return req
}

func TestHandler_StatusCodes(t *testing.T) {
	d, router := newTestRouter(t)
	target := &recordingTarget{}
	require.NoError(t, d.Register("uuid:known", target))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, notifyRequest("uuid:known", "<e:propertyset/>"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"<e:propertyset/>"}, target.received())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, notifyRequest("uuid:unknown", "<e:propertyset/>"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, notifyRequest("", "<e:propertyset/>"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, CallbackPath, nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_OversizedBody(t *testing.T) {
	d, router := newTestRouter(t)
	target := &recordingTarget{}
	require.NoError(t, d.Register("uuid:big", target))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, notifyRequest("uuid:big", strings.Repeat("x", maxBodyBytes+1)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Empty(t, target.received())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, notifyRequest("uuid:big", strings.Repeat("x", maxBodyBytes)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, target.received(), 1)
}

func TestHandler_PendingThenRegister(t *testing.T) {
	d, router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, notifyRequest("uuid:race", "early"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	target := &recordingTarget{}
	require.NoError(t, d.Register("uuid:race", target))
	require.Equal(t, []string{"early"}, target.received())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, notifyRequest("uuid:race", "late"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"early", "late"}, target.received())
}
