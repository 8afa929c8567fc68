package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/upnp-control-go/internal/api"
	"github.com/strefethen/upnp-control-go/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:               strings.Repeat("k", 32),
		JWTAccessTokenExpirySec: 3600,
	}
}

func TestTokenRoundTrip(t *testing.T) {
	cfg := testConfig()
	token, err := GenerateAccessToken(cfg, TokenPayload{Sub: "client-1", ClientName: "shell"})
	require.NoError(t, err)

	payload, err := VerifyToken(cfg, token)
	require.NoError(t, err)
	require.Equal(t, "client-1", payload.Sub)
	require.Equal(t, "shell", payload.ClientName)
}

func TestVerifyToken_Failures(t *testing.T) {
	cfg := testConfig()

	expiredCfg := cfg
	expiredCfg.JWTAccessTokenExpirySec = -60
	expired, err := GenerateAccessToken(expiredCfg, TokenPayload{Sub: "client-1", ClientName: "shell"})
	require.NoError(t, err)
	_, err = VerifyToken(cfg, expired)
	require.ErrorIs(t, err, ErrTokenExpired)

	otherCfg := cfg
	otherCfg.JWTSecret = strings.Repeat("x", 32)
	foreign, err := GenerateAccessToken(otherCfg, TokenPayload{Sub: "client-1", ClientName: "shell"})
	require.NoError(t, err)
	_, err = VerifyToken(cfg, foreign)
	require.ErrorIs(t, err, ErrTokenInvalid)

	anonymous, err := GenerateAccessToken(cfg, TokenPayload{Sub: "client-1"})
	require.NoError(t, err)
	_, err = VerifyToken(cfg, anonymous)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = VerifyToken(cfg, "not-a-jwt")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestGenerateAccessToken_RequiresSecret(t *testing.T) {
	_, err := GenerateAccessToken(config.Config{}, TokenPayload{Sub: "a", ClientName: "b"})
	require.Error(t, err)
}

func protected(cfg config.Config) http.Handler {
	return Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		_ = api.WriteJSON(w, http.StatusOK, map[string]string{"client": user.ClientName})
	}))
}

func TestMiddleware(t *testing.T) {
	cfg := testConfig()
	handler := protected(cfg)
	token, err := GenerateAccessToken(cfg, TokenPayload{Sub: "client-1", ClientName: "shell"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
		code   string
	}{
		{name: "public health", path: "/v1/health", status: http.StatusOK},
		{name: "missing header", path: "/v1/devices", status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "wrong scheme", path: "/v1/devices", header: "Basic abc", status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "bad token", path: "/v1/devices", header: "Bearer nope", status: http.StatusUnauthorized, code: "AUTH_TOKEN_INVALID"},
		{name: "valid token", path: "/v1/devices", header: "Bearer " + token, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tt.status, rec.Code)

			if tt.code != "" {
				var body api.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.Equal(t, tt.code, body.Error.Code)
				require.Equal(t, "authentication_error", string(body.Error.Type))
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.JSONEq(t, `{"client":"shell"}`, rec.Body.String())
}

func TestMiddleware_DisabledWithoutSecret(t *testing.T) {
	rec := httptest.NewRecorder()
	protected(config.Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/devices", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
