// Command upnp-token mints an access token for the control API.
//
// Usage:
//
//	JWT_SECRET=... go run ./cmd/upnp-token -name "kitchen tablet"
//
// The token is printed on stdout. Pass it as "Authorization: Bearer <token>".
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/strefethen/upnp-control-go/internal/auth"
	"github.com/strefethen/upnp-control-go/internal/config"
)

var (
	clientName = flag.String("name", "upnp-shell", "Client name stored in the token")
	subject    = flag.String("sub", "", "Token subject (random when empty)")
	expirySec  = flag.Int("expiry", 0, "Lifetime in seconds (JWT_ACCESS_TOKEN_EXPIRY when 0)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if !cfg.AuthEnabled() {
		log.Fatal("JWT_SECRET is not set, the server does not require tokens")
	}
	if *expirySec > 0 {
		cfg.JWTAccessTokenExpirySec = *expirySec
	}

	sub := *subject
	if sub == "" {
		sub = uuid.NewString()
	}

	token, err := auth.GenerateAccessToken(cfg, auth.TokenPayload{Sub: sub, ClientName: *clientName})
	if err != nil {
		log.Fatalf("token error: %v", err)
	}
	fmt.Println(token)
}
