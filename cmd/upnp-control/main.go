package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/strefethen/upnp-control-go/internal/config"
	"github.com/strefethen/upnp-control-go/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	addr := net.JoinHostPort(cfg.Host, cfg.Port)

	callbackBase := cfg.CallbackBaseURL
	if callbackBase == "" {
		ip, err := discoverLocalIP()
		if err != nil {
			log.Fatalf("cannot determine callback address, set CALLBACK_BASE_URL: %v", err)
		}
		callbackBase = "http://" + net.JoinHostPort(ip, cfg.Port)
	}

	handler, shutdownHandler, err := server.NewHandler(cfg, server.Options{CallbackBaseURL: callbackBase})
	if err != nil {
		log.Fatalf("server init error: %v", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Unsubscribe while the listener is still up so late NOTIFYs get an answer.
		if err := shutdownHandler(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("upnp-control listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// discoverLocalIP finds the address of the interface used for outbound traffic.
// Dialing UDP sends nothing.
func discoverLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
