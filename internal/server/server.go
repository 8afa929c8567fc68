package server

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/strefethen/upnp-control-go/internal/api"
	"github.com/strefethen/upnp-control-go/internal/apperrors"
	"github.com/strefethen/upnp-control-go/internal/auth"
	"github.com/strefethen/upnp-control-go/internal/config"
	"github.com/strefethen/upnp-control-go/internal/controlpoint"
	"github.com/strefethen/upnp-control-go/internal/db"
	"github.com/strefethen/upnp-control-go/internal/notify"
	"github.com/strefethen/upnp-control-go/internal/openapi"
	"github.com/strefethen/upnp-control-go/internal/sink"
	"github.com/strefethen/upnp-control-go/internal/sink/feed"
	"github.com/strefethen/upnp-control-go/internal/sink/influx"
	"github.com/strefethen/upnp-control-go/internal/sink/journal"
	"github.com/strefethen/upnp-control-go/internal/sink/mqtt"
	"github.com/strefethen/upnp-control-go/internal/upnp"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the logger.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			logger.Printf("%s %s %d %s request=%s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond), api.GetRequestID(r))
		})
	}
}

// Options controls server wiring.
type Options struct {
	// CallbackBaseURL overrides cfg.CallbackBaseURL.
	CallbackBaseURL string
	// DisablePolling skips the scheduler and the initial connect (for tests).
	DisablePolling bool
	Logger         *log.Logger
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	logger := options.Logger
	if logger == nil {
		logger = log.Default()
	}

	logger.Printf("Using database: %s", cfg.SQLiteDBPath)
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	callbackBase := options.CallbackBaseURL
	if callbackBase == "" {
		callbackBase = cfg.CallbackBaseURL
	}
	if callbackBase == "" {
		callbackBase = "http://" + net.JoinHostPort(localHost(cfg.Host), cfg.Port)
	}

	hist := journal.New(dbPair)
	hub := feed.NewHub(feed.WithLogger(logger))
	fanout := sink.NewFanout(logger, hist, hub)

	var mqttPublisher *mqtt.Publisher
	if cfg.MQTTBrokerURL != "" {
		mqttPublisher, err = mqtt.Connect(mqtt.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, logger)
		if err != nil {
			logger.Printf("SINK: mqtt disabled: %v", err)
		} else {
			fanout.Add(mqttPublisher)
		}
	}

	var influxWriter *influx.Writer
	if cfg.InfluxURL != "" {
		influxWriter, err = influx.Connect(context.Background(), influx.Options{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}, logger)
		if err != nil {
			logger.Printf("SINK: influxdb disabled: %v", err)
		} else {
			fanout.Add(influxWriter)
		}
	}

	dispatcher := notify.NewDispatcher(notify.Options{
		CallbackBaseURL: callbackBase,
		BacklogSize:     cfg.BacklogSize,
		BacklogTTL:      cfg.BacklogTTL(),
		Logger:          logger,
	})
	logger.Printf("CP: event callback %s", dispatcher.CallbackURL())

	requester := upnp.NewHTTPRequester(cfg.DescriptionTimeout())
	factory := upnp.NewFactory(requester,
		upnp.WithDescriptionTimeout(cfg.DescriptionTimeout()),
		upnp.WithControlTimeout(cfg.ControlTimeout()),
		upnp.WithLogger(logger),
	)

	cp := controlpoint.New(controlpoint.Options{
		Factory:    factory,
		Dispatcher: dispatcher,
		Sink:       fanout,
		Repository: controlpoint.NewDevicesRepository(dbPair),
		Logger:     logger,
	})
	if err := cp.Restore(); err != nil {
		_ = dbPair.Close()
		return nil, nil, err
	}
	for _, url := range cfg.DeviceURLs {
		if err := cp.Add(url); err != nil {
			logger.Printf("CP: add %s: %v", url, err)
		}
	}

	scheduler := cron.New()
	if err := cp.Schedule(scheduler, cfg.PollSchedule); err != nil {
		_ = dbPair.Close()
		return nil, nil, err
	}
	if err := dispatcher.Schedule(scheduler, cfg.BacklogSweepSchedule); err != nil {
		_ = dbPair.Close()
		return nil, nil, err
	}
	if retention := cfg.JournalRetention(); retention > 0 {
		if _, err := scheduler.AddFunc(cfg.JournalPruneSchedule, func() {
			pruned, err := hist.Prune(context.Background(), time.Now().Add(-retention))
			if err != nil {
				logger.Printf("SINK: journal prune failed: %v", err)
				return
			}
			if pruned > 0 {
				logger.Printf("SINK: pruned %d journal entries", pruned)
			}
		}); err != nil {
			_ = dbPair.Close()
			return nil, nil, err
		}
	}

	connectCtx, connectCancel := context.WithCancel(context.Background())
	if !options.DisablePolling {
		scheduler.Start()
		go func() {
			if err := cp.ConnectAll(connectCtx); err != nil {
				logger.Printf("CP: initial connect: %v", err)
			}
		}()
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(api.RequestIDMiddleware)
	router.Use(requestLoggerMiddleware(logger))
	router.Use(api.Recoverer(logger))
	router.NotFound(api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return apperrors.NewNotFoundResource("route", r.URL.Path)
	}).ServeHTTP)

	// Devices cannot authenticate, so the event callback and the live feed stay public.
	notify.RegisterRoutes(router, dispatcher)
	feed.RegisterRoutes(router, hub)

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg))
		registerHealthRoutes(r, cp, dispatcher, hub)
		openapi.RegisterRoutes(r)
		registerDeviceRoutes(r, cp)
		registerHistoryRoutes(r, hist)
	})

	shutdown := func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		connectCancel()
		<-scheduler.Stop().Done()
		cp.Close(ctx)
		hub.Close()
		if mqttPublisher != nil {
			mqttPublisher.Close()
		}
		if influxWriter != nil {
			influxWriter.Close()
		}
		return dbPair.Close()
	}

	return router, shutdown, nil
}

func localHost(host string) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1"
	}
	return host
}

func registerHealthRoutes(router chi.Router, cp *controlpoint.ControlPoint, dispatcher *notify.Dispatcher, hub *feed.Hub) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		counts := map[controlpoint.Status]int{}
		for _, info := range cp.Devices() {
			counts[info.Status]++
		}
		response := map[string]any{
			"status":    "healthy",
			"service":   "upnp-control",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"devices":   counts,
			"events":    dispatcher.Stats(),
			"feed":      map[string]int{"clients": hub.Clients()},
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}
