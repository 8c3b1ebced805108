package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"twitchfox/internal/browse"
	"twitchfox/internal/bus"
	"twitchfox/internal/follows"
	"twitchfox/internal/notify"
	"twitchfox/internal/platform/config"
	"twitchfox/internal/platform/logger"
	"twitchfox/internal/platform/metrics"
	"twitchfox/internal/poller"
	"twitchfox/internal/popup"
	"twitchfox/internal/settings"
	"twitchfox/internal/twitch"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	dbPath := config.GetEnv("DB_PATH", "twitchfox.db")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	clientID := config.GetEnv("TWITCH_CLIENT_ID", "")
	apiURL := config.GetEnv("TWITCH_API_URL", twitch.DefaultBaseURL)

	log := logger.New(logLevel, logFormat)

	backend, err := settings.OpenSQLite(dbPath)
	if err != nil {
		log.Error("opening settings database failed", "path", dbPath, "error", err)
		os.Exit(1)
	}
	store, err := settings.NewStore(backend, logger.Component(log, "settings"))
	if err != nil {
		log.Error("loading settings failed", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	hub := bus.NewHub(logger.Component(log, "bus"))
	relay := notify.NewRelay(hub, logger.Component(log, "notify"))

	api := twitch.NewClient(apiURL, clientID, store, logger.Component(log, "twitch"), met)
	followSvc := follows.NewService(api, store, hub, logger.Component(log, "follows"), met)
	poll := poller.New(api, store, followSvc, relay, hub, logger.Component(log, "poller"), met)
	followSvc.PollTrigger = func() {
		go func() {
			if err := poll.PollOnce(context.Background()); err != nil {
				log.Warn("poll after follow failed", "error", err)
			}
		}()
	}
	stack := browse.NewStack(api, store, logger.Component(log, "browse"))

	h := popup.NewHandler(followSvc, poll, stack, store, relay, log, met)
	h.OnAuthChanged = func() {
		go func() {
			followSvc.Initialize(context.Background())
			poll.Start(pollPeriod(store))
		}()
	}

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetFollowedChannels(len(followSvc.Follows()))
			met.SetLiveFollowedStreams(len(poll.Snapshot()))
		}).ServeHTTP(w, r)
	})
	r.Get("/ws", hub.HandleWS)
	h.Register(r)

	go func() {
		followSvc.Initialize(context.Background())
		poll.Start(pollPeriod(store))
	}()

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("engine starting",
		"port", port,
		"db_path", dbPath,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	poll.Shutdown()
	hub.Close()
	if err := store.Close(); err != nil {
		log.Error("closing settings database failed", "error", err)
	}

	log.Info("engine stopped")
}

// pollPeriod resolves the poll interval: the POLL_INTERVAL env var (e.g.
// "90s") when set, otherwise the minutesBetweenCheck setting.
func pollPeriod(store *settings.Store) time.Duration {
	if d := config.GetEnvDuration("POLL_INTERVAL", 0); d > 0 {
		return d
	}
	minutes := store.Int("minutesBetweenCheck")
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}
