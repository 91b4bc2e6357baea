// Package interaction parses command flags and launches the live
// interaction engine process: the sqlite-backed service, the websocket
// hub, and the turn-timeout sweeper.
package interaction

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/torchlit/gametable/internal/interaction/identity"
	"github.com/torchlit/gametable/internal/interaction/live"
	"github.com/torchlit/gametable/internal/interaction/service"
	"github.com/torchlit/gametable/internal/interaction/storage/sqlite"
	"github.com/torchlit/gametable/internal/platform/config"
	"github.com/torchlit/gametable/internal/platform/otel"
)

// Config holds interaction command configuration.
type Config struct {
	Port                 int      `env:"GAMETABLE_INTERACTION_PORT" envDefault:"8090"`
	DBPath               string   `env:"GAMETABLE_INTERACTION_DB_PATH"`
	SweepIntervalSeconds int      `env:"GAMETABLE_INTERACTION_SWEEP_INTERVAL_SECONDS" envDefault:"15"`
	AllowedOrigins       []string `env:"GAMETABLE_INTERACTION_ALLOWED_ORIGINS" envSeparator:","`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The interaction HTTP/websocket port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the interaction sqlite database")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "interaction.db")
	}
	if cfg.SweepIntervalSeconds <= 0 {
		cfg.SweepIntervalSeconds = 15
	}
	return cfg, nil
}

// Run starts the interaction engine and blocks until the context ends.
func Run(ctx context.Context, cfg Config) error {
	shutdownTracing, err := otel.Setup(ctx, "interaction")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("interaction otel shutdown: %v", err)
		}
	}()

	store, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close interaction store: %v", err)
		}
	}()

	hub := live.NewHub()
	defer hub.Shutdown()

	svc := service.NewService(store, nil, nil, hub)
	if os.Getenv("GAMETABLE_SESSION_GRANT_PUBLIC_KEY") != "" {
		grantCfg, err := identity.LoadGrantConfigFromEnv(nil)
		if err != nil {
			return fmt.Errorf("load session grant config: %w", err)
		}
		svc.SetGrantConfig(grantCfg)
	}

	mux := http.NewServeMux()
	mux.Handle("/live", live.NewHandler(hub, cfg.AllowedOrigins))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go sweepLoop(ctx, svc, time.Duration(cfg.SweepIntervalSeconds)*time.Second)

	log.Printf("interaction server listening at %v", listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.Shutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

// sweepLoop closes expired turns on a fixed interval until the context ends.
func sweepLoop(ctx context.Context, svc *service.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, err := svc.SweepExpiredTurns(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("sweep expired turns: %v", err)
				}
				continue
			}
			if closed > 0 {
				log.Printf("turn sweep closed=%d", closed)
			}
		}
	}
}

func openStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open interaction sqlite store: %w", err)
	}
	return store, nil
}
