package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/fractured-reality/master-server/internal/api"
	"github.com/fractured-reality/master-server/internal/auth"
	"github.com/fractured-reality/master-server/internal/config"
	"github.com/fractured-reality/master-server/internal/httpserver"
	"github.com/fractured-reality/master-server/internal/lobby"
	"github.com/fractured-reality/master-server/internal/metrics"
	"github.com/fractured-reality/master-server/internal/presence"
	"github.com/fractured-reality/master-server/internal/session"
	"github.com/fractured-reality/master-server/internal/signaling"
	"github.com/fractured-reality/master-server/internal/store"
	"github.com/fractured-reality/master-server/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting fr-master-server",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"db_path", cfg.DBPath,
		"default_max_players", cfg.DefaultMaxPlayers,
		"ws_auth_timeout", cfg.WSAuthTimeout,
		"ws_idle_timeout", cfg.WSIdleTimeout,
	)

	logStartupSecurityWarnings(logger, cfg)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "err", err)
		os.Exit(2)
	}
	defer st.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	registry := session.NewRegistry()
	notifier := presence.NewNotifier(st, registry, logger, m)
	lobbies := lobby.NewManager(st, logger, m, cfg.DefaultMaxPlayers)
	relay := signaling.NewRelay(registry, logger, m)

	var tokens *auth.TokenManager
	if cfg.AuthMode == config.AuthModeJWT {
		tokens = auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, m, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	if cfg.TURNRestSecret != "" {
		gen, err := turnrest.NewGenerator(cfg.TURNRestSecret, cfg.TURNRestTTL, turnrest.DefaultPrefix)
		if err != nil {
			logger.Error("failed to configure TURN REST credentials", "err", err)
			os.Exit(2)
		}
		srv.SetTURNGenerator(gen)
	}

	rest := &api.Handlers{
		Store:    st,
		Hasher:   auth.NewPasswordHasher(),
		Tokens:   tokens,
		Registry: registry,
		Presence: notifier,
		Logger:   logger,
		Metrics:  m,
	}
	rest.Register(srv.Mux())

	ws := signaling.NewServer(cfg, st, registry, notifier, lobbies, relay, tokens, logger, m)
	srv.Mux().Handle("GET /ws", ws)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if cfg.Mode == config.ModeProd && cfg.AuthMode == config.AuthModeNone {
		logger.Warn("AUTH_MODE=none in prod: realtime sessions trust client-declared identity")
	}
	if len(cfg.AllowedOrigins) == 0 {
		logger.Warn("ALLOWED_ORIGINS is empty: any origin may connect")
	}
	if cfg.AuthMode == config.AuthModeJWT && cfg.TokenTTL > 7*24*time.Hour {
		logger.Warn("TOKEN_TTL is unusually long", "ttl", cfg.TokenTTL)
	}
	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("ICE server configuration invalid; /webrtc/ice will return 503", "err", err)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
