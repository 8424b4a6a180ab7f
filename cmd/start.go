// Package cmd implements the zedctl subcommands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/zedctl/internal/api"
	"grimm.is/zedctl/internal/auth"
	"grimm.is/zedctl/internal/brand"
	"grimm.is/zedctl/internal/clock"
	"grimm.is/zedctl/internal/config"
	"grimm.is/zedctl/internal/events"
	"grimm.is/zedctl/internal/logging"
	"grimm.is/zedctl/internal/metrics"
	"grimm.is/zedctl/internal/secrets"
	"grimm.is/zedctl/internal/store"
	"grimm.is/zedctl/internal/supervisor"
	"grimm.is/zedctl/internal/workshop"
)

const shutdownTimeout = 10 * time.Second

// RunStart runs the daemon in the foreground until SIGINT or SIGTERM.
func RunStart(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", configFile, err)
	}
	applyLogLevel(cfg.LogLevel)
	log := logging.WithComponent("daemon")

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	masterKey, err := secrets.EnsureKeyFile(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load master key: %w", err)
	}
	box, err := secrets.NewBox(masterKey)
	if err != nil {
		return err
	}

	sessions := auth.NewStore(cfg.Admin.Username, cfg.Admin.PasswordHash, cfg.SessionTTL(), nil)

	hub := events.NewHub()
	history := events.NewHistory(hub, 500)
	defer history.Close()

	recorder, err := events.NewRecorder(st.DB(), hub)
	if err != nil {
		return fmt.Errorf("failed to init player history: %w", err)
	}
	recCfg := events.DefaultRecorderConfig()
	if d := cfg.HistoryFlushInterval(); d > 0 {
		recCfg.FlushInterval = d
	}
	if d := cfg.HistoryRawRetention(); d > 0 {
		recCfg.RawRetention = d
	}
	if d := cfg.HistoryRetention(); d > 0 {
		recCfg.HourlyRetention = d
	}
	recorder.Start(recCfg)
	defer recorder.Stop()

	bridge := metrics.NewBridge(metrics.Get(), hub)
	defer bridge.Close()

	manager := supervisor.NewManager(hub, &clock.RealClock{})
	defer manager.DisconnectAll()

	resolver := workshop.NewSteamResolver(nil, cfg.Workshop.BaseURL)

	srv := api.NewServer(api.Options{
		Config:   cfg,
		Store:    st,
		Box:      box,
		Sessions: sessions,
		Manager:  manager,
		History:  history,
		Recorder: recorder,
		Resolver: resolver,
	})
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // websocket connections stay open
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	go reconnectActive(st, box, cfg, manager, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Listen)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	return nil
}

// reconnectActive restores supervision for servers marked active. Each
// attempt runs independently so one unreachable server does not delay
// the rest.
func reconnectActive(st *store.Store, box *secrets.Box, cfg *config.Config, manager *supervisor.Manager, log *logging.Logger) {
	servers, err := st.ListServers()
	if err != nil {
		log.Error("failed to list servers for reconnect", "error", err)
		return
	}
	for _, srv := range servers {
		if !srv.Active {
			continue
		}
		username, uerr := box.Decrypt(srv.Username)
		password, perr := box.Decrypt(srv.Password)
		if uerr != nil || perr != nil {
			log.Error("cannot decrypt credentials, skipping reconnect", "server", srv.Name)
			continue
		}
		go func(name string, sc supervisor.Config) {
			if _, err := manager.Connect(context.Background(), sc); err != nil {
				log.Warn("initial reconnect failed", "server", name, "error", err)
			}
		}(srv.Name, supervisor.Config{
			ServerID:       srv.ID,
			Host:           srv.Host,
			Port:           srv.Port,
			Username:       username,
			Password:       password,
			PollInterval:   cfg.PollInterval(),
			CommandTimeout: cfg.CommandTimeout(),
			DialTimeout:    cfg.DialTimeout(),
			QuietPeriod:    cfg.QuietPeriod(),
		})
	}
}

func applyLogLevel(level string) {
	var l logging.Level
	switch level {
	case "debug":
		l = logging.LevelDebug
	case "warn":
		l = logging.LevelWarn
	case "error":
		l = logging.LevelError
	default:
		l = logging.LevelInfo
	}
	logging.Default().SetLevel(l)
}

// RunCheck validates a config file without starting anything.
func RunCheck(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	fmt.Printf("%s: ok (listen %s, data %s)\n", configFile, cfg.Listen, cfg.DataDir)
	return nil
}

// PrintVersion prints build information.
func PrintVersion() {
	fmt.Printf("%s version %s\n", brand.Name, brand.Version)
	fmt.Printf("  build time: %s\n", brand.BuildTime)
	fmt.Printf("  git commit: %s\n", brand.GitCommit)
}
