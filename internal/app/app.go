// Package app wires configuration, logging, storage, sessions and routing
// together and runs the HTTP server with graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zixialu/tinyapp/internal/auth"
	"github.com/zixialu/tinyapp/internal/config"
	"github.com/zixialu/tinyapp/internal/credentials"
	"github.com/zixialu/tinyapp/internal/db/memorystorage"
	"github.com/zixialu/tinyapp/internal/ipchecker"
	"github.com/zixialu/tinyapp/internal/logger"
	"github.com/zixialu/tinyapp/internal/router"
	"github.com/zixialu/tinyapp/internal/service"
	"github.com/zixialu/tinyapp/internal/tokengen"
)

// App holds the configuration and the HTTP handler of the link shortener.
type App struct {
	cfg         *config.Config
	httpHandler http.Handler
}

// New loads the configuration, initializes the logger and builds the
// handler chain: token generator, in-memory storage, password hasher,
// session manager, service and router.
func New() (*App, error) {
	var err error
	app := &App{}

	app.cfg, err = config.New()
	if err != nil {
		return nil, err
	}

	var loggerOptions []logger.InitOption
	if app.cfg.LogFile != "" {
		loggerOptions = append(loggerOptions, logger.WithFile(app.cfg.LogFile))
	}
	err = logger.Init(app.cfg.LogLevel, loggerOptions...)
	if err != nil {
		return nil, err
	}

	signingKey, err := app.cfg.SigningKey()
	if err != nil {
		return nil, fmt.Errorf("in internal/app/app.go/New(): error while `app.cfg.SigningKey()` calling: %w", err)
	}

	db, err := memorystorage.New(tokengen.New(tokengen.DefaultLength))
	if err != nil {
		return nil, err
	}

	sessions := auth.New(app.cfg.SessionCookieName, signingKey, app.cfg.SessionLifetime)

	ipChecker, err := ipchecker.New(app.cfg.TrustedSubnet)
	if err != nil {
		return nil, err
	}

	svc := service.New(
		db,
		sessions,
		credentials.NewHasher(app.cfg.PasswordHashCost),
		app.cfg.ShortURLBase,
	)

	app.httpHandler = router.New(sessions, ipChecker, svc)

	return app, nil
}

// Run serves HTTP until SIGINT or SIGTERM arrives, then shuts the server down
// within the configured timeout.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Infow("server running", "RunAddr", a.cfg.RunAddr, "ShortURLBase", a.cfg.ShortURLBase)

	server := &http.Server{
		Addr:    a.cfg.RunAddr,
		Handler: a.httpHandler,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return nil

	case err := <-serverErrCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}

// Close finalizes resources used by App such as logging.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}
