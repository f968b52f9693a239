package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/internal/auth"
	"taskboard/internal/config"
	"taskboard/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and serve the board frontend",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("static", "web/dist", "Directory with built frontend")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger.WithFields(log.Fields{
		"version": cmd.Root().Version,
		"store":   cfg.Store.Driver,
	}).Info("taskboard starting")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	authn, closeAuth, err := newAuthenticator(cfg.Auth, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	srv := server.New(store, authn, logger, cfg.StaticDir)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Engine(),
		// Requests inherit ctx so open event streams end on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("starting server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to shutdown server")
	}

	logger.Info("server stopped")
	return nil
}

// newAuthenticator enables token verification when a secret or key set URL
// is configured.
func newAuthenticator(cfg config.AuthConfig, logger *log.Logger) (*auth.Authenticator, func(), error) {
	opts := auth.Options{Audience: cfg.Audience, Issuer: cfg.Issuer}
	switch {
	case cfg.JWTSecret != "":
		opts.Secret = []byte(cfg.JWTSecret)
		logger.Info("authentication enabled (HS256)")
		return auth.New(opts), func() {}, nil
	case cfg.JWKSURL != "":
		jwks, err := auth.LoadJWKS(cfg.JWKSURL, logger)
		if err != nil {
			return nil, nil, err
		}
		opts.JWKS = jwks
		logger.WithField("jwks_url", cfg.JWKSURL).Info("authentication enabled (RS256)")
		return auth.New(opts), jwks.EndBackground, nil
	default:
		logger.Warn("authentication disabled; all requests act as " + auth.Anonymous)
		return auth.New(opts), func() {}, nil
	}
}
