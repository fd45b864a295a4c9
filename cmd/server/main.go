package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"authcore/internal/config"
	"authcore/internal/factory"
	"authcore/internal/util"
)

func main() {
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := f.Router()

	var serverAddr string
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	} else {
		serverAddr = cfg.GetServerAddress()
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if cfg.Server.EnableTLS {
		server.TLSConfig = f.TLSManager().GetTLSConfig()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	// ACME challenge + redirect listener when autocert serves production
	var acmeServer *http.Server
	if cfg.Server.EnableTLS && cfg.Server.AutoCert && cfg.IsProduction() {
		manager := f.TLSManager().GetAutocertManager()
		if manager == nil {
			util.Fatal("AutoCert manager is not available in production")
		}
		acmeServer = &http.Server{
			Addr:    ":80",
			Handler: manager.HTTPHandler(nil),
		}
		group.Go(func() error {
			util.Info("Starting ACME challenge listener on port 80")
			if err := acmeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("acme listener: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return serve(server, cfg)
	})

	group.Go(func() error {
		err := f.RunCleanupLoop(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		<-ctx.Done()
		util.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if acmeServer != nil {
			_ = acmeServer.Shutdown(shutdownCtx)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		util.Error("Server exited with error", util.ErrorField(err))
		f.Close()
		os.Exit(1)
	}
	util.Info("Server stopped cleanly")
}

func serve(server *http.Server, cfg *config.Config) error {
	var err error
	if cfg.Server.EnableTLS {
		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
			util.Bool("auto_cert", cfg.Server.AutoCert))
		if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" && !cfg.Server.AutoCert {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			// Certificates resolve through the TLS manager
			err = server.ListenAndServeTLS("", "")
		}
	} else {
		util.Warn("Starting HTTP server, TLS is disabled",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr))
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
