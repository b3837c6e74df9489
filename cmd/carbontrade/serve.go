package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	grpcsvc "github.com/dennislee928/carbontrade/grpc"
	"github.com/dennislee928/carbontrade/server"
	gormstore "github.com/dennislee928/carbontrade/stores/gorm"
)

const (
	shutdownTimeout = 15 * time.Second
	cleanupInterval = time.Hour
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			db, err := gormstore.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if err := gormstore.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			app, err := server.Build(cfg, db)
			if err != nil {
				return err
			}

			httpSrv := &http.Server{
				Addr:              cfg.HTTPAddr(),
				Handler:           app.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			grpcSrv, health := grpcsvc.NewServer(grpcsvc.NewInterceptorConfig(app.Middleware.VerifyCredential))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				slog.Info("http listening", "addr", httpSrv.Addr)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				lis, err := net.Listen("tcp", cfg.GRPCAddr())
				if err != nil {
					return err
				}
				slog.Info("grpc listening", "addr", lis.Addr().String())
				return grpcSrv.Serve(lis)
			})
			g.Go(func() error {
				ticker := time.NewTicker(cleanupInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						if err := app.API.RefreshTokenStore.CleanupExpiredTokens(); err != nil {
							slog.Warn("refresh token cleanup failed", "error", err)
						}
					}
				}
			})
			g.Go(func() error {
				<-ctx.Done()
				slog.Info("shutting down")
				health.Shutdown()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				grpcSrv.GracefulStop()
				return httpSrv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := gormstore.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if err := gormstore.AutoMigrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
