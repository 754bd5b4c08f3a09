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

	"enrollment-service/handlers"
	"enrollment-service/internal/auth"
	"enrollment-service/internal/config"
	"enrollment-service/internal/consul"
	"enrollment-service/internal/orders"
	"enrollment-service/pkg/logkey"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	keys, err := auth.LoadKeys(cfg.AuthPublicKey)
	if err != nil {
		return fmt.Errorf("failed to load auth keys: %w", err)
	}

	a, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := orders.Migrate(ctx, a.db); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.API(cfg.EndpointPrefix, cfg.GinMode, keys, a.purchase, a.writer),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus(cfg.ServiceName, healthpb.HealthCheckResponse_SERVING)

	if cfg.ConsulAdr != "" {
		deregister, err := registerWithConsul(cfg)
		if err != nil {
			return err
		}
		defer deregister()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", slog.String("Addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("grpc server listening", slog.String("Addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		hs.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})
	return g.Wait()
}

func registerWithConsul(cfg config.Config) (func(), error) {
	client, err := consul.NewClient(cfg.ConsulAdr)
	if err != nil {
		return nil, err
	}
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname: %w", err)
	}
	id, err := consul.RegisterService(client, cfg.ServiceName, host, cfg.HTTPAddr)
	if err != nil {
		return nil, err
	}
	slog.Info("registered with consul", slog.String("Service ID", id))
	return func() {
		if err := consul.Deregister(client, id); err != nil {
			slog.Error("failed to deregister from consul", slog.String(logkey.ERROR, err.Error()))
		}
	}, nil
}
