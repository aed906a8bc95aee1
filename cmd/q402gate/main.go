// q402gate — the pay-gated action execution gateway.
// Stands between clients wanting a privileged on-chain action and the node
// that executes it: 402 payment challenges, witness verification, guardrail
// policy, relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	q402gate "github.com/field2fridge/q402gate"
	"github.com/field2fridge/q402gate/gateway"
	"github.com/field2fridge/q402gate/policy"
	"github.com/field2fridge/q402gate/relay"
	"github.com/field2fridge/q402gate/seen"
)

// version is set by ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var listenAddr string

	cmd := &cobra.Command{
		Use:     "q402gate",
		Short:   "Pay-gated action execution gateway",
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath, listenAddr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "HTTP listen address (overrides config)")

	return cmd
}

func serve(ctx context.Context, configPath, listenAddr string) error {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg := &q402gate.Config{}
	if configPath != "" {
		fileCfg, err := q402gate.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = fileCfg
	}
	cfg.Merge(q402gate.FromEnv())
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var policies q402gate.PolicyLoader
	if cfg.PolicyURL != "" {
		policies = policy.NewClient(cfg.PolicyURL, cfg.PolicyTimeout)
	} else {
		log.Warn("no policy store configured; all requests get the restrictive policy")
		policies = restrictiveLoader{}
	}

	var seenStore q402gate.SeenStore
	if cfg.RedisAddr != "" {
		redisStore := seen.NewRedisStore(cfg.RedisAddr)
		defer redisStore.Close()
		seenStore = redisStore
		log.Info("replay protection backed by redis", "addr", cfg.RedisAddr)
	} else {
		seenStore = seen.NewMemoryStore()
	}

	evmRelay, err := relay.NewEVMRelay(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize relay: %w", err)
	}

	gw := gateway.New(cfg, log, policies, evmRelay, seenStore)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening",
			"addr", cfg.ListenAddr,
			"network", cfg.Network,
			"simulated", evmRelay.Simulated(),
			"version", version)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}

// restrictiveLoader denies by default when no policy store is configured.
type restrictiveLoader struct{}

func (restrictiveLoader) Load(context.Context, string) (q402gate.PolicySnapshot, error) {
	return q402gate.RestrictivePolicy(), nil
}
