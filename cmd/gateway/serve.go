package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngoclaw/llmgateway/internal/balancer"
	"github.com/ngoclaw/llmgateway/internal/config"
	"github.com/ngoclaw/llmgateway/internal/configstore"
	"github.com/ngoclaw/llmgateway/internal/forwarder"
	"github.com/ngoclaw/llmgateway/internal/gatewaylog"
	"github.com/ngoclaw/llmgateway/internal/httpapi"
	"github.com/ngoclaw/llmgateway/internal/modelmap"
	"github.com/ngoclaw/llmgateway/internal/status"
	"github.com/ngoclaw/llmgateway/pkg/safego"
)

func newServeCommand() *cobra.Command {
	var bootConfigPath string
	var accountsConfigPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(bootConfigPath, accountsConfigPath)
		},
	}
	cmd.Flags().StringVar(&bootConfigPath, "config", "config.yaml", "path to the process bootstrap config file")
	cmd.Flags().StringVar(&accountsConfigPath, "accounts", "accounts.yaml", "path to the providers/accounts configuration collaborator file")
	return cmd
}

func runServe(bootConfigPath, accountsConfigPath string) error {
	bootCfg, err := config.Load(bootConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := gatewaylog.New(gatewaylog.Config{Level: bootCfg.LogLevel, Format: bootCfg.LogFormat})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting gateway", zap.String("name", appName), zap.String("version", appVersion))

	store := configstore.New(logger)
	if err := store.LoadFile(accountsConfigPath); err != nil {
		return fmt.Errorf("load accounts config: %w", err)
	}

	mapper := modelmap.New(store.GetConfig().ModelMappings)
	bal := balancer.New(store, mapper)
	statusc := status.New()
	fwd := forwarder.New(store, bal, statusc, bootCfg.Timeout())

	watcher := config.NewWatcher(accountsConfigPath, func(path string) error {
		if err := store.LoadFile(path); err != nil {
			return err
		}
		bal.SetMapper(modelmap.New(store.GetConfig().ModelMappings))
		return nil
	}, logger)
	safego.Go(logger, "config-watcher", func() {
		if err := watcher.Start(); err != nil {
			logger.Warn("config watcher stopped", zap.Error(err))
		}
	})
	defer watcher.Stop()

	server := httpapi.New(store, bal, fwd, statusc, logger)
	engine := server.Routes(*bootCfg)

	addr := fmt.Sprintf("%s:%d", bootCfg.Host, bootCfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	safego.Go(logger, "http-server", func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		return err
	}
	logger.Info("gateway stopped")
	return nil
}
