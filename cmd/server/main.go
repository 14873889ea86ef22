package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/engagement-webhooks/internal/api"
	"github.com/ignite/engagement-webhooks/internal/app"
	"github.com/ignite/engagement-webhooks/internal/config"
	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
	"github.com/ignite/engagement-webhooks/internal/signature"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	app.ConfigureLogger(cfg.Log)

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	verifier := signature.New(cfg.Webhook.VerificationKey, cfg.Webhook.FreshnessWindow())
	if !verifier.Enabled() {
		logger.Warn("[server] no webhook verification key configured; signatures will not be checked")
	}

	ops := &api.OpsHandlers{Metrics: a.Metrics}
	if a.SQSQueue == nil {
		ops.Retries = a.Retries
	}
	var archive api.ArchivePinger
	if a.AWS != nil && cfg.Archive.S3Bucket != "" {
		archive = a.AWS
	}

	router := api.SetupRoutes(api.RouterDeps{
		WebhookPath: cfg.Webhook.Path,
		Webhook: api.NewWebhookHandler(verifier, a.Webhook, api.WebhookOptions{
			Source:          cfg.Webhook.Source,
			SignatureHeader: cfg.Webhook.SignatureHeader,
			TimestampHeader: cfg.Webhook.TimestampHeader,
			MaxBodyBytes:    cfg.Webhook.MaxBodyBytes,
		}),
		Health:         api.NewHealthChecker(a.DB, a.Redis, archive),
		Ops:            ops,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	server := api.NewServer(cfg.Server, router)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		logger.Info("[server] listening", "addr", addr, "webhook_path", cfg.Webhook.Path)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	logger.Info("[server] shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("[server] shutdown error", "error", err.Error())
	}
	logger.Info("[server] stopped")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}
