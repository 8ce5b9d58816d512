// Command relay serves the credential-attaching WebSocket proxy so browser
// clients can reach the realtime speech service without holding a key.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicebridge/internal/auth"
	"voicebridge/internal/channel"
	"voicebridge/internal/config"
	"voicebridge/internal/relay"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	var creds auth.TokenProvider
	if cfg.APIKey != "" {
		creds = auth.StaticKey{Key: cfg.APIKey}
	} else {
		creds = auth.NewClientCredentials(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret)
	}

	srv := relay.New(relay.Options{
		Upstream: channel.Options{
			Endpoint:    cfg.Endpoint,
			APIVersion:  cfg.APIVersion,
			ProjectName: cfg.ProjectName,
			AgentID:     cfg.AgentID,
			ModelID:     cfg.ModelID,
			Credentials: creds,
		},
	})

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("relay listening on %s", cfg.HTTPAddress)
		serverErrors <- srv.Start(cfg.HTTPAddress)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("relay error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
