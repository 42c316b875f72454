// Command herald-agent is the customer-run binary that holds the outbound
// tunnel connection to a Herald server and forwards pushed signals to a
// local HTTP handler (spec §4.C8).
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/heraldhq/herald/internal/logging"
	"github.com/heraldhq/herald/pkg/agentclient"
)

func main() {
	bootLogger := logging.New("info", "console")

	cfg, err := loadAgentConfig()
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load agent configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := agentclient.New(agentclient.Config{
		ServerURL:    cfg.TunnelURL,
		ApiKey:       cfg.ApiKey,
		ForwardURL:   cfg.ForwardURL,
		ForwardToken: cfg.ForwardToken,
	}, logger)

	logger.Info().Str("tunnel_url", cfg.TunnelURL).Str("forward_url", cfg.ForwardURL).Msg("herald-agent starting")

	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("herald-agent exited with error")
	}
}
