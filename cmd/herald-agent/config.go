package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// agentConfig is herald-agent's own small env-driven config, the same
// caarlos0/env struct-tag pattern cmd/heraldd uses.
type agentConfig struct {
	TunnelURL    string `env:"HERALD_AGENT_TUNNEL_URL,required"`
	ApiKey       string `env:"HERALD_AGENT_API_KEY,required"`
	ForwardURL   string `env:"HERALD_AGENT_FORWARD_URL,required"`
	ForwardToken string `env:"HERALD_AGENT_FORWARD_TOKEN" envDefault:""`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

func loadAgentConfig() (*agentConfig, error) {
	_ = godotenv.Load()

	cfg := &agentConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent config: %w", err)
	}
	return cfg, nil
}
