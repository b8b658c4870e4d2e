package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/aristath/distrogate/internal/config"
	"github.com/aristath/distrogate/internal/gate"
	"github.com/aristath/distrogate/internal/github"
)

// gateInputs are the gate's preconditions resolved from flags, config and
// the CI environment. Empty strings mean absent.
type gateInputs struct {
	repo  string
	pull  string
	token string
}

func resolveGateInputs(cfg *config.Config, repoFlag, pullFlag string) gateInputs {
	in := gateInputs{repo: repoFlag, pull: pullFlag}
	if in.repo == "" {
		in.repo = cfg.Repository
	}
	if in.repo == "" && cfg.Gate.RepoEnv != "" {
		in.repo = os.Getenv(cfg.Gate.RepoEnv)
	}
	if in.pull == "" && cfg.Gate.PullEnv != "" {
		in.pull = os.Getenv(cfg.Gate.PullEnv)
	}
	if cfg.Gate.TokenEnv != "" {
		in.token = os.Getenv(cfg.Gate.TokenEnv)
	}
	return in
}

func (in gateInputs) gateInput() gate.Input {
	return gate.Input{
		HasCredentials: in.token != "",
		RepoID:         in.repo,
		PullID:         in.pull,
	}
}

// labelFetcher queries the configured label source. The client is built on
// first use; the gate only fetches when a token is present.
func labelFetcher(gc config.GateConfig, token string, logger *zap.Logger) gate.LabelFetcher {
	return func(ctx context.Context, repoID, pullID string) (map[string]struct{}, error) {
		client, err := github.NewClient(github.Config{
			BaseURL: gc.BaseURL,
			Token:   token,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return client.LabelNames(ctx, repoID, pullID)
	}
}
