package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/persistence"
)

func servicePath(cmd *cli.Command) (string, error) {
	path := cmd.String("path")
	if path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".flarex", "ragblade"), nil
}

func loadConfig(path string) (ragblade.Config, error) {
	var cfg ragblade.Config

	f, err := os.Open(filepath.Join(path, "config.yaml"))
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	// an empty config.yaml leaves every field at its default
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, err
	}

	if cfg.Vector.Persistent && cfg.Vector.Path == "" {
		cfg.Vector.Path = filepath.Join(path, "vectors")
	}

	if p := cfg.Embedding.CachePath; p != "" && !filepath.IsAbs(p) {
		cfg.Embedding.CachePath = filepath.Join(path, p)
	}

	return cfg, nil
}

// openService wires the configured provider and store into a logged service.
func openService(ctx context.Context, cmd *cli.Command) (ragblade.Service, error) {
	path, err := servicePath(cmd)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}

	provider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	if cfg.Vector.Dimension == 0 {
		cfg.Vector.Dimension = provider.Dimension()
	}

	store, err := persistence.NewStore(ctx, cfg.Vector, provider)
	if err != nil {
		return nil, err
	}

	svc, err := ragblade.NewService(cfg, provider, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	return ragblade.LoggingMiddleware(zap.L())(svc), nil
}
