package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/embedding"
	"github.com/flarexio/ragblade/persistence"

	mcpE "github.com/flarexio/ragblade/mcp"
	natsT "github.com/flarexio/ragblade/transport/nats"
)

func main() {
	cmd := &cli.Command{
		Name:  "ragblade_mcp_server",
		Usage: "RAGBlade MCP Server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "path",
				Usage:   "Path to a local RAGBlade service, used when no edge ID is given",
				Sources: cli.EnvVars("RAGBLADE_PATH"),
			},
			&cli.StringFlag{
				Name:    "nats",
				Usage:   "NATS server URL",
				Value:   "wss://nats.flarex.io",
				Sources: cli.EnvVars("NATS_URL"),
			},
			&cli.StringFlag{
				Name:    "nats-creds",
				Usage:   "NATS user credentials file",
				Sources: cli.EnvVars("NATS_CREDS"),
			},
			&cli.StringFlag{
				Name:  "edge-id",
				Usage: "Edge ID of a remote RAGBlade service reached over NATS",
			},
		},
		Action: run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// development logs go to stderr, stdout carries the protocol
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	zap.ReplaceGlobals(log)

	var svc ragblade.Service

	if edgeID := cmd.String("edge-id"); edgeID != "" {
		nc, err := nats.Connect(cmd.String("nats"),
			nats.Name("RAGBlade MCP Server - "+edgeID),
			nats.UserCredentials(cmd.String("nats-creds")),
		)

		if err != nil {
			return err
		}
		defer nc.Drain()

		topic := fmt.Sprintf("edges.%s.ragblade", edgeID)
		endpoints := natsT.MakeEndpoints(nc, topic)

		svc = ragblade.ProxyMiddleware(endpoints)(svc)
	} else {
		local, err := openLocalService(cmd.String("path"))
		if err != nil {
			return err
		}
		defer local.Close()

		svc = local
	}

	s := NewStdioMCPServer(os.Stdin, os.Stdout)
	s.AddEndpoint(mcp.MethodInitialize, mcpE.InitializeEndpoint(svc))
	s.AddEndpoint(mcp.MethodPing, mcpE.PingEndpoint(svc))
	s.AddEndpoint(mcp.MethodToolsList, mcpE.ListToolsEndpoint(svc))
	s.AddEndpoint(mcp.MethodToolsCall, mcpE.CallToolEndpoint(svc))

	done := make(chan error, 1)
	go func() {
		done <- s.Listen(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-quit:
		cancel()
		return nil

	case err := <-done:
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	}
}

func openLocalService(path string) (ragblade.Service, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		path = filepath.Join(homeDir, ".flarex", "ragblade")
	}

	f, err := os.Open(filepath.Join(path, "config.yaml"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg ragblade.Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Vector.Persistent && cfg.Vector.Path == "" {
		cfg.Vector.Path = filepath.Join(path, "vectors")
	}

	provider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	if cfg.Vector.Dimension == 0 {
		cfg.Vector.Dimension = provider.Dimension()
	}

	store, err := persistence.NewStore(context.Background(), cfg.Vector, provider)
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
