package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/source"

	mcpE "github.com/flarexio/ragblade/mcp"
	httpT "github.com/flarexio/ragblade/transport/http"
	natsT "github.com/flarexio/ragblade/transport/nats"
)

func main() {
	cmd := &cli.Command{
		Name:  "ragblade",
		Usage: "RAGBlade document ingestion and retrieval",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "path",
				Usage:   "Path to the RAGBlade service",
				Sources: cli.EnvVars("RAGBLADE_PATH"),
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			ingestCommand,
			retrieveCommand,
			countCommand,
			serveCommand,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		json.NewEncoder(os.Stderr).Encode(map[string]string{
			"error": err.Error(),
		})

		os.Exit(1)
	}
}

func setupLogger(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	log, err := zap.NewDevelopment()
	if err != nil {
		return ctx, err
	}

	zap.ReplaceGlobals(log)
	return ctx, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var ingestCommand = &cli.Command{
	Name:      "ingest",
	Usage:     "Chunk, embed and store files or directories",
	ArgsUsage: "<file|dir>...",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "replace",
			Usage: "Delete earlier records of each source before storing",
		},
		&cli.BoolFlag{
			Name:  "scraped",
			Usage: "Derive source refs from scraped file names (example.com_terms.txt)",
		},
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "Keep running and re-ingest files when they change",
		},
	},
	Action: ingest,
}

func ingest(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return errors.New("at least one file or directory is required")
	}

	ref := source.PathRef
	if cmd.Bool("scraped") {
		ref = source.ScrapedRef
	}

	svc, err := openService(ctx, cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	log := zap.L()
	replace := cmd.Bool("replace")

	reports := make([]*ragblade.IngestReport, 0)
	var errs []error

	for _, path := range paths {
		docs, err := source.Collect(ctx, path, ref)
		if err != nil {
			errs = append(errs, err)
		}

		for _, doc := range docs {
			report, err := svc.Ingest(ctx, doc.SourceRef, doc.Text, replace)
			if report != nil {
				reports = append(reports, report)
			}

			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := printJSON(reports); err != nil {
		return err
	}

	if err := errors.Join(errs...); err != nil {
		if !cmd.Bool("watch") {
			return err
		}

		log.Warn("initial ingest incomplete", zap.Error(err))
	}

	if !cmd.Bool("watch") {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := source.NewWatcher(svc, ref)
	if err != nil {
		return err
	}

	for _, path := range paths {
		if err := w.Add(path); err != nil {
			return err
		}
	}

	log.Info("watching for changes", zap.Strings("paths", paths))
	return w.Run(ctx)
}

var retrieveCommand = &cli.Command{
	Name:      "retrieve",
	Usage:     "Return the chunks most similar to a query",
	ArgsUsage: "<query>",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "k",
			Usage: "Number of chunks to return",
			Value: ragblade.DefaultK,
		},
		&cli.StringSliceFlag{
			Name:  "source-ref",
			Usage: "Only return chunks of these sources",
		},
	},
	Action: retrieve,
}

func retrieve(ctx context.Context, cmd *cli.Command) error {
	query := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("query is required")
	}

	svc, err := openService(ctx, cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	docs, err := svc.Retrieve(ctx, query, int(cmd.Int("k")), cmd.StringSlice("source-ref")...)
	if err != nil {
		return err
	}

	return printJSON(docs)
}

var countCommand = &cli.Command{
	Name:  "count",
	Usage: "Print the number of stored records",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		svc, err := openService(ctx, cmd)
		if err != nil {
			return err
		}
		defer svc.Close()

		n, err := svc.Count(ctx)
		if err != nil {
			return err
		}

		return printJSON(map[string]int{"count": n})
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve the HTTP, MCP and NATS transports",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "http-addr",
			Usage: "HTTP server address",
			Value: ":8080",
		},
		&cli.StringFlag{
			Name:    "nats",
			Usage:   "NATS server URL, NATS transport is disabled when empty",
			Sources: cli.EnvVars("NATS_URL"),
		},
	},
	Action: serve,
}

func serve(ctx context.Context, cmd *cli.Command) error {
	log := zap.L()

	svc, err := openService(ctx, cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	endpoints := ragblade.NewEndpointSet(svc)

	// Add NATS Transport
	if natsURL := cmd.String("nats"); natsURL != "" {
		path, err := servicePath(cmd)
		if err != nil {
			return err
		}

		idBytes, err := os.ReadFile(filepath.Join(path, "id"))
		if err != nil {
			return err
		}

		edgeID := strings.TrimSpace(string(idBytes))

		nc, err := nats.Connect(natsURL,
			nats.Name("RAGBlade Server - "+edgeID),
			nats.UserCredentials(filepath.Join(path, "user.creds")),
		)

		if err != nil {
			return err
		}
		defer nc.Drain()

		srv, err := micro.AddService(nc, micro.Config{
			Name:    "ragblade",
			Version: "1.0.0",
		})

		if err != nil {
			return err
		}
		defer srv.Stop()

		topic := "edges." + edgeID + ".ragblade"

		root := srv.AddGroup(topic)
		if err := natsT.AddEndpoints(root, endpoints); err != nil {
			return err
		}
	}

	// Add HTTP Transport
	{
		r := gin.Default()
		httpT.AddRouters(r, endpoints)

		endpoints := make(map[mcp.MCPMethod]mcpE.MCPEndpoint)
		endpoints[mcp.MethodInitialize] = mcpE.InitializeEndpoint(svc)
		endpoints[mcp.MethodPing] = mcpE.PingEndpoint(svc)
		endpoints[mcp.MethodToolsList] = mcpE.ListToolsEndpoint(svc)
		endpoints[mcp.MethodToolsCall] = mcpE.CallToolEndpoint(svc)
		httpT.AddStreamableRouters(r, endpoints)

		httpAddr := cmd.String("http-addr")
		go func() {
			if err := r.Run(httpAddr); err != nil {
				log.Error("http server stopped", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sign := <-quit

	log.Info("graceful shutdown", zap.String("signal", sign.String()))
	return nil
}
