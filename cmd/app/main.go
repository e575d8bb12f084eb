package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/portal/internal"
	pkgconfig "github.com/starford/portal/pkg/config"
)

const exampleConfig = "config/config.example.yaml"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(cmd.String("config"), exampleConfig, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func compile(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Logs go to stderr so the compiled note can be piped.
	return internal.RunCompile(ctx, cmd.String("vault"), cmd.String("note"), cmd.String("dest"),
		internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func publish(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunPublish(ctx, cmd.String("dest"), cmd.String("out"),
		internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func main() {
	destFlag := func(def string) *cli.StringFlag {
		return &cli.StringFlag{
			Name:  "dest",
			Usage: "Output destination: source, markdown, html or preview",
			Value: def,
		}
	}

	cmd := &cli.Command{
		Name:   "portal",
		Usage:  "Compile notes by expanding note references across vaults",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, live preview events and the file watcher",
				Action: serve,
			},
			{
				Name:   "compile",
				Usage:  "Compile one note and print it",
				Action: compile,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "vault", Usage: "Vault of the note", Required: true},
					&cli.StringFlag{Name: "note", Usage: "Note name or vault-relative path", Required: true},
					destFlag("markdown"),
				},
			},
			{
				Name:   "publish",
				Usage:  "Compile every note into an output directory",
				Action: publish,
				Flags: []cli.Flag{
					destFlag("html"),
					&cli.StringFlag{Name: "out", Usage: "Output directory (default publish.output_dir)"},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
