// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/newsrag"
	"github.com/poiesic/newsrag/config"
	"github.com/poiesic/newsrag/server"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "newsrag",
		Usage: "Answer questions about recent news with cited sources",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a config file (yaml, json or toml)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the refresh scheduler",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address, overrides server.address",
					},
				},
			},
			{
				Name:   "refresh",
				Usage:  "Fetch the feed once, rebuild the index and print the report",
				Action: refreshCommand,
			},
			{
				Name:      "ask",
				Usage:     "Answer one question and print the cited sources",
				ArgsUsage: "<question>",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "refresh",
						Usage: "Refresh the article set before answering even when one is stored",
					},
				},
			},
		},
	}
}

func loadApp(c *cli.Context, opts ...newsrag.Option) (*newsrag.App, *config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	app, err := newsrag.New(c.Context, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return app, cfg, nil
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cfg, err := loadApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Start(ctx); err != nil {
		return err
	}

	srv, err := server.New(app, server.WithMetricsHandler(app.Metrics().Handler()))
	if err != nil {
		return err
	}
	addr := cfg.Server.Address
	if a := c.String("addr"); a != "" {
		addr = a
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func refreshCommand(c *cli.Context) error {
	app, _, err := loadApp(c, newsrag.WithProgress(c.App.ErrWriter))
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Refresh(c.Context)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}

	app, _, err := loadApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Start(c.Context); err != nil {
		return err
	}
	if c.Bool("refresh") {
		if _, err := app.Refresh(c.Context); err != nil {
			return err
		}
	}

	out := c.App.Writer
	sources, err := app.Ask(c.Context, question, out)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	if len(sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for i, src := range sources {
			fmt.Fprintf(out, "  [%d] %s - %s\n", i+1, src.Title, src.URL)
		}
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
