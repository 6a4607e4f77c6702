// Command relay serves the peripheral read-only WebSocket relay described
// in spec §10, tailing a recorder run's live output for local subscribers.
// Matches mm_api/relay.py's main/_run_server CLI entrypoint.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chaindrift/mdrecorder/internal/gclog"
	"github.com/chaindrift/mdrecorder/internal/relay"
)

func main() {
	app := &cli.App{
		Name:  "relay",
		Usage: "tail recorded live output and rebroadcast it over WebSocket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Value: "data", Usage: "root directory recorder output is written under"},
			&cli.StringFlag{Name: "addr", Value: ":8090", Usage: "listen address"},
			&cli.BoolFlag{Name: "live-only", Value: true, Usage: "tail only the live/ NDJSON tail files, not durable CSVs"},
			&cli.DurationFlag{Name: "poll-interval", Value: time.Second, Usage: "how often to poll for new lines"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := relay.DefaultConfig(c.String("data-dir"))
	cfg.LiveOnly = c.Bool("live-only")
	cfg.PollInterval = c.Duration("poll-interval")

	srv := relay.NewServer(cfg)
	addr := c.String("addr")

	gclog.Infof(gclog.Relay, "relay listening addr=%s data_dir=%s live_only=%v", addr, cfg.DataDir, cfg.LiveOnly)
	return http.ListenAndServe(addr, srv.Handler())
}
