// Command recorder runs one exchange/symbol live market-data recording
// session end to end, matching run_recorder.py's CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/chaindrift/mdrecorder/internal/adapter"
	"github.com/chaindrift/mdrecorder/internal/config"
	"github.com/chaindrift/mdrecorder/internal/gclog"
	"github.com/chaindrift/mdrecorder/internal/recorder"
)

func main() {
	app := &cli.App{
		Name:  "recorder",
		Usage: "record one exchange/symbol's live order book, trades, and events to disk",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "exchange", Usage: "exchange to record (binance, kraken, bitfinex)"},
			&cli.StringFlag{Name: "symbol", Usage: "symbol to record, in the exchange's own notation"},
			&cli.StringFlag{Name: "data-dir", Usage: "root directory output is written under"},
			&cli.BoolFlag{Name: "verbose", Usage: "emit debug-level subsystem logs"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	applyStringFlag(c, "exchange", "EXCHANGE")
	applyStringFlag(c, "symbol", "SYMBOL")
	applyStringFlag(c, "data-dir", "DATA_DIR")

	gclog.SetVerbose(c.Bool("verbose"))

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ad, err := adapter.ByName(cfg.Exchange)
	if err != nil {
		return err
	}

	rec, err := recorder.New(cfg, ad)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gclog.Infof(gclog.Recorder, "starting recorder exchange=%s symbol=%s data_dir=%s", cfg.Exchange, cfg.Symbol, cfg.DataDir)
	return rec.Run(ctx)
}

// applyStringFlag mirrors config.Load's environment-variable surface: a CLI
// flag, when set, wins over whatever the process environment already has.
func applyStringFlag(c *cli.Context, flagName, envName string) {
	if v := c.String(flagName); v != "" {
		os.Setenv(envName, v)
	}
}
