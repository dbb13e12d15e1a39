package main

import (
	"context"
	"embed"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ctax",
		Usage: "calculate capital gains of crypto currency trades",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "tax-year", Aliases: []string{"y"}, Usage: "tax year (overrides TAX_YEAR)"},
			&cli.StringFlag{Name: "settings", Aliases: []string{"s"}, Usage: "settings file (overrides SETTINGS_FILE)"},
			&cli.StringFlag{Name: "ordering", Usage: "lot ordering FIFO or LIFO (overrides LOT_ORDERING)"},
			&cli.StringFlag{Name: "csv", Usage: "write the report as CSV to this path"},
			&cli.StringFlag{Name: "xlsx", Usage: "write the report as XLSX to this path"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log debug messages"},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "import trades, resolve rates and calculate the report",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "start-step", Usage: "first step: 1 import, 2 rates, 3 calculate (overrides START_STEP)"},
				},
				Action: runCommand,
			},
			{
				Name:   "import",
				Usage:  "replace stored trades with the configured trade files",
				Action: stepCommand(stepImport),
			},
			{
				Name:   "rates",
				Usage:  "resolve exchange rates of stored trades",
				Action: stepCommand(stepRates),
			},
			{
				Name:   "calculate",
				Usage:  "calculate and write the report from stored trades",
				Action: stepCommand(stepCalculate),
			},
			{
				Name:   "balances",
				Usage:  "print closing balances at the end of the tax year",
				Action: balancesCommand,
			},
			{
				Name:   "serve",
				Usage:  "serve the report over HTTP",
				Action: serveCommand,
			},
		},
	}
}
