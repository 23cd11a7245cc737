// Command ledgerctl migrates and inspects a ledger store from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/jmylchreest/ledger-api/internal/database"
	"github.com/jmylchreest/ledger-api/internal/version"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[ledgerctl] %v\n", err)
	os.Exit(1)
}

func newApp() *cli.App {
	v := version.Get()

	app := cli.NewApp()
	app.Name = "ledgerctl"
	app.Version = v.Version + " commit=" + v.Commit
	app.Usage = "migrate and inspect a ledger store"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "db",
			Value:  "file:ledger.db?_journal=WAL&_timeout=5000",
			Usage:  "The database URL.",
			EnvVar: "DATABASE_URL",
		},
		cli.StringFlag{
			Name: "driver",
			Usage: "The database driver: " + database.DriverLibSQL + ", " +
				database.DriverSQLite + " or " + database.DriverPostgres +
				". Inferred from --db when empty.",
			EnvVar: "DATABASE_DRIVER",
		},
		cli.StringFlag{
			Name:   "log-level",
			Value:  "warn",
			Usage:  "debug, info, warn or error.",
			EnvVar: "LOG_LEVEL",
		},
	}
	app.Commands = []cli.Command{
		migrateCommand,
		statusCommand,
		balanceCommand,
		paymentsCommand,
		settleCommand,
		transferCommand,
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}
