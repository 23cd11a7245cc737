package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/urfave/cli"

	"github.com/jmylchreest/ledger-api/internal/database"
	"github.com/jmylchreest/ledger-api/internal/database/migrations"
	"github.com/jmylchreest/ledger-api/internal/database/migrations/core"
	"github.com/jmylchreest/ledger-api/internal/ledger"
	"github.com/jmylchreest/ledger-api/internal/logging"
)

func getStore(ctx *cli.Context) (*database.Store, error) {
	dsn := ctx.GlobalString("db")
	driver := ctx.GlobalString("driver")
	if driver == "" {
		driver = database.InferDriver(dsn)
	}
	return database.Open(database.Options{Driver: driver, DSN: dsn})
}

func getLogger(ctx *cli.Context) *slog.Logger {
	return logging.NewWithOptions(logging.Options{
		Level:  ctx.GlobalString("log-level"),
		Output: os.Stderr,
	})
}

func getRunner(ctx *cli.Context, store *database.Store) (*migrations.Runner, error) {
	return core.NewRunner(store, nil, migrations.WithLogger(getLogger(ctx)))
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

var migrateCommand = cli.Command{
	Name:  "migrate",
	Usage: "Apply every pending migration step.",
	Description: `
	Brings each logical database up to the latest schema version known to
	this binary, then prints the stored versions. Running it against a
	current store changes nothing.`,
	Action: migrate,
}

func migrate(ctx *cli.Context) error {
	store, err := getStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runner, err := getRunner(ctx, store)
	if err != nil {
		return err
	}
	if err := runner.Run(context.Background()); err != nil {
		return err
	}

	versions, err := migrations.Versions(context.Background(), store)
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, versions)
}

var statusCommand = cli.Command{
	Name:   "status",
	Usage:  "Show the schema version and pending steps of each database.",
	Action: status,
}

func status(ctx *cli.Context) error {
	store, err := getStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runner, err := getRunner(ctx, store)
	if err != nil {
		return err
	}
	statuses, err := runner.Status(context.Background())
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, statuses)
}

var balanceCommand = cli.Command{
	Name:      "balance",
	Usage:     "Show the balance of one wallet, or of every wallet.",
	ArgsUsage: "[wallet]",
	Action:    balance,
}

func balance(ctx *cli.Context) error {
	store, err := getStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	repo := ledger.NewRepository(store)

	if wallet := ctx.Args().First(); wallet != "" {
		amount, err := repo.Balance(context.Background(), wallet)
		if err != nil {
			return err
		}
		return printJSON(ctx.App.Writer, ledger.Balance{Wallet: wallet, Balance: amount})
	}

	balances, err := repo.Balances(context.Background())
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, balances)
}

var paymentsCommand = cli.Command{
	Name:      "payments",
	Usage:     "List the payments of a wallet, newest first.",
	ArgsUsage: "wallet",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "pending", Usage: "only pending payments"},
		cli.BoolFlag{Name: "complete", Usage: "only settled payments"},
		cli.BoolFlag{Name: "incoming", Usage: "only payments that credit the wallet"},
		cli.BoolFlag{Name: "outgoing", Usage: "only payments that debit the wallet"},
		cli.IntFlag{Name: "limit", Value: 50, Usage: "maximum number of payments"},
		cli.IntFlag{Name: "offset", Usage: "number of payments to skip"},
	},
	Action: payments,
}

func payments(ctx *cli.Context) error {
	wallet := ctx.Args().First()
	if wallet == "" {
		return cli.ShowCommandHelp(ctx, "payments")
	}

	store, err := getStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	list, err := ledger.NewRepository(store).ListPayments(context.Background(), wallet, ledger.ListFilter{
		Pending:  ctx.Bool("pending"),
		Complete: ctx.Bool("complete"),
		Incoming: ctx.Bool("incoming"),
		Outgoing: ctx.Bool("outgoing"),
		Limit:    ctx.Int("limit"),
		Offset:   ctx.Int("offset"),
	})
	if err != nil {
		return err
	}
	if list == nil {
		list = []*ledger.Payment{}
	}
	return printJSON(ctx.App.Writer, list)
}

var settleCommand = cli.Command{
	Name:      "settle",
	Usage:     "Mark a pending payment as settled.",
	ArgsUsage: "wallet checking_id",
	Description: `
	Completes a pending payment, recording the final routing fee and the
	preimage when given. A fee of 0 keeps the fee stored at creation.
	Settled payments cannot be settled again.`,
	Flags: []cli.Flag{
		cli.Int64Flag{Name: "fee", Usage: "final fee in msat"},
		cli.StringFlag{Name: "preimage", Usage: "payment preimage"},
	},
	Action: settle,
}

func settle(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "settle")
	}
	wallet, checkingID := ctx.Args().Get(0), ctx.Args().Get(1)

	store, err := getStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	repo := ledger.NewRepository(store)
	err = repo.SettlePayment(context.Background(), wallet, checkingID, ledger.SettleParams{
		Fee:      ctx.Int64("fee"),
		Preimage: ctx.String("preimage"),
	})
	if err != nil {
		return err
	}

	p, err := repo.GetPayment(context.Background(), wallet, checkingID)
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, p)
}

var transferCommand = cli.Command{
	Name:      "transfer",
	Usage:     "Move funds between two wallets as an internal payment pair.",
	ArgsUsage: "from to amount",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "memo", Usage: "memo recorded on both payments"},
	},
	Action: transfer,
}

func transfer(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return cli.ShowCommandHelp(ctx, "transfer")
	}
	args := ctx.Args()

	amount, err := strconv.ParseInt(args.Get(2), 10, 64)
	if err != nil {
		return fmt.Errorf("unable to decode amount: %w", err)
	}

	store, err := getStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	checkingID, err := ledger.NewRepository(store).Transfer(context.Background(),
		args.Get(0), args.Get(1), amount, ctx.String("memo"))
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, map[string]string{"checking_id": checkingID})
}
