package main

import (
	"fmt"
	"os"

	"github.com/chanledger/chanledger/build"
	"github.com/chanledger/chanledger/chanstate"
	"github.com/chanledger/chanledger/contractcourt"
	"github.com/chanledger/chanledger/ledger"
	"github.com/chanledger/chanledger/ledgercfg"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/notifier"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[ledgerctl] %v\n", err)
	os.Exit(1)
}

// loadConfig turns the global flags into a ledger configuration.
func loadConfig(ctx *cli.Context) (*ledgercfg.Config, error) {
	var args []string
	if ctx.GlobalIsSet("datadir") {
		args = append(args, "--datadir="+ctx.GlobalString("datadir"))
	}
	if ctx.GlobalIsSet("configfile") {
		args = append(
			args, "--configfile="+ctx.GlobalString("configfile"),
		)
	}
	if ctx.GlobalIsSet("debuglevel") {
		args = append(
			args, "--debuglevel="+ctx.GlobalString("debuglevel"),
		)
	}

	return ledgercfg.LoadConfig(args)
}

// openDB opens the ledger database named by the global flags and sets up
// file logging next to it. The returned closure releases both.
func openDB(ctx *cli.Context) (*ledgercfg.Config, *ledgerdb.DB, func(),
	error) {

	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	rotator := build.NewRotatingLogWriter()
	mgr := build.NewSubLoggerManager(rotator)
	mgr.RegisterSubLogger("LDDB", ledgerdb.UseLogger)
	mgr.RegisterSubLogger("LDGR", ledger.UseLogger)
	mgr.RegisterSubLogger("CHST", chanstate.UseLogger)
	mgr.RegisterSubLogger("NTFR", notifier.UseLogger)
	mgr.RegisterSubLogger("CNCT", contractcourt.UseLogger)
	mgr.RegisterSubLogger("SWPR", contractcourt.UseSweeperLogger)
	if err := cfg.SetupLogging(mgr, rotator); err != nil {
		return nil, nil, nil, err
	}

	db, err := ledgerdb.Open(cfg.DBConfig())
	if err != nil {
		_ = rotator.Close()
		return nil, nil, nil, err
	}

	cleanUp := func() {
		_ = db.Close()
		_ = rotator.Close()
	}

	return cfg, db, cleanUp, nil
}

// actionDecorator opens the database for a command and closes it once the
// command returns.
func actionDecorator(f func(*cli.Context, *ledgerdb.DB) error) func(
	*cli.Context) error {

	return func(ctx *cli.Context) error {
		_, db, cleanUp, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer cleanUp()

		return f(ctx, db)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "ledgerctl"
	app.Usage = "inspect and sweep the outputs and channels of a ledger " +
		"database"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "datadir",
			Value: ledgercfg.DefaultDataDir,
			Usage: "The path to the ledger's data directory.",
		},
		cli.StringFlag{
			Name:  "configfile",
			Usage: "The path to the ledger's config file.",
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Usage: "The log level written to the ledger's log file.",
		},
	}
	app.Commands = []cli.Command{
		listOutputsCommand,
		getOutputCommand,
		listChannelsCommand,
		getChannelCommand,
		decodeScriptCommand,
		statsCommand,
		sweepCommand,
	}

	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}
