package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/script"
	"github.com/urfave/cli"
)

var listOutputsCommand = cli.Command{
	Name:     "listoutputs",
	Category: "Outputs",
	Usage:    "List the outputs of the ledger.",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "all",
			Usage: "include outputs that have been consumed",
		},
		cli.StringFlag{
			Name: "kind",
			Usage: "only list outputs with this script kind, one of " +
				"Payable, Multisig, LocalCommitment or HTLC",
		},
	},
	Action: actionDecorator(listOutputs),
}

func listOutputs(ctx *cli.Context, db *ledgerdb.DB) error {
	kind := ctx.String("kind")

	outputs := make([]*outputJSON, 0)
	err := db.ForEachOutput(func(o *ledgerdb.Output) error {
		if !o.Exists && !ctx.Bool("all") {
			return nil
		}
		if kind != "" && !strings.EqualFold(
			o.Script.Kind().String(), kind,
		) {

			return nil
		}

		j, err := newOutputJSON(o)
		if err != nil {
			return err
		}
		outputs = append(outputs, j)

		return nil
	})
	if err != nil {
		return err
	}

	return printJSON(ctx.App.Writer, outputs)
}

var getOutputCommand = cli.Command{
	Name:      "getoutput",
	Category:  "Outputs",
	Usage:     "Show a single output.",
	ArgsUsage: "id",
	Action:    actionDecorator(getOutput),
}

func getOutput(ctx *cli.Context, db *ledgerdb.DB) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "getoutput")
	}

	id, err := ledgertypes.OutputIDFromStr(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid output id: %w", err)
	}

	o, err := db.FetchOutput(id)
	if err != nil {
		return err
	}

	j, err := newOutputJSON(o)
	if err != nil {
		return err
	}

	return printJSON(ctx.App.Writer, j)
}

var listChannelsCommand = cli.Command{
	Name:     "listchannels",
	Category: "Channels",
	Usage:    "List the channels of the ledger.",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "all",
			Usage: "include closed channels",
		},
		cli.BoolFlag{
			Name:  "encumbered",
			Usage: "only list channels with a pending commitment",
		},
	},
	Action: actionDecorator(listChannels),
}

func listChannels(ctx *cli.Context, db *ledgerdb.DB) error {
	channels := make([]*channelJSON, 0)
	err := db.ForEachChannel(func(c *ledgerdb.Channel) error {
		if !c.Open && !ctx.Bool("all") {
			return nil
		}
		if ctx.Bool("encumbered") && c.Encumbrance.IsNone() {
			return nil
		}
		channels = append(channels, newChannelJSON(c))

		return nil
	})
	if err != nil {
		return err
	}

	return printJSON(ctx.App.Writer, channels)
}

var getChannelCommand = cli.Command{
	Name:      "getchannel",
	Category:  "Channels",
	Usage:     "Show a single channel.",
	ArgsUsage: "id",
	Action:    actionDecorator(getChannel),
}

func getChannel(ctx *cli.Context, db *ledgerdb.DB) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "getchannel")
	}

	id, err := ledgertypes.ChannelIDFromStr(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid channel id: %w", err)
	}

	c, err := db.FetchChannel(id)
	if err != nil {
		return err
	}

	return printJSON(ctx.App.Writer, newChannelJSON(c))
}

var decodeScriptCommand = cli.Command{
	Name:      "decodescript",
	Category:  "Scripts",
	Usage:     "Decode a hex encoded script.",
	ArgsUsage: "hex",
	Action:    decodeScript,
}

func decodeScript(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "decodescript")
	}

	raw, err := hex.DecodeString(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}

	s, err := script.Parse(raw)
	if err != nil {
		return err
	}

	j, err := newScriptJSON(s)
	if err != nil {
		return err
	}

	return printJSON(ctx.App.Writer, j)
}

var statsCommand = cli.Command{
	Name:  "stats",
	Usage: "Summarize the value held by the ledger.",
	Description: `
	Prints output and channel counts and the total value held, which must
	equal the balance the ledger's gateway holds in custody.`,
	Action: actionDecorator(stats),
}

func stats(ctx *cli.Context, db *ledgerdb.DB) error {
	s := &statsJSON{
		ScriptsByKind: make(map[string]int),
	}

	err := db.ForEachOutput(func(o *ledgerdb.Output) error {
		s.Outputs++
		if !o.Exists {
			return nil
		}

		s.LiveOutputs++
		s.LiveValue += int64(o.Value)
		s.ScriptsByKind[o.Script.Kind().String()]++

		return nil
	})
	if err != nil {
		return err
	}

	err = db.ForEachChannel(func(c *ledgerdb.Channel) error {
		s.Channels++
		if !c.Open {
			return nil
		}

		total, err := c.Total()
		if err != nil {
			return err
		}
		s.OpenChannels++
		s.LockedValue += int64(total)
		if c.Encumbrance.IsSome() {
			s.Encumbered++
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.CustodyTotal = s.LiveValue + s.LockedValue

	return printJSON(ctx.App.Writer, s)
}
