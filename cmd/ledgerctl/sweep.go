package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/chanledger/chanledger/chanstate"
	"github.com/chanledger/chanledger/contractcourt"
	"github.com/chanledger/chanledger/keychain"
	"github.com/chanledger/chanledger/ledger"
	"github.com/chanledger/chanledger/ledgercfg"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/chanledger/chanledger/ledgertypes"
	"github.com/chanledger/chanledger/notifier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
)

// errNoGateway is returned for any fund movement. Sweeping only creates
// outputs, so ledgerctl runs the engine without a token ledger.
var errNoGateway = errors.New("ledgerctl has no gateway attached")

// offlineGateway refuses every transfer.
type offlineGateway struct{}

// A compile time check to ensure offlineGateway implements ledger.Gateway.
var _ ledger.Gateway = (*offlineGateway)(nil)

func (offlineGateway) TransferIn(context.Context, ledgertypes.Party,
	ledgertypes.Amount) error {

	return errNoGateway
}

func (offlineGateway) TransferOut(context.Context, ledgertypes.Party,
	ledgertypes.Amount) error {

	return errNoGateway
}

func (offlineGateway) BalanceOf(context.Context,
	ledgertypes.Party) (ledgertypes.Amount, error) {

	return 0, errNoGateway
}

// fixedHeight is a height given on the command line.
type fixedHeight ledgertypes.Height

func (h fixedHeight) CurrentHeight() ledgertypes.Height {
	return ledgertypes.Height(h)
}

// fileHeight reads the current height from a file on every call, so an
// external process tracking the height can update it while ledgerctl
// watches. Unreadable or lower values leave the last height in place.
type fileHeight struct {
	path string

	mu   sync.Mutex
	last ledgertypes.Height
}

func newFileHeight(path string) (*fileHeight, error) {
	f := &fileHeight{path: ledgercfg.CleanAndExpandPath(path)}
	h, err := f.read()
	if err != nil {
		return nil, err
	}
	f.last = h

	return f, nil
}

func (f *fileHeight) read() (ledgertypes.Height, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid height in %v: %w", f.path, err)
	}

	return ledgertypes.Height(h), nil
}

func (f *fileHeight) CurrentHeight() ledgertypes.Height {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, err := f.read()
	if err == nil && h > f.last {
		f.last = h
	}

	return f.last
}

// readSigner loads the hex encoded private key of the local party.
func readSigner(path string) (*keychain.PrivKeyDigestSigner, error) {
	if path == "" {
		return nil, errors.New("--keyfile is required")
	}

	b, err := os.ReadFile(ledgercfg.CleanAndExpandPath(path))
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("unable to decode key: %w", err)
	}

	return keychain.NewSignerFromBytes(key)
}

var sweepCommand = cli.Command{
	Name:     "sweep",
	Category: "Channels",
	Usage: "Claim the encumbered value of expired commitments published " +
		"by the local party.",
	Description: `
	Times out every open channel whose pending commitment was published by
	the key in --keyfile and whose lock height has been reached, then
	prints the events of the resulting transitions.

	With --watch the sweep repeats at the configured sweeper.interval and
	events are printed as they are committed until ledgerctl is
	interrupted. Pair it with --heightfile so the height can advance.
	`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "keyfile",
			Usage: "file holding the hex encoded private key of the local party",
		},
		cli.Uint64Flag{
			Name:  "height",
			Usage: "the current height",
		},
		cli.StringFlag{
			Name: "heightfile",
			Usage: "read the current height from this file on " +
				"every sweep, overrides --height",
		},
		cli.BoolFlag{
			Name:  "watch",
			Usage: "keep sweeping until interrupted",
		},
	},
	Action: sweep,
}

func sweep(ctx *cli.Context) error {
	signer, err := readSigner(ctx.String("keyfile"))
	if err != nil {
		return err
	}

	var heights ledger.HeightOracle
	switch {
	case ctx.IsSet("heightfile"):
		heights, err = newFileHeight(ctx.String("heightfile"))
		if err != nil {
			return err
		}

	case ctx.IsSet("height"):
		if ctx.Uint64("height") > uint64(^uint32(0)) {
			return fmt.Errorf("height %d out of range",
				ctx.Uint64("height"))
		}
		heights = fixedHeight(ctx.Uint64("height"))

	default:
		return errors.New("one of --height or --heightfile is required")
	}

	cfg, db, cleanUp, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	s, err := newSweepServer(cfg, db, heights, signer)
	if err != nil {
		return err
	}

	if !ctx.Bool("watch") {
		return s.sweepOnce(ctx.App.Writer)
	}

	sigCtx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	return s.watch(sigCtx, ctx.App.Writer)
}

// sweepServer is the engine, event server and sweeper assembled from the
// configuration.
type sweepServer struct {
	events  *notifier.Server
	sweeper *contractcourt.TimeoutSweeper
}

func newSweepServer(cfg *ledgercfg.Config, db *ledgerdb.DB,
	heights ledger.HeightOracle,
	signer keychain.DigestSigner) (*sweepServer, error) {

	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	metrics, err := ledger.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}
	events, err := notifier.NewServer(&notifier.Config{})
	if err != nil {
		return nil, err
	}

	engine, err := ledger.New(&ledger.Config{
		DB:       db,
		Gateway:  offlineGateway{},
		Heights:  heights,
		IDPolicy: policy,
		Metrics:  metrics,
		Sinks:    []ledger.EventSink{events},
	})
	if err != nil {
		return nil, err
	}

	sweeper := contractcourt.NewTimeoutSweeper(&contractcourt.SweeperConfig{
		Resolver: chanstate.NewMachine(engine),
		Channels: engine,
		Heights:  heights,
		Signer:   signer,
		Ticker:   cfg.SweeperTicker(),
	})

	return &sweepServer{
		events:  events,
		sweeper: sweeper,
	}, nil
}

// sweepOnce runs a single sweep and prints the events it committed.
func (s *sweepServer) sweepOnce(w io.Writer) error {
	if err := s.events.Start(); err != nil {
		return err
	}
	sweepErr := s.sweeper.Sweep()

	// Stopping waits for the last notified event to be recorded.
	if err := s.events.Stop(); err != nil {
		return err
	}

	envelopes := s.events.Recent()
	resp := make([]*eventJSON, 0, len(envelopes))
	for _, env := range envelopes {
		j, err := newEventJSON(env)
		if err != nil {
			return err
		}
		resp = append(resp, j)
	}
	if err := printJSON(w, resp); err != nil {
		return err
	}

	return sweepErr
}

// watch runs the sweeper on its ticker and prints every event until ctx is
// done.
func (s *sweepServer) watch(ctx context.Context, w io.Writer) error {
	if err := s.events.Start(); err != nil {
		return err
	}
	defer func() {
		_ = s.events.Stop()
	}()

	client, err := s.events.Subscribe()
	if err != nil {
		return err
	}
	defer client.Cancel()

	if err := s.sweeper.Start(); err != nil {
		return err
	}
	defer func() {
		_ = s.sweeper.Stop()
	}()

	// Sweep right away rather than waiting a full interval.
	if err := s.sweeper.Sweep(); err != nil {
		fmt.Fprintf(os.Stderr, "[ledgerctl] sweep: %v\n", err)
	}

	for {
		select {
		case item := <-client.Updates():
			j, err := newEventJSON(item.(*notifier.Envelope))
			if err != nil {
				return err
			}
			if err := printJSON(w, j); err != nil {
				return err
			}

		case <-client.Quit():
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}
