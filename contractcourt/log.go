package contractcourt

import (
	"github.com/btcsuite/btclog"
	"github.com/chanledger/chanledger/build"
)

var (
	// log is a logger that is initialized with no output filters. This
	// means the package will not perform any logging by default until the
	// caller requests it.
	log btclog.Logger

	// brarLog is the logger used by the breach arbitrator.
	brarLog btclog.Logger

	// swprLog is the logger used by the timeout sweeper.
	swprLog btclog.Logger
)

// The default amount of logging is none.
func init() {
	UseLogger(build.NewSubLogger("CNCT", nil))
	UseBreachLogger(build.NewSubLogger("BRAR", nil))
	UseSweeperLogger(build.NewSubLogger("SWPR", nil))
}

// DisableLog disables all library log output. Logging output is disabled
// by default until UseLogger is called.
func DisableLog() {
	UseLogger(btclog.Disabled)
	UseBreachLogger(btclog.Disabled)
	UseSweeperLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// UseBreachLogger sets the logger of the breach arbitrator.
func UseBreachLogger(logger btclog.Logger) {
	brarLog = logger
}

// UseSweeperLogger sets the logger of the timeout sweeper.
func UseSweeperLogger(logger btclog.Logger) {
	swprLog = logger
}
