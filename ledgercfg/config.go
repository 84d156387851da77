package ledgercfg

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/chanledger/chanledger/build"
	"github.com/chanledger/chanledger/ledger"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultConfigFilename is the name of the config file looked up in
	// the data directory.
	DefaultConfigFilename = "ledger.conf"

	// DefaultLogFilename is the name of the log file in the log
	// directory.
	DefaultLogFilename = "ledger.log"

	defaultLogDirname  = "logs"
	defaultLogLevel    = "info"
	defaultIDPolicy    = "content"
	defaultSweepPeriod = time.Minute
)

var (
	// DefaultDataDir is the default directory of the database, the config
	// file and the logs.
	DefaultDataDir = filepath.Join(homeDir(), ".chanledger")

	// ErrInvalidSweepInterval is returned for a non-positive sweeper
	// interval.
	ErrInvalidSweepInterval = errors.New("sweeper interval must be " +
		"positive")
)

// DB holds the database options.
//
//nolint:lll
type DB struct {
	Timeout        time.Duration `long:"timeout" description:"How long to wait for the database file lock"`
	NoFreelistSync bool          `long:"nofreelistsync" description:"Don't sync the freelist to disk, faster but slower to reopen after a crash"`
	AutoCompact    bool          `long:"autocompact" description:"Compact the database on startup"`
}

// Sweeper holds the timeout sweeper options.
//
//nolint:lll
type Sweeper struct {
	Interval time.Duration `long:"interval" description:"How often expired commitments are swept"`
}

// Config is the configuration of the ledger tools.
//
//nolint:lll
type Config struct {
	DataDir    string `short:"b" long:"datadir" description:"The directory holding the database, config file and logs"`
	ConfigFile string `short:"C" long:"configfile" description:"Path to the configuration file"`
	LogDir     string `long:"logdir" description:"Directory to log output"`

	IDPolicy   string `long:"idpolicy" description:"How new output ids are derived" choice:"content" choice:"sequential"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	MaxLogFiles    int `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	DB      *DB      `group:"db" namespace:"db"`
	Sweeper *Sweeper `group:"sweeper" namespace:"sweeper"`
}

// DefaultConfig returns the configuration with every option at its
// default.
func DefaultConfig() Config {
	return Config{
		DataDir:        DefaultDataDir,
		ConfigFile:     filepath.Join(DefaultDataDir, DefaultConfigFilename),
		LogDir:         filepath.Join(DefaultDataDir, defaultLogDirname),
		IDPolicy:       defaultIDPolicy,
		DebugLevel:     defaultLogLevel,
		MaxLogFiles:    build.DefaultMaxLogFiles,
		MaxLogFileSize: build.DefaultMaxLogFileSize,
		DB: &DB{
			Timeout: ledgerdb.DefaultDBTimeout,
		},
		Sweeper: &Sweeper{
			Interval: defaultSweepPeriod,
		},
	}
}

// LoadConfig builds the configuration from args and the config file.
//
// The configuration proceeds as follows:
//  1. Start with the default config.
//  2. Pre-parse args to find the data directory and config file.
//  3. Load the config file, overwriting defaults.
//  4. Parse args again so they take precedence.
func LoadConfig(args []string) (*Config, error) {
	preCfg := DefaultConfig()
	if _, err := flags.ParseArgs(&preCfg, args); err != nil {
		return nil, err
	}

	// A custom data directory moves the default config file with it.
	dataDir := CleanAndExpandPath(preCfg.DataDir)
	configFile := CleanAndExpandPath(preCfg.ConfigFile)
	if dataDir != DefaultDataDir && configFile == filepath.Join(
		DefaultDataDir, DefaultConfigFilename,
	) {

		configFile = filepath.Join(dataDir, DefaultConfigFilename)
	}

	cfg := preCfg
	err := flags.IniParse(configFile, &cfg)
	if err != nil {
		// A missing file is fine, a malformed one isn't.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if _, err := flags.ParseArgs(&cfg, args); err != nil {
		return nil, err
	}

	// The log directory follows the data directory unless it was set
	// explicitly.
	if cfg.LogDir == filepath.Join(DefaultDataDir, defaultLogDirname) {
		cfg.LogDir = filepath.Join(
			CleanAndExpandPath(cfg.DataDir), defaultLogDirname,
		)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the options and normalizes every path.
func (c *Config) Validate() error {
	c.DataDir = CleanAndExpandPath(c.DataDir)
	c.ConfigFile = CleanAndExpandPath(c.ConfigFile)
	c.LogDir = CleanAndExpandPath(c.LogDir)

	if c.DataDir == "" {
		return errors.New("datadir must be set")
	}
	if _, err := ledger.PolicyFromString(c.IDPolicy); err != nil {
		return err
	}
	if c.DB.Timeout <= 0 {
		return fmt.Errorf("db.timeout must be positive, got %v",
			c.DB.Timeout)
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSweepInterval,
			c.Sweeper.Interval)
	}

	return c.logFileConfig().Validate()
}

// DBConfig returns the options to open the ledger database with.
func (c *Config) DBConfig() *ledgerdb.Config {
	return &ledgerdb.Config{
		DBPath:         c.DataDir,
		DBFileName:     ledgerdb.DefaultDBFileName,
		NoFreelistSync: c.DB.NoFreelistSync,
		AutoCompact:    c.DB.AutoCompact,
		DBTimeout:      c.DB.Timeout,
	}
}

// Policy returns the configured output id policy.
func (c *Config) Policy() (ledger.IDPolicy, error) {
	return ledger.PolicyFromString(c.IDPolicy)
}

// SweeperTicker returns a ticker firing at the configured sweep interval.
func (c *Config) SweeperTicker() ticker.Ticker {
	return ticker.New(c.Sweeper.Interval)
}

// LogFile returns the path of the log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, DefaultLogFilename)
}

func (c *Config) logFileConfig() *build.FileLoggerConfig {
	fileCfg := build.DefaultFileLoggerConfig()
	fileCfg.MaxLogFiles = c.MaxLogFiles
	fileCfg.MaxLogFileSize = c.MaxLogFileSize

	return fileCfg
}

// SetupLogging opens the rotating log file and applies the debug level to
// every subsystem registered with mgr. The returned writer must be closed on
// shutdown.
func (c *Config) SetupLogging(mgr *build.SubLoggerManager,
	rotator *build.RotatingLogWriter) error {

	err := rotator.InitLogRotator(c.logFileConfig(), c.LogFile())
	if err != nil {
		return err
	}

	return build.ParseAndSetDebugLevels(c.DebugLevel, mgr)
}

// CleanAndExpandPath expands environment variables and a leading ~ in path
// and cleans the result.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		path = strings.Replace(path, "~", homeDir(), 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}

func homeDir() string {
	u, err := user.Current()
	if err == nil {
		return u.HomeDir
	}

	return os.Getenv("HOME")
}
