package ledgercfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/chanledger/chanledger/build"
	"github.com/chanledger/chanledger/ledger"
	"github.com/chanledger/chanledger/ledgerdb"
	"github.com/stretchr/testify/require"
)

// TestLoadConfigDefaults checks a bare data directory yields the defaults.
func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg, err := LoadConfig([]string{"--datadir=" + dir})
	require.NoError(t, err)

	require.Equal(t, dir, cfg.DataDir)
	require.Equal(t, filepath.Join(dir, "logs"), cfg.LogDir)
	require.Equal(t, filepath.Join(dir, "logs", DefaultLogFilename),
		cfg.LogFile())
	require.Equal(t, ledgerdb.DefaultDBTimeout, cfg.DB.Timeout)
	require.Equal(t, time.Minute, cfg.Sweeper.Interval)
	require.Equal(t, build.DefaultMaxLogFiles, cfg.MaxLogFiles)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	require.Equal(t, ledger.ContentPolicy{}, policy)

	dbCfg := cfg.DBConfig()
	require.Equal(t, dir, dbCfg.DBPath)
	require.Equal(t, ledgerdb.DefaultDBFileName, dbCfg.DBFileName)
}

// TestLoadConfigFile checks file options apply and command line options
// override them.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	conf := `
[Application Options]
idpolicy=sequential
debuglevel=debug,LDGR=trace
maxlogfiles=7

[db]
db.timeout=5s
db.nofreelistsync=true

[sweeper]
sweeper.interval=30s
`
	err := os.WriteFile(
		filepath.Join(dir, DefaultConfigFilename), []byte(conf), 0600,
	)
	require.NoError(t, err)

	cfg, err := LoadConfig([]string{
		"--datadir=" + dir, "--sweeper.interval=10s",
	})
	require.NoError(t, err)

	require.Equal(t, "sequential", cfg.IDPolicy)
	require.Equal(t, "debug,LDGR=trace", cfg.DebugLevel)
	require.Equal(t, 7, cfg.MaxLogFiles)
	require.Equal(t, 5*time.Second, cfg.DB.Timeout)
	require.True(t, cfg.DB.NoFreelistSync)
	require.Equal(t, 10*time.Second, cfg.Sweeper.Interval)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	require.Equal(t, ledger.SequentialPolicy{}, policy)

	tick := cfg.SweeperTicker()
	require.NotNil(t, tick)
	tick.Stop()
}

// TestLoadConfigMalformedFile checks a broken config file is an error.
func TestLoadConfigMalformedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := os.WriteFile(
		filepath.Join(dir, DefaultConfigFilename),
		[]byte("nosuchoption=1\n"), 0600,
	)
	require.NoError(t, err)

	_, err = LoadConfig([]string{"--datadir=" + dir})
	require.Error(t, err)
}

// TestValidate covers the rejected option values.
func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		cfg := DefaultConfig()
		cfg.DataDir = t.TempDir()
		return cfg
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.IDPolicy = "random"
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.DB.Timeout = 0
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Sweeper.Interval = -time.Second
	require.ErrorIs(t, cfg.Validate(), ErrInvalidSweepInterval)

	cfg = valid()
	cfg.MaxLogFileSize = 0
	require.Error(t, cfg.Validate())

	require.Equal(t, "/tmp/x", CleanAndExpandPath("/tmp//x/"))
}

// TestSetupLogging checks the debug level reaches registered subsystems.
func TestSetupLogging(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.LogDir = filepath.Join(cfg.DataDir, "logs")
	cfg.DebugLevel = "warn"
	require.NoError(t, cfg.Validate())

	mgr := build.NewSubLoggerManager(os.Stderr)
	mgr.GenSubLogger("LDGR")

	rotator := build.NewRotatingLogWriter()
	require.NoError(t, cfg.SetupLogging(mgr, rotator))
	t.Cleanup(func() {
		require.NoError(t, rotator.Close())
	})

	require.FileExists(t, cfg.LogFile())
	require.Equal(t, btclog.LevelWarn, mgr.SubLoggers()["LDGR"].Level())

	cfg.DebugLevel = "info,NOPE=debug"
	require.Error(t, build.ParseAndSetDebugLevels(cfg.DebugLevel, mgr))
}
