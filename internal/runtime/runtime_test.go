package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iqrfgd2/daemon/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	driverDir := t.TempDir()
	err := os.WriteFile(filepath.Join(driverDir, "coordinator.js"), []byte("var coordinator = {};\n"), 0o644)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Channel.Interface = "/dev/ttyACM0"
	cfg.Driver.ScriptPath = driverDir
	cfg.Repository.Path = filepath.Join(t.TempDir(), "catalog.db")
	cfg.Transports.UnixSocket.Enabled = true
	cfg.Transports.UnixSocket.Path = filepath.Join(t.TempDir(), "iqrfgd2.sock")
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestBuild_WiresCoreComponentsWithoutOpeningTheDevice(t *testing.T) {
	cfg := testConfig(t)

	rt, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, rt.Metrics())
	require.NotNil(t, rt.Engine())
	require.Len(t, rt.transports, 1)
}

func TestBuild_FailsWhenNoTransportIsEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transports.UnixSocket.Enabled = false

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "no transport enabled")
}

func TestBuild_FailsOnMissingDriverDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Driver.ScriptPath = filepath.Join(t.TempDir(), "does-not-exist")

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
}

func TestRun_FailsFastWhenSerialPortCannotOpen(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channel.Interface = "/dev/iqrfgd2-test-nonexistent"

	rt, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	err = rt.Run(context.Background())
	require.Error(t, err)
	require.ErrorContains(t, err, "open channel")
}
