package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testMnemonic = "dinosaur simple verify deliver bless ridge monkey design venue six problem lucky"

type testConsoleWriter struct {
	mu    sync.Mutex
	lines []string
}

func (w *testConsoleWriter) Println(a ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, fmt.Sprint(a...))
}

func (w *testConsoleWriter) Print(a ...any) {
	w.Println(a...)
}

func (w *testConsoleWriter) output() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.lines, "\n")
}

func useTestConsoleWriter(t *testing.T) *testConsoleWriter {
	w := &testConsoleWriter{}
	old := consoleWriter
	consoleWriter = w
	t.Cleanup(func() { consoleWriter = old })
	return w
}

// execute runs the ledger command with args, the home directory is set to homeDir.
func execute(ctx context.Context, homeDir string, args ...string) error {
	return newTestApp(homeDir, nil, args...).Execute(ctx)
}

func newTestApp(homeDir string, nodeRunFn nodeRunnable, args ...string) *ledgerApp {
	app := New().WithNodeRunFunc(nodeRunFn)
	app.baseCmd.SetArgs(append(args, "--home", homeDir))
	return app
}

func TestBaseCmd_UnknownCommand(t *testing.T) {
	err := execute(context.Background(), t.TempDir(), "foo")
	require.ErrorContains(t, err, `unknown command "foo" for "ledger"`)
}

func TestBaseCmd_ConfigFile(t *testing.T) {
	homeDir := t.TempDir()
	require.NoError(t, writeFile(filepath.Join(homeDir, defaultConfigFile), "rest-address=localhost:1234\nstorage=badger\n"))

	var conf *nodeConfig
	app := newTestApp(homeDir, func(ctx context.Context, c *nodeConfig) error {
		conf = c
		return nil
	}, "node", "--storage", "memory")
	require.NoError(t, app.Execute(context.Background()))
	require.Equal(t, "localhost:1234", conf.RESTAddress)
	// flag wins over the config file
	require.Equal(t, "memory", conf.Storage)
}

func TestBaseCmd_EnvironmentVariables(t *testing.T) {
	t.Setenv("LC_REST_ADDRESS", "localhost:4321")
	t.Setenv("LC_BOOTSTRAP", "/ip4/127.0.0.1/tcp/1/p2p/a")

	var conf *nodeConfig
	app := newTestApp(t.TempDir(), func(ctx context.Context, c *nodeConfig) error {
		conf = c
		return nil
	}, "node")
	require.NoError(t, app.Execute(context.Background()))
	require.Equal(t, "localhost:4321", conf.RESTAddress)
	require.Equal(t, []string{"/ip4/127.0.0.1/tcp/1/p2p/a"}, conf.BootstrapPeers)
}

func TestBaseCmd_LoggerConfig(t *testing.T) {
	homeDir := t.TempDir()
	err := execute(context.Background(), homeDir, "keys", "generate", "--logger-config", "missing.yaml")
	require.ErrorContains(t, err, "logger configuration file")

	require.NoError(t, writeFile(filepath.Join(homeDir, defaultLoggerConfigFile), "defaultLevel: WARNING\n"))
	useTestConsoleWriter(t)
	require.NoError(t, execute(context.Background(), homeDir, "keys", "generate", "--log-level", "error"))
}
