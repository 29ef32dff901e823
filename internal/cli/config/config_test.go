package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/sqllineage/pkg/openlineage"
)

const sampleConfig = `
namespace: warehouse
job_name: nightly_orders
concurrency: 2
store_path: state/runs.db
event:
  event_type: complete
  owners: ["team:data-eng", "alice"]
  parent:
    run_id: 3f8c2c8e-6d0a-4c8e-9d6f-3b3b3f4a2a11
    job_name: orchestrator
schema:
  orders:
    - name: id
      type: BIGINT
    - name: amount
      type: DECIMAL(10,2)
`

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("namespace", "", "")
	fs.String("job", "", "")
	fs.StringP("output", "o", "", "")
	fs.Int("concurrency", 0, "")
	fs.String("store", "", "")
	fs.Bool("watch", false, "")
	return fs
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "sqllineage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	ResetConfig()

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultStoreFile, cfg.StorePath)
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.Empty(t, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_FileSearchedUpward(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, sampleConfig)
	nested := filepath.Join(root, "queries", "daily")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	t.Chdir(nested)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "warehouse", cfg.Namespace)
	assert.Equal(t, "nightly_orders", cfg.JobName)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, []string{"team:data-eng", "alice"}, cfg.Event.Owners)
	require.Len(t, cfg.Schema["orders"], 2)
	assert.Equal(t, "DECIMAL(10,2)", cfg.Schema["orders"][1].Type)
	assert.True(t, filepath.IsAbs(cfg.StorePath))
	assert.True(t, strings.HasSuffix(cfg.StorePath, filepath.Join("state", "runs.db")), cfg.StorePath)
	assert.NotEmpty(t, GetConfigFileUsed())
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleConfig)
	t.Chdir(dir)

	t.Setenv("SQLLINEAGE_NAMESPACE", "from_env")
	t.Setenv("SQLLINEAGE_JOB_NAME", "env_job")
	t.Setenv("SQLLINEAGE_EVENT_OWNERS", "team:platform,bob")
	t.Setenv("SQLLINEAGE_EVENT_PARENT_RUN_ID", "env-parent")
	t.Setenv("SQLLINEAGE_SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("SQLLINEAGE_CONCURRENCY", "8")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--namespace", "from_flag", "--watch", "-o", "json"}))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "from_flag", cfg.Namespace, "flag beats env")
	assert.Equal(t, "env_job", cfg.JobName, "env beats file")
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, []string{"team:platform", "bob"}, cfg.Event.Owners)
	require.NotNil(t, cfg.Event.Parent)
	assert.Equal(t, "env-parent", cfg.Event.Parent.RunID)
	assert.Equal(t, "orchestrator", cfg.Event.Parent.JobName)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestLoadConfig_StoreFlagRelativeToCWD(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, sampleConfig)
	t.Chdir(dir)

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--store", "other.db"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "other.db"), cfg.StorePath)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		errSubstr string
	}{
		{name: "output mode", content: "output: csv", errSubstr: "unknown output mode"},
		{name: "event type", content: "event:\n  event_type: started", errSubstr: "unknown event type"},
		{name: "log level", content: "log_level: loud", errSubstr: "unknown log level"},
		{name: "log format", content: "log_format: xml", errSubstr: "unknown log format"},
		{name: "concurrency", content: "concurrency: 0", errSubstr: "concurrency must be positive"},
		{name: "schema column", content: "schema:\n  orders:\n    - type: INT", errSubstr: "column name is required"},
		{name: "bad yaml", content: "namespace: [", errSubstr: "error reading config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			t.Chdir(dir)
			writeConfig(t, dir, tt.content)

			_, err := LoadConfig("", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SQLLINEAGE_NAMESPACE":           "namespace",
		"SQLLINEAGE_LOG_LEVEL":           "log_level",
		"SQLLINEAGE_SERVER_ADDR":         "server.addr",
		"SQLLINEAGE_EVENT_EVENT_TYPE":    "event.event_type",
		"SQLLINEAGE_EVENT_PARENT_RUN_ID": "event.parent.run_id",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestComposeConfig(t *testing.T) {
	cfg := &Config{
		Namespace: "warehouse",
		JobName:   "nightly",
		Event: EventConfig{
			EventType: "complete",
			Owners:    []string{"team:data-eng", " alice ", ""},
			Parent:    &ParentConfig{RunID: "parent-run", JobName: "orchestrator"},
		},
	}

	cc := cfg.ComposeConfig()
	assert.Equal(t, openlineage.EventComplete, cc.EventType)
	assert.Equal(t, []openlineage.Owner{
		{Name: "data-eng", Type: "team"},
		{Name: "alice", Type: DefaultOwnerType},
	}, cc.Owners)
	require.NotNil(t, cc.Parent)
	assert.Equal(t, "parent-run", cc.Parent.Run.RunID)
	assert.Equal(t, "warehouse", cc.Parent.Job.Namespace)

	cfg.Event.Parent = &ParentConfig{JobName: "no run id"}
	assert.Nil(t, cfg.ComposeConfig().Parent)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{LogLevel: "info", LogFormat: "json"}
	logger := cfg.NewLogger(&buf)
	logger.Debug("hidden")
	logger.Info("shown", "units", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"units":3`)

	buf.Reset()
	cfg = &Config{LogLevel: "error", LogFormat: "text", Verbose: true}
	cfg.NewLogger(&buf).Debug("verbose wins")
	assert.Contains(t, buf.String(), "verbose wins")
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))

	var buf bytes.Buffer
	cfg := &Config{LogLevel: "info", LogFormat: "text"}
	logger := cfg.NewLogger(&buf)
	ctx := context.WithValue(context.Background(), LoggerKey(), logger)
	assert.Same(t, logger, GetLogger(ctx))
}
