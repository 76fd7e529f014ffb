package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illenko/relicwatch/config"
)

func useConfigFile(t *testing.T, path string) {
	t.Helper()
	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })
}

func TestInit_WritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	useConfigFile(t, path)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, runInit(cmd, nil))
	assert.Contains(t, out.String(), "Created "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("generated config differs from defaults (-want +got):\n%s", diff)
	}

	err = runInit(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)

	assert.Equal(t, "relicwatch "+version+"\n", out.String())
}

func TestNewApp_WithoutCredentials(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "relicwatch.db")
	cfg.Cache.Path = filepath.Join(dir, "cache.json")
	cfg.Incidents.Path = filepath.Join(dir, "incidentes.json")

	a, err := newApp(cfg)
	require.NoError(t, err)
	assert.Nil(t, a.client)

	ctx := context.Background()
	a.start(ctx)

	assert.False(t, a.coordinator.Refresh(ctx, true))
	assert.Contains(t, a.coordinator.Status().LastError, errNewRelicDisabled.Error())

	runs, err := a.runs.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Success)

	require.NoError(t, a.close())
	_, err = os.Stat(cfg.Cache.Path)
	assert.NoError(t, err, "cache is written on close")
}
