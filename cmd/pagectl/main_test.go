package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pagectl(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), &out, cfgPath, "", 0, args)
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pagedb.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
store:
  kind: local
  path: `+filepath.Join(dir, "data")+`
index:
  leaf_fanout: 3
  inner_fanout: 3
log:
  level: error
`), 0o644))

	for _, k := range []string{"d", "a", "c", "b", "e"} {
		out, err := pagectl(t, cfgPath, "put", k, "item", k)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "OK"))
	}

	out, err := pagectl(t, cfgPath, "get", "c")
	require.NoError(t, err)
	assert.Equal(t, "item c\n", out)

	out, err = pagectl(t, cfgPath, "get", "zz")
	require.NoError(t, err)
	assert.Equal(t, "(nil)\n", out)

	out, err = pagectl(t, cfgPath, "scan", "b", "d")
	require.NoError(t, err)
	assert.Equal(t, "b\titem b\nc\titem c\n(2 items)\n", out)

	out, err = pagectl(t, cfgPath, "scan", "d")
	require.NoError(t, err)
	assert.Contains(t, out, "(2 items)")

	out, err = pagectl(t, cfgPath, "check")
	require.NoError(t, err)
	assert.Equal(t, "OK: 5 items\n", out)

	out, err = pagectl(t, cfgPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "items:        5")

	_, err = pagectl(t, cfgPath, "dump", "backup.dump")
	require.NoError(t, err)

	out, err = pagectl(t, cfgPath, "del", "a", "c")
	require.NoError(t, err)
	assert.Equal(t, "deleted 2\n", out)

	_, err = pagectl(t, cfgPath, "restore", "backup.dump")
	require.Error(t, err)

	out, err = pagectl(t, cfgPath, "clear")
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out)

	out, err = pagectl(t, cfgPath, "restore", "backup.dump")
	require.NoError(t, err)
	assert.Contains(t, out, "5 items")

	out, err = pagectl(t, cfgPath, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "(5 items)")
}

func TestUsageErrors(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "pagedb.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  kind: memory\n"), 0o644))

	for _, args := range [][]string{
		{"frobnicate"},
		{"put", "k"},
		{"get"},
		{"del"},
		{"scan", "a", "b", "c"},
		{"dump"},
	} {
		_, err := pagectl(t, cfgPath, args...)
		assert.ErrorIs(t, err, errUsage, args)
	}
}
