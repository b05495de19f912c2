package yield

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestRegistryLoadAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocols.yaml")
	writeFile(t, path, `
protocols:
  supported: [Kamino, marinade]
  extended: [raydium]
`)
	reg, err := NewRegistry(path, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"kamino", "marinade"}, reg.AllowList().Supported)
	assert.Equal(t, int64(1), reg.Snapshot().Version)

	writeFile(t, path, `
protocols:
  supported: [jito]
`)
	require.NoError(t, reg.Reload())
	assert.Equal(t, []string{"jito"}, reg.AllowList().Supported)
	assert.Empty(t, reg.AllowList().Extended)
	assert.Equal(t, int64(2), reg.Snapshot().Version)
}

func TestRegistryKeepsPreviousOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocols.yaml")
	writeFile(t, path, "protocols:\n  supported: [kamino]\n")
	reg, err := NewRegistry(path, false)
	require.NoError(t, err)

	for name, body := range map[string]string{
		"unknown field":   "protocols:\n  supported: [kamino]\n  banned: [x]\n",
		"empty supported": "protocols:\n  extended: [orca]\n",
		"duplicate":       "protocols:\n  supported: [kamino]\n  extended: [kamino]\n",
		"bad slug":        "protocols:\n  supported: [\"-kamino\"]\n",
	} {
		t.Run(name, func(t *testing.T) {
			writeFile(t, path, body)
			assert.Error(t, reg.Reload())
			assert.Equal(t, []string{"kamino"}, reg.AllowList().Supported)
		})
	}
}

func TestRegistryReturnsCopies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocols.yaml")
	writeFile(t, path, "protocols:\n  supported: [kamino]\n")
	reg, err := NewRegistry(path, false)
	require.NoError(t, err)
	a := reg.AllowList()
	a.Supported[0] = "mutated"
	assert.Equal(t, "kamino", reg.AllowList().Supported[0])
}

func TestNewRegistryRequiresPath(t *testing.T) {
	_, err := NewRegistry(" ", false)
	assert.Error(t, err)
	_, err = NewRegistry(filepath.Join(t.TempDir(), "missing.yaml"), false)
	assert.Error(t, err)
}
