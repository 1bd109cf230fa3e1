package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DoyleJ11/pokeroster/internal/localstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCLI(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	statePath := filepath.Join(t.TempDir(), "state.yaml")
	t.Setenv("POKEROSTER_STATE_PATH", statePath)
	t.Setenv("POKEROSTER_STORAGE_DRIVER", "memory")
	t.Setenv("POKEROSTER_CATALOG_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("POKEROSTER_LOG_LEVEL", "error")
	copySession = false
	orig := clipboardWriteAll
	t.Cleanup(func() { clipboardWriteAll = orig })
	return statePath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSessionShow(t *testing.T) {
	statePath := setupCLI(t)

	_, err := execute(t, "session", "show")
	require.Error(t, err)

	require.NoError(t, localstate.NewFile(statePath).SetSessionID("ABCD2345"))

	var copied string
	clipboardWriteAll = func(s string) error { copied = s; return nil }

	out, err := execute(t, "session", "show", "--copy")
	require.NoError(t, err)
	assert.Equal(t, "ABCD2345\n", out)
	assert.Equal(t, "ABCD2345", copied)
}

func TestSessionShowClipboardFailureIsNotFatal(t *testing.T) {
	statePath := setupCLI(t)
	require.NoError(t, localstate.NewFile(statePath).SetSessionID("ABCD2345"))

	clipboardWriteAll = func(string) error { return errors.New("no clipboard") }

	out, err := execute(t, "session", "show", "--copy")
	require.NoError(t, err)
	assert.Equal(t, "ABCD2345\n", out)
}

func TestSessionCommandsRefuseMemoryStore(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"session create", []string{"session", "create"}},
		{"session use", []string{"session", "use", "ABCD2345"}},
		{"session delete", []string{"session", "delete"}},
		{"roster list", []string{"roster", "list"}},
		{"roster add", []string{"roster", "add", "team", "25"}},
		{"roster level", []string{"roster", "level", "team", "e1", "up"}},
		{"watch", []string{"watch"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			statePath := setupCLI(t)
			require.NoError(t, localstate.NewFile(statePath).SetSessionID("ABCD2345"))

			_, err := execute(t, tc.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), `storage driver "memory"`)

			// The remembered session is left alone.
			stored, err := localstate.NewFile(statePath).SessionID()
			require.NoError(t, err)
			assert.Equal(t, "ABCD2345", stored)
		})
	}
}

func TestSessionCloseForgetsLocally(t *testing.T) {
	statePath := setupCLI(t)
	require.NoError(t, localstate.NewFile(statePath).SetSessionID("ABCD2345"))

	_, err := execute(t, "session", "close")
	require.NoError(t, err)

	stored, err := localstate.NewFile(statePath).SessionID()
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRosterArgsAreValidated(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "roster", "list", "box")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid location")

	_, err = execute(t, "roster", "level", "team", "e1", "sideways")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "up or down")
}
