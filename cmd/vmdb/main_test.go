package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meteorwatch/vmdb/internal/log"
)

func TestExitCode(t *testing.T) {
	log.InitNop()

	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitSetup, exitCode(errors.New("bad flag")))
	assert.Equal(t, exitDatabase, exitCode(withCode(exitDatabase, errors.New("locked"))))
	assert.Equal(t, exitConflicts, exitCode(fmt.Errorf("normalize: %w", withCode(exitConflicts, errors.New("dropped")))))
	assert.Nil(t, withCode(exitDatabase, nil))
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd(&globals{})
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "vmdb "))
}

func TestImportRejectedRows(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "vmdb.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(
		"database:\n  driver: sqlite\n  dsn: "+filepath.Join(dir, "vmdb.sqlite")+"\n"), 0o644))

	sessions := filepath.Join(dir, "sessions.csv")
	require.NoError(t, os.WriteFile(sessions, []byte(
		"Session ID;Observer ID;Latitude;Longitude;Elevation\n"+
			"1;10;45.0;10.0;300\n"+
			"2;10;95.0;10.0;300\n"), 0o644))

	run := func(args ...string) error {
		root := newRootCmd(&globals{})
		root.SetArgs(append([]string{"--config", cfgFile}, args...))
		return root.Execute()
	}
	t.Cleanup(log.InitNop)

	require.NoError(t, run("initdb"))

	err := run("import", sessions)
	assert.Equal(t, exitRejected, exitCode(err))

	err = run("import", filepath.Join(dir, "missing.csv"))
	assert.Equal(t, exitSetup, exitCode(err))

	require.NoError(t, run("cleanup"))
}

func TestNormalizeInvalidShowerDataIsSetupError(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "vmdb.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(
		"database:\n  driver: sqlite\n  dsn: "+filepath.Join(dir, "vmdb.sqlite")+"\n"), 0o644))

	radiants := filepath.Join(dir, "radiants.csv")
	require.NoError(t, os.WriteFile(radiants, []byte(
		"Shower;Month;Day;Ra;Dec\n"+
			"ZZZ;8;12;46;58\n"), 0o644))

	run := func(args ...string) error {
		root := newRootCmd(&globals{})
		root.SetArgs(append([]string{"--config", cfgFile}, args...))
		return root.Execute()
	}
	t.Cleanup(log.InitNop)

	require.NoError(t, run("initdb"))
	require.NoError(t, run("import", radiants))

	err := run("normalize")
	assert.Equal(t, exitSetup, exitCode(err))
}
