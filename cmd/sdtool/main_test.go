package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInfo(t *testing.T) {
	out, err := run(t, "--transport", "mock", "--kind", "sdhc", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Card type:     SDHC")
	assert.Contains(t, out, "Sectors:       131072")
	assert.Contains(t, out, "Capacity:      64 MB")
	assert.Contains(t, out, `name="SU04G"`)

	out, err = run(t, "--transport", "mock", "--kind", "mmc", "--size", "4194304", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Card type:     MMC")
	assert.NotContains(t, out, "OCR")
}

func TestSelftestImage(t *testing.T) {
	img := filepath.Join(t.TempDir(), "card.img")
	args := []string{"--transport", "mock", "--image", img}

	out, err := run(t, append(args, "selftest")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "no volume found, formatted")
	assert.Contains(t, out, "=== FAT self test passed ===")

	fi, err := os.Stat(img)
	require.NoError(t, err)
	assert.Equal(t, int64(64<<20), fi.Size())

	// the image persists between runs
	out, err = run(t, append(args, "ls")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "TEST.TXT")

	out, err = run(t, append(args, "selftest")...)
	require.NoError(t, err, out)
	assert.NotContains(t, out, "formatted")

	out, err = run(t, append(args, "read", "--sector", "0")...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 32)
	assert.Contains(t, lines[len(lines)-1], "55 aa")
}

func TestSelftestFileName(t *testing.T) {
	img := filepath.Join(t.TempDir(), "card.img")
	args := []string{"--transport", "mock", "--image", img}

	out, err := run(t, append(args, "selftest", "--file", "my notes.text")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Creating /MYNOTES.TEX")

	out, err = run(t, append(args, "ls")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "MYNOTES.TEX")

	_, err = run(t, append(args, "selftest", "--file", "***.txt")...)
	assert.ErrorContains(t, err, `no DOS file name can be made from "***.txt"`)
}

func TestBadFlags(t *testing.T) {
	_, err := run(t, "--transport", "serial", "info")
	assert.ErrorContains(t, err, `unknown transport "serial"`)

	_, err = run(t, "--transport", "mock", "--kind", "sdxc", "info")
	assert.ErrorContains(t, err, `unknown card kind "sdxc"`)

	_, err = run(t, "--log-level", "loud", "info")
	assert.Error(t, err)
}

func TestAnalyzeMissingCapture(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "analyze", "--clk", filepath.Join(dir, "nope.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
