package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadImageFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "facade.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xd8, 0xff}, 0o600))

	raw, err := readImageFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xd8, 0xff}, raw)

	_, err = readImageFile("")
	require.Error(t, err)

	_, err = readImageFile(dir)
	require.ErrorContains(t, err, "directory")

	_, err = readImageFile(filepath.Join(dir, "missing.jpg"))
	require.Error(t, err)
}
