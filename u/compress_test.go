package u

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"
)

func testRoundTrip(t *testing.T, path string, d []byte) {
	d2, err := ReadFileMaybeCompressed(path)
	require.NoError(t, err)
	require.Equal(t, d, d2)
}

func TestReadFileMaybeCompressed(t *testing.T) {
	d, err := os.ReadFile("compress.go")
	require.NoError(t, err)
	dir := t.TempDir()

	// not compressed
	path := filepath.Join(dir, "compress.go.txt")
	err = os.WriteFile(path, d, 0644)
	require.NoError(t, err)
	testRoundTrip(t, path, d)

	// gzip
	path = filepath.Join(dir, "compress.go.gz")
	err = WriteFileGzipped(path, d)
	require.NoError(t, err)
	testRoundTrip(t, path, d)

	// brotli
	path = filepath.Join(dir, "compress.go.br")
	dc, err := BrCompressDataBest(d)
	require.NoError(t, err)
	require.Less(t, len(dc), len(d))
	err = os.WriteFile(path, dc, 0644)
	require.NoError(t, err)
	testRoundTrip(t, path, d)

	// zstd
	path = filepath.Join(dir, "compress.go.zstd")
	dc, err = ZstdCompressData(d)
	require.NoError(t, err)
	require.Less(t, len(dc), len(d))
	err = os.WriteFile(path, dc, 0644)
	require.NoError(t, err)
	testRoundTrip(t, path, d)
}

func TestBrCompressData(t *testing.T) {
	d, err := os.ReadFile("compress.go")
	require.NoError(t, err)
	dc, err := BrCompressData(d, brotli.DefaultCompression)
	require.NoError(t, err)
	require.Less(t, len(dc), len(d))
	dcBest, err := BrCompressDataBest(d)
	require.NoError(t, err)
	require.LessOrEqual(t, len(dcBest), len(dc))
}
