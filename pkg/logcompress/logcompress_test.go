package logcompress

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
	"github.com/klauspost/compress/zstd"
)

func TestResolve(t *testing.T) {
	logl := logex.Levels(logex.Discard)

	assert.EqualString(t, Resolve("", logl).Name(), "zstd")
	assert.EqualString(t, Resolve("zstd", logl).Name(), "zstd")
	assert.EqualString(t, Resolve("gzip", logl).Name(), "gzip")
	assert.EqualString(t, Resolve("none", logl).Name(), "none")
	assert.EqualString(t, Resolve("lzma-from-the-future", logl).Name(), "none")

	assert.Assert(t, !Resolve("none", logl).Enabled())
}

func TestCompressFile(t *testing.T) {
	raw := filepath.Join(t.TempDir(), "dongle_route--0--rlog")
	content := strings.Repeat("compressible content ", 100)
	assert.Ok(t, os.WriteFile(raw, []byte(content), 0644))

	compressed, err := Resolve("zstd", logex.Levels(logex.Discard)).CompressFile(raw)
	assert.Ok(t, err)
	assert.EqualString(t, compressed, raw+".zst")

	// raw artifact replaced
	_, err = os.Stat(raw)
	assert.Assert(t, os.IsNotExist(err))

	// artifact round-trips
	compressedBytes, err := os.ReadFile(compressed)
	assert.Ok(t, err)
	assert.Assert(t, len(compressedBytes) > 0)
	assert.Assert(t, len(compressedBytes) < len(content))

	dec, err := zstd.NewReader(bytes.NewReader(compressedBytes))
	assert.Ok(t, err)
	defer dec.Close()

	decompressed, err := io.ReadAll(dec)
	assert.Ok(t, err)
	assert.EqualString(t, string(decompressed), content)
}

func TestCompressFileRefusesCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dongle_route--0--rlog.zst")
	assert.Ok(t, os.WriteFile(path, []byte("xx"), 0644))

	_, err := Resolve("zstd", logex.Levels(logex.Discard)).CompressFile(path)
	assert.Assert(t, err == ErrAlreadyCompressed)

	// and the file is untouched
	_, statErr := os.Stat(path)
	assert.Ok(t, statErr)
}

func TestCompressFileNoneCodecKeepsRaw(t *testing.T) {
	raw := filepath.Join(t.TempDir(), "dongle_route--0--rlog")
	assert.Ok(t, os.WriteFile(raw, []byte("xx"), 0644))

	got, err := Resolve("none", logex.Levels(logex.Discard)).CompressFile(raw)
	assert.Ok(t, err)
	assert.EqualString(t, got, raw)

	_, statErr := os.Stat(raw)
	assert.Ok(t, statErr)
}

func TestCompressFileGzip(t *testing.T) {
	raw := filepath.Join(t.TempDir(), "dongle_route--1--rlog")
	assert.Ok(t, os.WriteFile(raw, bytes.Repeat([]byte("ab"), 2000), 0644))

	compressed, err := Resolve("gzip", logex.Levels(logex.Discard)).CompressFile(raw)
	assert.Ok(t, err)
	assert.EqualString(t, compressed, raw+".gz")
}
