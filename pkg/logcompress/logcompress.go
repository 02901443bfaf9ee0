// Post-transfer compression of raw segments: zstd preferred, gzip fallback,
// degrade to keeping raw files when compression is disabled.
package logcompress

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/function61/gokit/logex"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rlogvault/rlogvault/pkg/segname"
)

var ErrAlreadyCompressed = errors.New("file already carries a compressed-extension marker")

type Codec struct {
	name string
	ext  string // without dot; empty = pass-through
	wrap func(io.Writer) (io.WriteCloser, error)
}

func (c Codec) Name() string { return c.name }

// Enabled is false for the degrade-to-raw codec.
func (c Codec) Enabled() bool { return c.ext != "" }

var (
	codecZstd = Codec{
		name: "zstd",
		ext:  "zst",
		wrap: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		},
	}
	codecGzip = Codec{
		name: "gzip",
		ext:  "gz",
		wrap: func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, gzip.DefaultCompression)
		},
	}
	codecNone = Codec{name: "none"}
)

// Resolve picks the codec for the whole run: the preferred one if its encoder
// actually constructs, otherwise the next best. Resolved once at run start;
// the returned value is immutable.
func Resolve(preference string, logl *logex.Leveled) Codec {
	var candidates []Codec

	switch preference {
	case "", "zstd":
		candidates = []Codec{codecZstd, codecGzip, codecNone}
	case "gzip":
		candidates = []Codec{codecGzip, codecNone}
	case "none":
		candidates = []Codec{codecNone}
	default:
		logl.Error.Printf("unknown codec %q, keeping raw files", preference)
		return codecNone
	}

	for _, codec := range candidates {
		if !codec.Enabled() {
			return codec
		}

		probe, err := codec.wrap(io.Discard)
		if err != nil {
			logl.Error.Printf("codec %s unavailable: %v", codec.name, err)
			continue
		}
		probe.Close()

		return codec
	}

	return codecNone
}

// CompressFile produces <path>.<ext> and removes the raw file only after the
// compressed artifact verifiably exists and is non-empty. Returns the
// compressed path. Refuses files already carrying a compressed extension
// (ErrAlreadyCompressed).
func (c Codec) CompressFile(path string) (string, error) {
	if !c.Enabled() {
		return path, nil
	}

	if segname.IsCompressedName(filepath.Base(path)) {
		return "", ErrAlreadyCompressed
	}

	finalName := path + "." + c.ext
	tempName := finalName + ".temp"

	if err := c.compressTo(path, tempName); err != nil {
		os.Remove(tempName) // best-effort cleanup of partial artifact
		return "", err
	}

	stat, err := os.Stat(tempName)
	if err != nil {
		return "", err
	}
	if stat.Size() == 0 {
		os.Remove(tempName)
		return "", fmt.Errorf("compression produced empty artifact for %s", path)
	}

	if err := os.Rename(tempName, finalName); err != nil {
		return "", err
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("removing raw %s: %v", path, err)
	}

	return finalName, nil
}

func (c Codec) compressTo(src string, dst string) error {
	from, err := os.Open(src)
	if err != nil {
		return err
	}
	defer from.Close()

	to, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer to.Close()

	compressor, err := c.wrap(to)
	if err != nil {
		return err
	}

	if _, err := io.Copy(compressor, from); err != nil {
		return err
	}

	if err := compressor.Close(); err != nil {
		return err
	}

	return to.Close() // double close is intentional
}
