package fetch

import (
	"context"
	"os/exec"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
)

// Transport is one interchangeable transfer strategy. Exactly one is
// selected per device per run (never re-evaluated per batch, to avoid
// oscillation).
type Transport interface {
	Name() string
	// Fetch transfers every item of the batch into batch.OutputDir under its
	// final archive name. Partial failure is reported in the result; an
	// error means the remainder of the batch was aborted (connection-level
	// failure) and the result holds what completed before that.
	Fetch(ctx context.Context, batch *Batch) (*BatchResult, error)
}

// selectTransport honors the device's preference but falls back to the
// per-file strategy when the rsync binary is not installed.
func selectTransport(conn *deviceConn, device *rvtypes.Device, opts syncOptions, logl *logex.Leveled) Transport {
	preference := device.Transport
	if opts.transportOverride != "" {
		preference = opts.transportOverride
	}

	switch preference {
	case "sftp":
		return newSftpTransport(conn, logl)
	case "rsync", "":
		if rsyncAvailable(logl) {
			return newRsyncTransport(opts, logl)
		}

		logl.Info.Println("rsync not available, falling back to sftp for this run")

		return newSftpTransport(conn, logl)
	default:
		logl.Error.Printf("unknown transport %q, using sftp", preference)

		return newSftpTransport(conn, logl)
	}
}

func rsyncAvailable(logl *logex.Leveled) bool {
	out, err := exec.Command("rsync", "--version").Output()
	if err != nil {
		return false
	}

	if firstLine := strings.SplitN(string(out), "\n", 2)[0]; firstLine != "" {
		logl.Debug.Printf("found %s", firstLine)
	}

	return true
}
