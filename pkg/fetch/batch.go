package fetch

import (
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
)

// rsync degrades with very large include-rule lists; above this we split
// into multiple invocations
const maxFilterRules = 10_000

// Batch is one bulk network operation's worth of missing segments. Not
// persisted: each run recomputes reconciliation from scratch.
type Batch struct {
	Device    *rvtypes.Device
	DongleID  string
	OutputDir string // final archive dir of this device
	Items     []rvtypes.Segment
}

// BatchResult is the executor's per-batch outcome. Per-file failures don't
// abort a batch; a connection-level failure is returned as an error alongside
// the partial result.
type BatchResult struct {
	// Transferred holds the final local paths of newly fetched files, the
	// compressor's input
	Transferred []string
	// SkippedComplete counts files that turned out to already exist locally
	// with the full remote-reported size. The executor never overwrites
	// those, even when reconciliation queued them.
	SkippedComplete  int
	Failed           int
	BytesTransferred int64
}

// buildBatches prefers exactly one batch per device per run; it splits only
// when the include-rule ceiling forces it. Every missing segment lands in
// exactly one batch.
func buildBatches(device *rvtypes.Device, dongleID string, outputDir string, missing []rvtypes.Segment, maxRules int) []*Batch {
	batches := []*Batch{}

	for start := 0; start < len(missing); start += maxRules {
		end := start + maxRules
		if end > len(missing) {
			end = len(missing)
		}

		batches = append(batches, &Batch{
			Device:    device,
			DongleID:  dongleID,
			OutputDir: outputDir,
			Items:     missing[start:end],
		})
	}

	return batches
}
