package inventory

import (
	"sort"

	"github.com/function61/gokit/logex"
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
	"github.com/rlogvault/rlogvault/pkg/segname"
)

type Result struct {
	// Missing is sorted (route, index, kind) so downstream batching and
	// shard assignment see a deterministic arrival order.
	Missing        []rvtypes.Segment
	AlreadyPresent int
	// Flagged counts equivalence-class matches whose raw sizes disagree with
	// the device's report. Neither side is assumed authoritative; the
	// segment is skipped for this run.
	Flagged int
}

// MissingSet computes remote − local modulo compression-state equivalence.
// O(len(remote) + len(local)); local is already keyed by normalized class.
func MissingSet(remote []rvtypes.Segment, local map[rvtypes.SegmentKey]rvtypes.Segment, logl *logex.Leveled) *Result {
	result := &Result{}

	for _, seg := range remote {
		have, ok := local[segname.NormalizeKey(seg.Key)]
		switch {
		case !ok:
			result.Missing = append(result.Missing, seg)
		case have.Size == 0:
			// leftover of an interrupted transfer; not trustworthy as
			// "already present"
			logl.Info.Printf("re-queueing truncated local copy of %s", seg.RemotePath)

			result.Missing = append(result.Missing, seg)
		case have.Compression == "" && seg.Compression == "" && have.Size != seg.Size:
			logl.Error.Printf(
				"size mismatch for %s (local %d vs remote %d), skipping",
				seg.RemotePath, have.Size, seg.Size)

			result.Flagged++
		default:
			result.AlreadyPresent++
		}
	}

	sort.Slice(result.Missing, func(i, j int) bool {
		a, b := result.Missing[i].Key, result.Missing[j].Key
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.Kind < b.Kind
	})

	return result
}
