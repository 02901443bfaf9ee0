// Local archive enumeration and reconciliation against the device's
// segment inventory.
package inventory

import (
	"os"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
	"github.com/rlogvault/rlogvault/pkg/segname"
)

// ScanLocal enumerates the already-downloaded segments of one device dir
// (<archive-root>/<label>/<dongleId>/), keyed by normalized equivalence
// class. A missing dir is an empty archive, not an error.
func ScanLocal(dir string, dongleID string, logl *logex.Leveled) (map[rvtypes.SegmentKey]rvtypes.Segment, error) {
	segments := map[rvtypes.SegmentKey]rvtypes.Segment{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return segments, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		// staging dirs (.rsync_temp etc.) and partial downloads don't count
		// as inventory
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}

		seg, err := segname.ParseLocal(entry.Name(), dongleID)
		if err != nil {
			logl.Debug.Printf("skipping foreign file: %s", entry.Name())
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		seg.Size = info.Size()

		key := segname.NormalizeKey(seg.Key)

		if previous, duplicate := segments[key]; duplicate {
			logl.Error.Printf(
				"duplicate storage for one segment: %s (keeping compressed member)",
				entry.Name())

			// prefer the compressed member so the raw one stays eligible for
			// the compressor's raw->compressed replacement
			if previous.Compression != "" {
				continue
			}
		}

		segments[key] = *seg
	}

	return segments, nil
}
