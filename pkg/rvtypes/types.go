// Core types shared by the download and mirror pipelines
package rvtypes

// PayloadKind is the raw log type of one segment file, e.g. "rlog" or "qlog".
type PayloadKind string

const (
	PayloadRlog PayloadKind = "rlog"
	PayloadQlog PayloadKind = "qlog"
)

// SegmentKey identifies one segment irrespective of compression state.
// At most one stored file may exist locally per key.
type SegmentKey struct {
	RouteID string
	Index   int
	Kind    PayloadKind
}

// Segment is one remote or local file representing a fixed-size slice of a
// driving route.
type Segment struct {
	Key  SegmentKey
	Size int64
	// Compression is the compressed-extension marker without the dot
	// ("zst", "gz", "bz2"), or empty for a raw segment.
	Compression string
	// RemotePath is the path relative to the device's data root. Only set
	// for segments enumerated from the device.
	RemotePath string
}

// Device is one remote source, as provided by the configuration collaborator.
// Immutable during a run.
type Device struct {
	Address    string `json:"address"`
	Username   string `json:"username"`
	SSHKeyPath string `json:"ssh_key"`
	// Label is the human-assigned name used as the top-level archive folder.
	Label string `json:"label"`
	// Transport is "rsync", "sftp" or empty for automatic selection.
	Transport string `json:"transport,omitempty"`
}

func (d *Device) String() string {
	return d.Address + " (" + d.Label + ")"
}

// DeviceReport is the per-device end-of-run summary consumed by the
// presentation layer.
type DeviceReport struct {
	Device           string
	DongleID         string
	AlreadyPresent   int
	Transferred      int
	Failed           int
	Compressed       int
	Uploaded         int
	SkippedDuplicate int
	BytesTransferred int64
	// Err is set when the device was aborted as a whole (connection or
	// inventory failure). Per-file failures only bump Failed.
	Err error
}
