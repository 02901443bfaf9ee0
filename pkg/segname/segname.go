// Filename grammar for archived segments.
//
// On the device a segment lives at <route>--<idx>/<kind>[.<ext>] under the
// data root. In the local archive it is flattened to one file:
//
//	<dongleId>|<route>--<idx>--<kind>[.<ext>]
//
// The '|' (and any other character illegal on the local filesystem) may have
// been substituted with '_', so parsing must tolerate both forms.
package segname

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rlogvault/rlogvault/pkg/rvtypes"
)

// longer names risk hitting Windows' 260 char full-path limit
const maxNameLength = 200

// kind, optionally followed by a known compressed-extension marker
var payloadRe = regexp.MustCompile(`^([a-z]+log)(?:\.(zst|gz|bz2))?$`)

var illegalChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// IsCompressedName tells whether the name already carries a known
// compressed-extension marker.
func IsCompressedName(name string) bool {
	_, ext := SplitCompression(name)
	return ext != ""
}

// SplitCompression splits "xxx.zst" into ("xxx", "zst"). Unknown extensions
// are left attached to the base.
func SplitCompression(name string) (string, string) {
	for _, ext := range []string{"zst", "gz", "bz2"} {
		if strings.HasSuffix(name, "."+ext) {
			return strings.TrimSuffix(name, "."+ext), ext
		}
	}

	return name, ""
}

// ParseRemote parses a path relative to the device data root, e.g.
// "2024-08-09--12-34-56--3/rlog.bz2".
func ParseRemote(relPath string, size int64) (*rvtypes.Segment, error) {
	relPath = strings.Trim(relPath, "/")

	slash := strings.LastIndex(relPath, "/")
	if slash == -1 {
		return nil, fmt.Errorf("segment path without route dir: %s", relPath)
	}

	// nested route dirs are joined with '|', same as the flattened local name
	routeDir := strings.ReplaceAll(relPath[:slash], "/", "|")
	filename := relPath[slash+1:]

	routeID, idx, err := splitRouteDir(routeDir)
	if err != nil {
		return nil, err
	}

	kind, compression, err := parsePayload(filename)
	if err != nil {
		return nil, err
	}

	return &rvtypes.Segment{
		Key: rvtypes.SegmentKey{
			RouteID: routeID,
			Index:   idx,
			Kind:    kind,
		},
		Size:        size,
		Compression: compression,
		RemotePath:  relPath,
	}, nil
}

// ParseLocal parses a flattened archive filename. The dongle id prefix is
// known from the directory the file lives in; the separator after it is
// accepted as either '|' or its sanitized substitute.
func ParseLocal(filename string, dongleID string) (*rvtypes.Segment, error) {
	if !strings.HasPrefix(filename, dongleID) || len(filename) < len(dongleID)+2 {
		return nil, fmt.Errorf("filename not prefixed with dongle id: %s", filename)
	}

	rest := filename[len(dongleID)+1:] // skips the '|' / '_' separator

	base, compression := SplitCompression(rest)

	// from the right: last "--" group is the kind, second-to-last the index
	parts := strings.Split(base, "--")
	if len(parts) < 3 {
		return nil, fmt.Errorf("unparseable segment name: %s", filename)
	}

	kind, _, err := parsePayload(parts[len(parts)-1])
	if err != nil {
		return nil, err
	}

	idx, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return nil, fmt.Errorf("segment index not numeric in %s: %v", filename, err)
	}

	return &rvtypes.Segment{
		Key: rvtypes.SegmentKey{
			RouteID: strings.Join(parts[:len(parts)-2], "--"),
			Index:   idx,
			Kind:    kind,
		},
		Compression: compression,
	}, nil
}

// EncodeLocal produces the (already sanitized) local archive filename for a
// segment.
func EncodeLocal(dongleID string, key rvtypes.SegmentKey, compression string) string {
	name := fmt.Sprintf("%s|%s--%d--%s", dongleID, key.RouteID, key.Index, key.Kind)
	if compression != "" {
		name += "." + compression
	}

	return Sanitize(name)
}

// Sanitize substitutes characters that are illegal on common filesystems and
// caps the name length (Windows caps full paths at 260 chars). The
// substitution is stable, so equivalence-class matching works as long as both
// sides of a comparison are keyed through NormalizeKey().
func Sanitize(name string) string {
	name = illegalChars.ReplaceAllString(name, "_")

	if len(name) > maxNameLength {
		base, ext := SplitCompression(name)
		suffix := ""
		if ext != "" {
			suffix = "." + ext
		}
		name = base[:maxNameLength-len(suffix)] + suffix
	}

	return name
}

// NormalizeKey applies the same character substitution to the route id that
// Sanitize() applies to filenames, so a remote-derived key compares equal to
// a key parsed back from a sanitized local filename.
func NormalizeKey(key rvtypes.SegmentKey) rvtypes.SegmentKey {
	key.RouteID = illegalChars.ReplaceAllString(key.RouteID, "_")
	return key
}

func splitRouteDir(routeDir string) (string, int, error) {
	cut := strings.LastIndex(routeDir, "--")
	if cut == -1 {
		return "", 0, fmt.Errorf("route dir without segment index: %s", routeDir)
	}

	idx, err := strconv.Atoi(routeDir[cut+2:])
	if err != nil {
		return "", 0, fmt.Errorf("segment index not numeric in %s: %v", routeDir, err)
	}

	return routeDir[:cut], idx, nil
}

func parsePayload(filename string) (rvtypes.PayloadKind, string, error) {
	match := payloadRe.FindStringSubmatch(filename)
	if match == nil {
		return "", "", fmt.Errorf("not a segment payload: %s", filename)
	}

	return rvtypes.PayloadKind(match[1]), match[2], nil
}
