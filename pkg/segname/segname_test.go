package segname

import (
	"strconv"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
)

func TestParseRemote(t *testing.T) {
	for _, tc := range []struct {
		input  string
		expect string
	}{
		{"2024-08-09--12-34-56--3/rlog.bz2", "2024-08-09--12-34-56 3 rlog bz2"},
		{"2024-08-09--12-34-56--0/rlog", "2024-08-09--12-34-56 0 rlog raw"},
		{"2024-08-09--12-34-56--12/qlog.zst", "2024-08-09--12-34-56 12 qlog zst"},
		{"rlog", "err"},                            // no route dir
		{"2024-08-09--12-34-56--3/fcamera", "err"}, // not a log payload
		{"2024-08-09--12-34-56/rlog", "err"},       // segment index missing
	} {
		t.Run(tc.input, func(t *testing.T) {
			seg, err := ParseRemote(tc.input, 123)

			if tc.expect == "err" {
				assert.Assert(t, err != nil)
				return
			}

			assert.Ok(t, err)

			compression := seg.Compression
			if compression == "" {
				compression = "raw"
			}

			got := strings.Join([]string{
				seg.Key.RouteID,
				strconv.Itoa(seg.Key.Index),
				string(seg.Key.Kind),
				compression,
			}, " ")

			assert.EqualString(t, got, tc.expect)
			assert.Assert(t, seg.Size == 123)
		})
	}
}

func TestEncodeParseLocalRoundtrip(t *testing.T) {
	key := rvtypes.SegmentKey{RouteID: "2024-08-09--12-34-56", Index: 3, Kind: rvtypes.PayloadRlog}

	name := EncodeLocal("4ad1ceef00112233", key, "zst")

	// '|' is illegal on Windows so EncodeLocal sanitizes it away
	assert.EqualString(t, name, "4ad1ceef00112233_2024-08-09--12-34-56--3--rlog.zst")

	parsed, err := ParseLocal(name, "4ad1ceef00112233")
	assert.Ok(t, err)
	assert.Assert(t, parsed.Key == key)
	assert.EqualString(t, parsed.Compression, "zst")
}

func TestParseLocalRaw(t *testing.T) {
	parsed, err := ParseLocal("dongle1_2024-08-09--12-34-56--0--rlog", "dongle1")
	assert.Ok(t, err)
	assert.Assert(t, parsed.Key.Index == 0)
	assert.EqualString(t, parsed.Compression, "")
}

func TestSanitize(t *testing.T) {
	for _, tc := range []struct {
		input  string
		expect string
	}{
		{"dongle|route--0--rlog", "dongle_route--0--rlog"},
		{`a:b*c?d"e<f>g\h`, "a_b_c_d_e_f_g_h"},
		{"plain--0--rlog.zst", "plain--0--rlog.zst"},
	} {
		t.Run(tc.input, func(t *testing.T) {
			assert.EqualString(t, Sanitize(tc.input), tc.expect)
		})
	}
}

func TestSanitizeCapsLength(t *testing.T) {
	long := strings.Repeat("x", 300) + ".zst"

	capped := Sanitize(long)

	assert.Assert(t, len(capped) == 200)
	assert.Assert(t, strings.HasSuffix(capped, ".zst"))
}

func TestNormalizeKey(t *testing.T) {
	key := rvtypes.SegmentKey{RouteID: "rou:te*1", Index: 1, Kind: rvtypes.PayloadRlog}

	assert.EqualString(t, NormalizeKey(key).RouteID, "rou_te_1")
}

func TestIsCompressedName(t *testing.T) {
	assert.Assert(t, IsCompressedName("a--0--rlog.zst"))
	assert.Assert(t, IsCompressedName("a--0--rlog.bz2"))
	assert.Assert(t, !IsCompressedName("a--0--rlog"))
	assert.Assert(t, !IsCompressedName("a--0--rlog.tmp"))
}
