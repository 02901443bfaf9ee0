package fetch

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
	"github.com/rlogvault/rlogvault/pkg/logcompress"
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
	"github.com/rlogvault/rlogvault/pkg/segname"
)

func TestBuildBatches(t *testing.T) {
	device := &rvtypes.Device{Address: "10.0.0.5", Label: "car1"}

	missing := []rvtypes.Segment{}
	for i := 0; i < 25; i++ {
		missing = append(missing, rvtypes.Segment{
			Key:        rvtypes.SegmentKey{RouteID: "2024-08-09--12-34-56", Index: i, Kind: rvtypes.PayloadRlog},
			RemotePath: "2024-08-09--12-34-56--" + strconv.Itoa(i) + "/rlog",
		})
	}

	batches := buildBatches(device, "4ad1ceef00112233", "/tmp/out", missing, 10)

	assert.Assert(t, len(batches) == 3)
	assert.Assert(t, len(batches[0].Items) == 10)
	assert.Assert(t, len(batches[1].Items) == 10)
	assert.Assert(t, len(batches[2].Items) == 5)

	total := 0
	for _, batch := range batches {
		assert.EqualString(t, batch.DongleID, "4ad1ceef00112233")
		total += len(batch.Items)
	}
	assert.Assert(t, total == len(missing))

	// no missing segments, no batches (and thus no network operations)
	assert.Assert(t, len(buildBatches(device, "4ad1ceef00112233", "/tmp/out", nil, 10)) == 0)
}

func TestWriteIncludeFile(t *testing.T) {
	tempDir := t.TempDir()
	includeFile := filepath.Join(tempDir, "includes.txt")

	assert.Ok(t, writeIncludeFile(includeFile, []rvtypes.Segment{
		{RemotePath: "2024-08-09--12-34-56--0/rlog"},
		{RemotePath: "2024-08-09--12-34-56--1/rlog.bz2"},
	}))

	content, err := os.ReadFile(includeFile)
	assert.Ok(t, err)

	assert.EqualString(t, string(content), strings.Join([]string{
		"+ */",
		"+ 2024-08-09--12-34-56--0/rlog",
		"+ 2024-08-09--12-34-56--1/rlog.bz2",
		"- *",
		"",
	}, "\n"))
}

func TestCollectFromStaging(t *testing.T) {
	outputDir := t.TempDir()
	stagingDir := filepath.Join(outputDir, rsyncStagingDirName)

	// two staged downloads, one of them still only partial
	writeStaged(t, stagingDir, "2024-08-09--12-34-56--0/rlog", "aaaa")
	writeStaged(t, stagingDir, "2024-08-09--12-34-56--1/"+rsyncPartialDirName+"/rlog", "bb")

	batch := &Batch{
		DongleID:  "4ad1ceef00112233",
		OutputDir: outputDir,
		Items: []rvtypes.Segment{
			mustParseRemote(t, "2024-08-09--12-34-56--0/rlog", 4),
			mustParseRemote(t, "2024-08-09--12-34-56--1/rlog", 2),
		},
	}

	transport := &rsyncTransport{logl: discardLogger()}

	result, err := transport.collectFromStaging(batch, stagingDir)
	assert.Ok(t, err)

	assert.Assert(t, len(result.Transferred) == 1)
	assert.Assert(t, result.Failed == 1)
	assert.Assert(t, result.BytesTransferred == 4)

	finalName := segname.EncodeLocal("4ad1ceef00112233", batch.Items[0].Key, "")
	content, err := os.ReadFile(filepath.Join(outputDir, finalName))
	assert.Ok(t, err)
	assert.EqualString(t, string(content), "aaaa")

	// the partial file stays for the next run's rsync to resume
	_, err = os.Stat(filepath.Join(stagingDir, "2024-08-09--12-34-56--1", rsyncPartialDirName, "rlog"))
	assert.Ok(t, err)

	// the emptied segment dir is gone
	_, err = os.Stat(filepath.Join(stagingDir, "2024-08-09--12-34-56--0"))
	assert.Assert(t, os.IsNotExist(err))
}

func TestCollectFromStagingNeverOverwritesComplete(t *testing.T) {
	outputDir := t.TempDir()
	stagingDir := filepath.Join(outputDir, rsyncStagingDirName)

	item := mustParseRemote(t, "2024-08-09--12-34-56--0/rlog", 4)

	finalPath := filepath.Join(outputDir, segname.EncodeLocal("4ad1ceef00112233", item.Key, ""))
	assert.Ok(t, os.WriteFile(finalPath, []byte("orig"), 0644))

	// staged copy has the same size; the already-complete local file wins
	writeStaged(t, stagingDir, "2024-08-09--12-34-56--0/rlog", "new!")

	transport := &rsyncTransport{logl: discardLogger()}

	result, err := transport.collectFromStaging(&Batch{
		DongleID:  "4ad1ceef00112233",
		OutputDir: outputDir,
		Items:     []rvtypes.Segment{item},
	}, stagingDir)
	assert.Ok(t, err)

	assert.Assert(t, result.SkippedComplete == 1)
	assert.Assert(t, len(result.Transferred) == 0)
	assert.Assert(t, result.Failed == 0)

	content, err := os.ReadFile(finalPath)
	assert.Ok(t, err)
	assert.EqualString(t, string(content), "orig")
}

func TestCompressRawSegments(t *testing.T) {
	dir := t.TempDir()
	dongleID := "4ad1ceef00112233"

	rawName := segname.EncodeLocal(dongleID, rvtypes.SegmentKey{
		RouteID: "2024-08-09--12-34-56", Index: 0, Kind: rvtypes.PayloadRlog}, "")
	alreadyName := segname.EncodeLocal(dongleID, rvtypes.SegmentKey{
		RouteID: "2024-08-09--12-34-56", Index: 1, Kind: rvtypes.PayloadRlog}, "zst")

	assert.Ok(t, os.WriteFile(filepath.Join(dir, rawName), []byte("raw segment bytes"), 0644))
	assert.Ok(t, os.WriteFile(filepath.Join(dir, alreadyName), []byte("zstd bytes"), 0644))
	assert.Ok(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("unrelated"), 0644))

	codec := logcompress.Resolve("zstd", discardLogger())
	assert.Assert(t, codec.Enabled())

	assert.Assert(t, compressRawSegments(dir, dongleID, codec, discardLogger()) == 1)

	// raw is gone, compressed artifact exists, foreign file untouched
	_, err := os.Stat(filepath.Join(dir, rawName))
	assert.Assert(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(dir, rawName+".zst"))
	assert.Ok(t, err)

	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.Ok(t, err)

	// second run is a no-op
	assert.Assert(t, compressRawSegments(dir, dongleID, codec, discardLogger()) == 0)
}

func TestSplitHostPort(t *testing.T) {
	host, port := splitHostPort("10.0.0.5")
	assert.EqualString(t, host, "10.0.0.5")
	assert.EqualString(t, port, "")

	host, port = splitHostPort("10.0.0.5:8022")
	assert.EqualString(t, host, "10.0.0.5")
	assert.EqualString(t, port, "8022")
}

func writeStaged(t *testing.T, stagingDir string, relPath string, content string) {
	t.Helper()

	path := filepath.Join(stagingDir, filepath.FromSlash(relPath))

	assert.Ok(t, os.MkdirAll(filepath.Dir(path), 0755))
	assert.Ok(t, os.WriteFile(path, []byte(content), 0644))
}

func mustParseRemote(t *testing.T, relPath string, size int64) rvtypes.Segment {
	t.Helper()

	seg, err := segname.ParseRemote(relPath, size)
	assert.Ok(t, err)

	return *seg
}

func discardLogger() *logex.Leveled {
	return logex.Levels(logex.Discard)
}
