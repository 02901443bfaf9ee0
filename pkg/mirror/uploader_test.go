package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
)

func TestMirrorSourceShardsAndSkipsDuplicates(t *testing.T) {
	localDir := t.TempDir()
	destRoot := t.TempDir()

	// four 600-"byte" files against a 2000 byte cap => f1..f3 in shard 1,
	// f4 opens shard 2 (names sort lexicographically)
	for _, name := range []string{"f1", "f2", "f3", "f4"} {
		writeSized(t, filepath.Join(localDir, name), 600)
	}

	store := newLocalStore(destRoot, "rlogs")
	ctx := context.Background()

	stats, err := MirrorSource(ctx, store, 2000, "car", "dongle1", localDir, 2, discardLogger())
	assert.Ok(t, err)

	assert.Assert(t, stats.Uploaded == 4)
	assert.Assert(t, stats.SkippedDuplicate == 0)
	assert.Assert(t, stats.Failed == 0)
	assert.Assert(t, stats.BytesUploaded == 2400)

	assertExists(t, filepath.Join(destRoot, "rlogs", "car", "dongle1", "f1"))
	assertExists(t, filepath.Join(destRoot, "rlogs", "car", "dongle1", "f3"))
	assertExists(t, filepath.Join(destRoot, "rlogs", "car", "dongle1_part2", "f4"))

	// second run: everything already present, nothing re-uploaded
	stats, err = MirrorSource(ctx, store, 2000, "car", "dongle1", localDir, 2, discardLogger())
	assert.Ok(t, err)

	assert.Assert(t, stats.Uploaded == 0)
	assert.Assert(t, stats.SkippedDuplicate == 4)
}

func TestMirrorSourceResumesInterruptedRun(t *testing.T) {
	localDir := t.TempDir()
	destRoot := t.TempDir()

	store := newLocalStore(destRoot, "rlogs")
	ctx := context.Background()

	// first run saw only f1..f3 (as if interrupted before f4/f5 existed)
	for _, name := range []string{"f1", "f2", "f3"} {
		writeSized(t, filepath.Join(localDir, name), 600)
	}

	_, err := MirrorSource(ctx, store, 2000, "car", "dongle1", localDir, 1, discardLogger())
	assert.Ok(t, err)

	// the rest arrive; placement must continue exactly where a single run
	// would have put them
	writeSized(t, filepath.Join(localDir, "f4"), 600)
	writeSized(t, filepath.Join(localDir, "f5"), 600)

	stats, err := MirrorSource(ctx, store, 2000, "car", "dongle1", localDir, 1, discardLogger())
	assert.Ok(t, err)

	assert.Assert(t, stats.Uploaded == 2)
	assert.Assert(t, stats.SkippedDuplicate == 3)

	assertExists(t, filepath.Join(destRoot, "rlogs", "car", "dongle1_part2", "f4"))
	assertExists(t, filepath.Join(destRoot, "rlogs", "car", "dongle1_part2", "f5"))
}

func TestMirrorSourceReplacesTruncatedUpload(t *testing.T) {
	localDir := t.TempDir()
	destRoot := t.TempDir()

	writeSized(t, filepath.Join(localDir, "f1"), 600)

	// destination has a truncated copy from an interrupted run
	destDir := filepath.Join(destRoot, "rlogs", "car", "dongle1")
	assert.Ok(t, os.MkdirAll(destDir, 0755))
	writeSized(t, filepath.Join(destDir, "f1"), 100)

	store := newLocalStore(destRoot, "rlogs")

	stats, err := MirrorSource(context.Background(), store, 2000, "car", "dongle1", localDir, 1, discardLogger())
	assert.Ok(t, err)

	assert.Assert(t, stats.Uploaded == 1)
	assert.Assert(t, stats.SkippedDuplicate == 0)

	info, err := os.Stat(filepath.Join(destDir, "f1"))
	assert.Ok(t, err)
	assert.Assert(t, info.Size() == 600)
}

func TestMirrorSourceIgnoresPartialLocalFiles(t *testing.T) {
	localDir := t.TempDir()
	destRoot := t.TempDir()

	writeSized(t, filepath.Join(localDir, "f1"), 10)
	writeSized(t, filepath.Join(localDir, "f2.part"), 10)
	writeSized(t, filepath.Join(localDir, ".hidden"), 10)

	store := newLocalStore(destRoot, "rlogs")

	stats, err := MirrorSource(context.Background(), store, 2000, "car", "dongle1", localDir, 1, discardLogger())
	assert.Ok(t, err)

	assert.Assert(t, stats.Uploaded == 1)
}

func writeSized(t *testing.T, path string, size int) {
	t.Helper()

	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
}

func assertExists(t *testing.T, path string) {
	t.Helper()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
}

func discardLogger() *logex.Leveled {
	return logex.Levels(logex.Discard)
}
