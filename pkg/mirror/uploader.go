package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/retry"
	"github.com/rlogvault/rlogvault/pkg/rvconfig"
	"github.com/rlogvault/rlogvault/pkg/shard"
)

const perFileUploadTimeout = 5 * time.Minute

type Stats struct {
	Uploaded         int
	SkippedDuplicate int
	Failed           int
	BytesUploaded    int64
}

type SourceSummary struct {
	Label  string
	Source string // dongle id
	Stats  Stats
}

type uploadJob struct {
	localPath string
	fileName  string
	size      int64
	shardName string
}

// MirrorSource reconciles one device dir (<archive-root>/<label>/<source>/)
// against the destination and uploads only what's missing. Files already
// present (matched by name and size) are never re-uploaded; shard placement
// for new files is decided by the append-only planner. Per-file failures are
// recorded and the run continues.
func MirrorSource(
	ctx context.Context,
	store Store,
	capBytes int64,
	label string,
	source string,
	localDir string,
	parallel int,
	logl *logex.Leveled,
) (*Stats, error) {
	stats := &Stats{}

	localFiles, err := listLocalFiles(localDir)
	if err != nil {
		return nil, err
	}

	shardStates, err := store.ListShards(ctx, label, source)
	if err != nil {
		return nil, err
	}

	type placed struct {
		shardName string
		size      int64
	}

	existing := map[string]placed{}
	for _, state := range shardStates {
		shardName := shard.Name(source, state.Suffix)

		files, err := store.ListFiles(ctx, label, shardName)
		if err != nil {
			return nil, err
		}

		for name, size := range files {
			existing[name] = placed{shardName: shardName, size: size}
		}
	}

	planner := shard.NewPlanner(shardStates, capBytes)

	jobs := []uploadJob{}

	// localFiles is in lexicographic order, so shard assignment is
	// reproducible across interrupted runs
	for _, file := range localFiles {
		if have, ok := existing[file.Name]; ok {
			if have.size == file.Size {
				stats.SkippedDuplicate++
				continue
			}

			// truncated earlier upload: replace in place, same shard
			logl.Info.Printf("re-uploading %s (destination has %d bytes, local has %d)",
				file.Name, have.size, file.Size)

			jobs = append(jobs, uploadJob{
				localPath: filepath.Join(localDir, file.Name),
				fileName:  file.Name,
				size:      file.Size,
				shardName: have.shardName,
			})
			continue
		}

		assignment := planner.Place(shard.File{Name: file.Name, Size: file.Size})

		jobs = append(jobs, uploadJob{
			localPath: filepath.Join(localDir, file.Name),
			fileName:  file.Name,
			size:      file.Size,
			shardName: shard.Name(source, assignment.Suffix),
		})
	}

	if len(jobs) == 0 {
		return stats, nil
	}

	jobQueue := make(chan uploadJob)

	statsMu := sync.Mutex{}
	workersDone := sync.WaitGroup{}

	for i := 0; i < parallel; i++ {
		workersDone.Add(1)
		go func() {
			defer workersDone.Done()

			for job := range jobQueue {
				err := uploadOne(ctx, store, label, job, logl)

				statsMu.Lock()
				if err != nil {
					logl.Error.Printf("upload %s: %v", job.fileName, err)
					stats.Failed++
				} else {
					stats.Uploaded++
					stats.BytesUploaded += job.size
				}
				statsMu.Unlock()
			}
		}()
	}

	for _, job := range jobs {
		select {
		case jobQueue <- job:
		case <-ctx.Done():
			// drain: remaining jobs count as failed for this run
			statsMu.Lock()
			stats.Failed++
			statsMu.Unlock()
		}
	}

	close(jobQueue)

	workersDone.Wait()

	return stats, nil
}

// MirrorArchive runs MirrorSource for every <label>/<source> dir under the
// archive root.
func MirrorArchive(
	ctx context.Context,
	conf *rvconfig.Config,
	store Store,
	capBytes int64,
	parallel int,
	logl *logex.Leveled,
) ([]SourceSummary, error) {
	summaries := []SourceSummary{}

	labels, err := os.ReadDir(conf.ArchiveRoot)
	if err != nil {
		return nil, fmt.Errorf("archive root: %v", err)
	}

	for _, labelEntry := range labels {
		if !labelEntry.IsDir() {
			continue
		}
		label := labelEntry.Name()

		sources, err := os.ReadDir(filepath.Join(conf.ArchiveRoot, label))
		if err != nil {
			return nil, err
		}

		for _, sourceEntry := range sources {
			if !sourceEntry.IsDir() {
				continue
			}
			source := sourceEntry.Name()

			logl.Info.Printf("mirroring %s/%s", label, source)

			stats, err := MirrorSource(
				ctx,
				store,
				capBytes,
				label,
				source,
				filepath.Join(conf.ArchiveRoot, label, source),
				parallel,
				logl)
			if err != nil {
				// listing-level failure aborts this source only
				logl.Error.Printf("mirror %s/%s: %v", label, source, err)

				summaries = append(summaries, SourceSummary{Label: label, Source: source, Stats: Stats{Failed: 1}})
				continue
			}

			summaries = append(summaries, SourceSummary{Label: label, Source: source, Stats: *stats})
		}
	}

	return summaries, nil
}

func uploadOne(ctx context.Context, store Store, label string, job uploadJob, logl *logex.Leveled) error {
	ctx, cancel := context.WithTimeout(ctx, perFileUploadTimeout)
	defer cancel()

	// bounded attempts: retry backs off until the per-file timeout expires
	return retry.Retry(ctx, func(ctx context.Context) error {
		file, err := os.Open(job.localPath)
		if err != nil {
			return err
		}
		defer file.Close()

		return store.Upload(ctx, label, job.shardName, job.fileName, file, job.size)
	}, retry.DefaultBackoff(), func(err error) {
		logl.Debug.Printf("upload try failure: %v", err)
	})
}

type localFile struct {
	Name string
	Size int64
}

func listLocalFiles(dir string) ([]localFile, error) {
	entries, err := os.ReadDir(dir) // sorted by name
	if err != nil {
		return nil, err
	}

	files := []localFile{}

	for _, entry := range entries {
		if entry.IsDir() ||
			strings.HasPrefix(entry.Name(), ".") ||
			strings.HasSuffix(entry.Name(), ".part") ||
			strings.HasSuffix(entry.Name(), ".temp") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, err
		}

		files = append(files, localFile{Name: entry.Name(), Size: info.Size()})
	}

	return files, nil
}
