package mirror

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rlogvault/rlogvault/pkg/shard"
)

// localStore mirrors to a directory, typically an external disk or a folder
// watched by a cloud-sync agent. Upload is temp-file-then-rename so an
// interrupted run never leaves a file indistinguishable from a complete one.
type localStore struct {
	root   string
	folder string
}

func newLocalStore(root string, folder string) *localStore {
	return &localStore{root: root, folder: folder}
}

func (l *localStore) ListShards(ctx context.Context, label string, source string) ([]shard.State, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, l.folder, label))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	states := []shard.State{}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		suffix, ok := shard.ParseSuffix(source, entry.Name())
		if !ok {
			continue
		}

		bytes := int64(0)
		files, err := l.ListFiles(ctx, label, entry.Name())
		if err != nil {
			return nil, err
		}
		for _, size := range files {
			bytes += size
		}

		states = append(states, shard.State{Suffix: suffix, Bytes: bytes})
	}

	return states, nil
}

func (l *localStore) ListFiles(ctx context.Context, label string, shardName string) (map[string]int64, error) {
	files := map[string]int64{}

	entries, err := os.ReadDir(filepath.Join(l.root, l.folder, label, shardName))
	if err != nil {
		if os.IsNotExist(err) {
			return files, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".temp") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, err
		}

		files[entry.Name()] = info.Size()
	}

	return files, nil
}

func (l *localStore) Upload(ctx context.Context, label string, shardName string, fileName string, content io.Reader, size int64) error {
	finalName := filepath.Join(l.root, l.folder, label, shardName, fileName)
	tempName := finalName + ".temp"

	if err := os.MkdirAll(filepath.Dir(finalName), 0755); err != nil {
		return err
	}

	tempFile, err := os.Create(tempName)
	if err != nil {
		return err
	}

	success := false

	defer func() {
		tempFile.Close()

		if !success {
			os.Remove(tempName)
		}
	}()

	if _, err := io.Copy(tempFile, content); err != nil {
		return err
	}

	if err := tempFile.Close(); err != nil { // double close is intentional
		return err
	}

	if err := os.Rename(tempName, finalName); err != nil {
		return err
	}

	success = true

	return nil
}
