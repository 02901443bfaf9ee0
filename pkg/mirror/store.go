// Mirrors the local archive to a size-capped destination store (S3 or a
// local directory), uploading only files not already present.
package mirror

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/rlogvault/rlogvault/pkg/rvconfig"
	"github.com/rlogvault/rlogvault/pkg/shard"
)

// Store is the destination's interface boundary. Listings are the single
// source of truth for "already uploaded" and are queried fresh each run.
type Store interface {
	// ListShards observes the current shards of one source under a device
	// label, sizes summed from the files already placed in them.
	ListShards(ctx context.Context, label string, source string) ([]shard.State, error)
	// ListFiles returns name -> size for one shard folder.
	ListFiles(ctx context.Context, label string, shardName string) (map[string]int64, error)
	Upload(ctx context.Context, label string, shardName string, fileName string, content io.Reader, size int64) error
}

func StoreFromConfig(dest *rvconfig.Destination, logger *log.Logger) (Store, error) {
	switch dest.Kind {
	case "s3":
		return newS3Store(dest.Options, dest.Folder, logger)
	case "localdir":
		return newLocalStore(dest.Options, dest.Folder), nil
	default:
		return nil, fmt.Errorf("unsupported destination kind: %q", dest.Kind)
	}
}
