package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/function61/gokit/logex"
	"github.com/pkg/sftp"
	"github.com/rlogvault/rlogvault/pkg/segname"
)

// a failed file is retried whole (sftp has no partial resume) this many
// times before being marked failed for the run
const sftpAttemptsPerFile = 3

// sftpTransport is the per-file strategy: one authenticated session reused
// across all files of the batch, chosen when the rsync binary is unavailable.
type sftpTransport struct {
	conn *deviceConn
	logl *logex.Leveled
}

func newSftpTransport(conn *deviceConn, logl *logex.Leveled) *sftpTransport {
	return &sftpTransport{conn: conn, logl: logl}
}

func (s *sftpTransport) Name() string { return "sftp" }

func (s *sftpTransport) Fetch(ctx context.Context, batch *Batch) (*BatchResult, error) {
	result := &BatchResult{}

	// session-level failure aborts the batch; per-file failures below don't
	client, err := sftp.NewClient(s.conn.client)
	if err != nil {
		return result, fmt.Errorf("sftp session: %v", err)
	}
	defer client.Close()

	for i, item := range batch.Items {
		select {
		case <-ctx.Done():
			result.Failed += len(batch.Items) - i
			return result, ctx.Err()
		default:
		}

		targetName := segname.EncodeLocal(batch.DongleID, item.Key, item.Compression)
		targetPath := filepath.Join(batch.OutputDir, targetName)

		if existing, err := os.Stat(targetPath); err == nil && existing.Size() == item.Size && item.Size > 0 {
			// complete local copies are never overwritten
			result.SkippedComplete++
			continue
		}

		size, err := s.downloadWithRetry(client, item.RemotePath, targetPath, item.Size)
		if err != nil {
			s.logl.Error.Printf("download %s: %v", item.RemotePath, err)

			result.Failed++
			continue
		}

		s.logl.Debug.Printf("downloaded %s -> %s", item.RemotePath, targetName)

		result.Transferred = append(result.Transferred, targetPath)
		result.BytesTransferred += size
	}

	return result, nil
}

func (s *sftpTransport) downloadWithRetry(client *sftp.Client, remotePath string, targetPath string, expectedSize int64) (int64, error) {
	var lastErr error

	for attempt := 1; attempt <= sftpAttemptsPerFile; attempt++ {
		size, err := s.downloadOne(client, remotePath, targetPath, expectedSize)
		if err == nil {
			return size, nil
		}

		lastErr = err
		s.logl.Debug.Printf("attempt %d/%d for %s: %v", attempt, sftpAttemptsPerFile, remotePath, err)
	}

	return 0, lastErr
}

// downloadOne fetches to a .part temp name and renames only a verified
// complete file into place.
func (s *sftpTransport) downloadOne(client *sftp.Client, remotePath string, targetPath string, expectedSize int64) (int64, error) {
	remote, err := client.Open(remoteDataDir + "/" + remotePath)
	if err != nil {
		return 0, err
	}
	defer remote.Close()

	tempPath := targetPath + ".part"

	local, err := os.Create(tempPath)
	if err != nil {
		return 0, err
	}

	success := false
	defer func() {
		local.Close()

		if !success {
			os.Remove(tempPath)
		}
	}()

	size, err := io.Copy(local, remote)
	if err != nil {
		return 0, err
	}

	if err := local.Close(); err != nil { // double close is intentional
		return 0, err
	}

	if expectedSize > 0 && size != expectedSize {
		return 0, fmt.Errorf("got %d bytes, expected %d", size, expectedSize)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return 0, err
	}

	success = true

	return size, nil
}
