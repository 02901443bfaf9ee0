package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
	"github.com/rlogvault/rlogvault/pkg/segname"
)

const (
	rsyncStagingDirName = ".rsync_temp"
	rsyncPartialDirName = ".rsync-partial"

	// give the ControlMaster connection a moment to establish before rsync
	// tries to piggyback on it
	multiplexWarmup = 2 * time.Second
)

// rsyncTransport is the bulk strategy: one multiplexed connection, server-side
// include filtering, in-flight compression, bandwidth capping and partial-file
// resume. Files land in a staging dir under their device-side paths and are
// renamed into flattened archive names afterwards.
type rsyncTransport struct {
	compressLevel int
	bwlimitKBps   int
	wholeFile     bool
	logl          *logex.Leveled
}

func newRsyncTransport(opts syncOptions, logl *logex.Leveled) *rsyncTransport {
	return &rsyncTransport{
		compressLevel: opts.compressLevel,
		bwlimitKBps:   opts.bwlimitKBps,
		wholeFile:     true, // delta transfer never helps: segments are immutable once written
		logl:          logl,
	}
}

func (r *rsyncTransport) Name() string { return "rsync" }

func (r *rsyncTransport) Fetch(ctx context.Context, batch *Batch) (*BatchResult, error) {
	stagingDir := filepath.Join(batch.OutputDir, rsyncStagingDirName)
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return &BatchResult{}, err
	}

	includeFile := filepath.Join(stagingDir, "rsync_includes.txt")
	if err := writeIncludeFile(includeFile, batch.Items); err != nil {
		return &BatchResult{}, err
	}
	defer os.Remove(includeFile)

	controlSocket := r.setupMultiplexing(ctx, batch.Device)
	if controlSocket != "" {
		defer r.cleanupMultiplexing(controlSocket)
	}

	rsyncErr := r.runRsync(ctx, batch, includeFile, controlSocket, stagingDir)

	// collect whatever landed even when rsync errored: completed files from
	// an aborted batch are kept (partial results are reported, not discarded)
	result, collectErr := r.collectFromStaging(batch, stagingDir)
	if collectErr != nil {
		return result, collectErr
	}

	if rsyncErr != nil && !isPartialTransferExit(rsyncErr) {
		return result, fmt.Errorf("rsync: %v", rsyncErr)
	}

	return result, nil
}

// rsync's include filters match directories before their contents, so the
// rule list is: descend everywhere, take the wanted files, drop the rest.
func writeIncludeFile(path string, items []rvtypes.Segment) error {
	rules := &strings.Builder{}

	fmt.Fprintf(rules, "+ */\n")
	for _, item := range items {
		fmt.Fprintf(rules, "+ %s\n", item.RemotePath)
	}
	fmt.Fprintf(rules, "- *\n")

	return os.WriteFile(path, []byte(rules.String()), 0600)
}

func (r *rsyncTransport) runRsync(ctx context.Context, batch *Batch, includeFile string, controlSocket string, stagingDir string) error {
	host, port := splitHostPort(batch.Device.Address)

	sshCmd := []string{
		"ssh",
		"-i", batch.Device.SSHKeyPath,
		"-o", "StrictHostKeyChecking=no",
		"-o", "Compression=no", // rsync handles compression itself
		"-o", "Ciphers=aes128-ctr",
		"-o", "ServerAliveInterval=30",
	}
	if port != "" {
		sshCmd = append(sshCmd, "-p", port)
	}
	if controlSocket != "" {
		sshCmd = append(sshCmd, "-o", "ControlPath="+controlSocket, "-o", "ControlMaster=no")
	}

	args := []string{
		"-az",
		"--partial",
		"--partial-dir=" + rsyncPartialDirName,
		fmt.Sprintf("--compress-level=%d", r.compressLevel),
		"--copy-links",
		"--include-from=" + includeFile,
	}
	if r.wholeFile {
		args = append(args, "--whole-file")
	}
	if r.bwlimitKBps > 0 {
		args = append(args, fmt.Sprintf("--bwlimit=%d", r.bwlimitKBps))
	}
	args = append(args,
		"--rsh="+strings.Join(sshCmd, " "),
		fmt.Sprintf("%s@%s:%s/", batch.Device.Username, host, remoteDataDir),
		stagingDir+"/")

	cmd := exec.CommandContext(ctx, "rsync", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			r.logl.Debug.Println(line)
		}
	}

	return cmd.Wait()
}

// exit 23 = partial transfer, 24 = source files vanished mid-run (the device
// rotates old segments away); both mean "keep what we got", not failure
func isPartialTransferExit(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}

	return exitErr.ExitCode() == 23 || exitErr.ExitCode() == 24
}

// collectFromStaging renames staged downloads into their flattened archive
// names, refusing to overwrite already-complete local files.
func (r *rsyncTransport) collectFromStaging(batch *Batch, stagingDir string) (*BatchResult, error) {
	result := &BatchResult{}

	expectedSizes := map[string]int64{}
	for _, item := range batch.Items {
		expectedSizes[item.RemotePath] = item.Size
	}

	errWalk := filepath.WalkDir(stagingDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			if entry.Name() == rsyncPartialDirName {
				// partials resume on the next run
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if _, wanted := expectedSizes[relPath]; !wanted {
			return nil // include file, stray temp etc.
		}

		seg, err := segname.ParseRemote(relPath, 0)
		if err != nil {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		targetName := segname.EncodeLocal(batch.DongleID, seg.Key, seg.Compression)
		targetPath := filepath.Join(batch.OutputDir, targetName)

		if existing, err := os.Stat(targetPath); err == nil && existing.Size() == info.Size() {
			// already complete: never overwrite (backstop against races with
			// an interrupted prior run)
			delete(expectedSizes, relPath)
			result.SkippedComplete++
			return os.Remove(path)
		}

		if err := os.Rename(path, targetPath); err != nil {
			return err
		}

		delete(expectedSizes, relPath)

		result.Transferred = append(result.Transferred, targetPath)
		result.BytesTransferred += info.Size()

		return nil
	})
	if errWalk != nil {
		return result, errWalk
	}

	// whatever rsync didn't deliver this run
	result.Failed = len(expectedSizes)

	removeEmptyDirs(stagingDir)

	return result, nil
}

func (r *rsyncTransport) setupMultiplexing(ctx context.Context, device *rvtypes.Device) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	controlDir := filepath.Join(home, ".ssh", "control_sockets")
	if err := os.MkdirAll(controlDir, 0700); err != nil {
		return ""
	}

	host, port := splitHostPort(device.Address)
	controlSocket := filepath.Join(controlDir, fmt.Sprintf("rlogvault_%s_%s", host, device.Username))

	args := []string{
		"-N",
		"-i", device.SSHKeyPath,
		"-o", "StrictHostKeyChecking=no",
		"-o", "ControlMaster=yes",
		"-o", "ControlPath=" + controlSocket,
		"-o", "ControlPersist=300",
		"-o", "Compression=no",
		"-o", "ServerAliveInterval=30",
	}
	if port != "" {
		args = append(args, "-p", port)
	}
	args = append(args, device.Username+"@"+host)

	master := exec.CommandContext(ctx, "ssh", args...)
	if err := master.Start(); err != nil {
		r.logl.Debug.Printf("ssh multiplexing unavailable: %v", err)
		return ""
	}
	go master.Wait() // reap; ControlPersist keeps the socket alive

	time.Sleep(multiplexWarmup)

	return controlSocket
}

func (r *rsyncTransport) cleanupMultiplexing(controlSocket string) {
	// host arg is required but unused when addressing by control path
	_ = exec.Command("ssh", "-o", "ControlPath="+controlSocket, "-O", "exit", "unused").Run()
}

func splitHostPort(address string) (string, string) {
	colon := strings.LastIndex(address, ":")
	if colon == -1 {
		return address, ""
	}

	return address[:colon], address[colon+1:]
}

// bottom-up removal; non-empty dirs (e.g. holding partial files) stay
func removeEmptyDirs(root string) {
	dirs := []string{}

	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err == nil && entry.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})

	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	for _, dir := range dirs {
		_ = os.Remove(dir)
	}
}
