package fetch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/function61/gokit/logex"
	"github.com/rlogvault/rlogvault/pkg/inventory"
	"github.com/rlogvault/rlogvault/pkg/logcompress"
	"github.com/rlogvault/rlogvault/pkg/rvconfig"
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
	"github.com/rlogvault/rlogvault/pkg/segname"
)

// devices are fully independent (own archive dir, own connection), so a few
// can be in flight at once
const deviceConcurrency = 3

type syncOptions struct {
	transportOverride string
	bwlimitKBps       int
	compressLevel     int // rsync in-flight compression, not the archive codec
	ignoreOnroad      bool
	codecPreference   string // "" = best available, "none" = keep raw
}

// syncDevice runs the whole pipeline for one device: inventory both sides,
// reconcile, batch, transfer, compress. Errors that abort the device are
// returned in the report; the caller keeps processing other devices.
func syncDevice(
	ctx context.Context,
	conf *rvconfig.Config,
	device *rvtypes.Device,
	opts syncOptions,
	codec logcompress.Codec,
	rootLogger *log.Logger,
) *rvtypes.DeviceReport {
	logl := logex.Levels(logex.Prefix(device.Label, rootLogger))

	report := &rvtypes.DeviceReport{Device: device.String()}

	abort := func(err error) *rvtypes.DeviceReport {
		logl.Error.Println(err.Error())

		report.Err = err
		return report
	}

	logl.Info.Printf("connecting to %s", device.Address)

	conn, err := connectDevice(device)
	if err != nil {
		return abort(err)
	}
	defer conn.Close()

	dongleID, err := conn.DongleID()
	if err != nil {
		return abort(err)
	}
	report.DongleID = dongleID

	if !opts.ignoreOnroad {
		offroad, err := conn.IsOffroad()
		if err != nil {
			return abort(err)
		}
		if !offroad {
			logl.Info.Println("device is onroad, skipping")
			return report
		}
	}

	remote, err := conn.ListSegments(logl)
	if err != nil {
		return abort(err)
	}

	outputDir := filepath.Join(conf.ArchiveRoot, device.Label, dongleID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return abort(err)
	}

	local, err := inventory.ScanLocal(outputDir, dongleID, logl)
	if err != nil {
		return abort(err)
	}

	reconciled := inventory.MissingSet(remote, local, logl)

	report.AlreadyPresent = reconciled.AlreadyPresent
	report.Failed += reconciled.Flagged

	if len(reconciled.Missing) > 0 {
		logl.Info.Printf(
			"need %d of %d remote segments",
			len(reconciled.Missing), len(remote))

		transport := selectTransport(conn, device, opts, logl)

		logl.Info.Printf("transferring via %s", transport.Name())

		for _, batch := range buildBatches(device, dongleID, outputDir, reconciled.Missing, maxFilterRules) {
			result, err := transport.Fetch(ctx, batch)

			report.Transferred += len(result.Transferred)
			report.AlreadyPresent += result.SkippedComplete
			report.Failed += result.Failed
			report.BytesTransferred += result.BytesTransferred

			if err != nil {
				// connection-level failure: keep completed files, abort the rest
				return abort(fmt.Errorf("transfer aborted: %v", err))
			}
		}
	} else {
		logl.Info.Printf("all %d remote segments already archived", len(remote))
	}

	report.Compressed = compressRawSegments(outputDir, dongleID, codec, logl)

	return report
}

// compressRawSegments compresses every raw segment in the archive dir, not
// just this run's transfers: files left raw by an earlier degraded run get
// picked up too. Already-compressed files make this a no-op.
func compressRawSegments(dir string, dongleID string, codec logcompress.Codec, logl *logex.Leveled) int {
	if !codec.Enabled() {
		return 0
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logl.Error.Printf("compression scan: %v", err)
		return 0
	}

	compressed := 0

	for _, entry := range entries {
		name := entry.Name()

		if entry.IsDir() ||
			strings.HasPrefix(name, ".") ||
			strings.HasSuffix(name, ".part") ||
			strings.HasSuffix(name, ".temp") ||
			segname.IsCompressedName(name) {
			continue
		}

		if _, err := segname.ParseLocal(name, dongleID); err != nil {
			continue // foreign file
		}

		compressedPath, err := codec.CompressFile(filepath.Join(dir, name))
		if err != nil {
			if err != logcompress.ErrAlreadyCompressed {
				logl.Error.Printf("compress %s: %v", name, err)
			}
			continue
		}

		logl.Debug.Printf("compressed %s", filepath.Base(compressedPath))
		compressed++
	}

	return compressed
}

// syncDevices processes the given devices with bounded concurrency and
// renders the end-of-run summary. Per-device failures don't abort others.
func syncDevices(ctx context.Context, conf *rvconfig.Config, devices []rvtypes.Device, opts syncOptions, rootLogger *log.Logger) error {
	// resolved once per run, shared by all devices
	codec := logcompress.Resolve(opts.codecPreference, logex.Levels(rootLogger))

	reports := make([]*rvtypes.DeviceReport, len(devices))

	concurrency := deviceConcurrency
	if len(devices) < concurrency {
		concurrency = len(devices)
	}

	jobQueue := make(chan int)
	workersDone := sync.WaitGroup{}

	for i := 0; i < concurrency; i++ {
		workersDone.Add(1)
		go func() {
			defer workersDone.Done()

			for idx := range jobQueue {
				reports[idx] = syncDevice(ctx, conf, &devices[idx], opts, codec, rootLogger)
			}
		}()
	}

	for idx := range devices {
		jobQueue <- idx
	}
	close(jobQueue)

	workersDone.Wait()

	renderReports(os.Stdout, reports)

	failedDevices := 0
	for _, report := range reports {
		if report.Err != nil {
			failedDevices++
		}
	}
	if failedDevices > 0 {
		return fmt.Errorf("%d device(s) had errors", failedDevices)
	}

	return nil
}
