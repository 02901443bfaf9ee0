package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rlogvault/rlogvault/pkg/byteshuman"
	"github.com/rlogvault/rlogvault/pkg/rvconfig"
	"github.com/rlogvault/rlogvault/pkg/segname"
	"github.com/samber/lo"
)

type archivedFile struct {
	Label       string
	DongleID    string
	Size        int64
	Compression string // "raw" for uncompressed
	RouteID     string
}

// listArchive walks <root>/<label>/<dongleId>/ collecting stats input. Files
// that don't parse as segments (notes, strays) are counted by size but not by
// route. An empty onlyLabel means every device.
func listArchive(conf *rvconfig.Config, onlyLabel string) ([]archivedFile, error) {
	files := []archivedFile{}

	labels, err := os.ReadDir(conf.ArchiveRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return files, nil
		}
		return nil, err
	}

	for _, label := range labels {
		if !label.IsDir() || (onlyLabel != "" && label.Name() != onlyLabel) {
			continue
		}

		labelDir := filepath.Join(conf.ArchiveRoot, label.Name())

		dongles, err := os.ReadDir(labelDir)
		if err != nil {
			return nil, err
		}

		for _, dongle := range dongles {
			if !dongle.IsDir() {
				continue
			}

			entries, err := os.ReadDir(filepath.Join(labelDir, dongle.Name()))
			if err != nil {
				return nil, err
			}

			for _, entry := range entries {
				name := entry.Name()

				if entry.IsDir() || strings.HasPrefix(name, ".") ||
					strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".temp") {
					continue
				}

				info, err := entry.Info()
				if err != nil {
					return nil, err
				}

				file := archivedFile{
					Label:       label.Name(),
					DongleID:    dongle.Name(),
					Size:        info.Size(),
					Compression: "raw",
				}

				if seg, err := segname.ParseLocal(name, dongle.Name()); err == nil {
					file.RouteID = seg.Key.RouteID
					if seg.Compression != "" {
						file.Compression = seg.Compression
					}
				}

				files = append(files, file)
			}
		}
	}

	return files, nil
}

func renderArchiveStats(conf *rvconfig.Config, files []archivedFile) {
	byDevice := lo.GroupBy(files, func(f archivedFile) string {
		return f.Label + "/" + f.DongleID
	})

	devices := lo.Keys(byDevice)
	sort.Strings(devices)

	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetBorder(false)
	tbl.SetHeader([]string{"Device", "Segments", "Routes", "By codec", "Size"})

	for _, device := range devices {
		deviceFiles := byDevice[device]

		routes := lo.Uniq(lo.FilterMap(deviceFiles, func(f archivedFile, _ int) (string, bool) {
			return f.RouteID, f.RouteID != ""
		}))

		codecCounts := lo.CountValuesBy(deviceFiles, func(f archivedFile) string {
			return f.Compression
		})

		codecs := lo.Keys(codecCounts)
		sort.Strings(codecs)

		codecSummary := strings.Join(lo.Map(codecs, func(codec string, _ int) string {
			return fmt.Sprintf("%s=%d", codec, codecCounts[codec])
		}), " ")

		tbl.Append([]string{
			device,
			strconv.Itoa(len(deviceFiles)),
			strconv.Itoa(len(routes)),
			codecSummary,
			byteshuman.Humanize(lo.SumBy(deviceFiles, func(f archivedFile) int64 {
				return f.Size
			})),
		})
	}

	tbl.Render()

	fmt.Printf(
		"\ntotal %s in %d files (%s)\n",
		byteshuman.Humanize(lo.SumBy(files, func(f archivedFile) int64 { return f.Size })),
		len(files),
		conf.ArchiveRoot)
}
