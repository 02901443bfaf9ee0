package mirror

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/olekukonko/tablewriter"
	"github.com/rlogvault/rlogvault/pkg/byteshuman"
	"github.com/rlogvault/rlogvault/pkg/rvconfig"
	"github.com/spf13/cobra"
)

func Entrypoint() *cobra.Command {
	parallel := 4
	capBytes := int64(0) // 0 = from config

	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Uploads the local archive to the destination store, sharded under the size cap",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			rootLogger := logex.StandardLogger()

			osutil.ExitIfError(mirrorRun(
				osutil.CancelOnInterruptOrTerminate(rootLogger),
				capBytes,
				parallel,
				rootLogger))
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", parallel, "Concurrent uploads")
	cmd.Flags().Int64VarP(&capBytes, "cap", "", capBytes, "Shard size cap in bytes (default from config)")

	return cmd
}

func mirrorRun(ctx context.Context, capBytes int64, parallel int, rootLogger *log.Logger) error {
	conf, err := rvconfig.Read()
	if err != nil {
		return err
	}

	if conf.Destination == nil {
		return errors.New("no destination configured; set \"destination\" in the config file")
	}

	if capBytes == 0 {
		capBytes = conf.Destination.ShardCapBytes
	}

	store, err := StoreFromConfig(conf.Destination, logex.Prefix("store", rootLogger))
	if err != nil {
		return err
	}

	summaries, err := MirrorArchive(
		ctx,
		conf,
		store,
		capBytes,
		parallel,
		logex.Levels(logex.Prefix("mirror", rootLogger)))
	if err != nil {
		return err
	}

	renderSummaries(summaries)

	return nil
}

func renderSummaries(summaries []SourceSummary) {
	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetBorder(false)
	tbl.SetHeader([]string{"Device", "Uploaded", "Skipped", "Failed", "Bytes"})

	for _, summary := range summaries {
		tbl.Append([]string{
			summary.Label + "/" + summary.Source,
			strconv.Itoa(summary.Stats.Uploaded),
			strconv.Itoa(summary.Stats.SkippedDuplicate),
			strconv.Itoa(summary.Stats.Failed),
			byteshuman.Humanize(summary.Stats.BytesUploaded),
		})
	}

	tbl.Render()
}
