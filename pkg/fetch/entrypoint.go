package fetch

import (
	"fmt"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/rlogvault/rlogvault/pkg/rvconfig"
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
	"github.com/spf13/cobra"
)

func Entrypoints() []*cobra.Command {
	return []*cobra.Command{
		syncEntrypoint(),
		syncAllEntrypoint(),
		watchEntrypoint(),
		lsEntrypoint(),
	}
}

func syncFlags(cmd *cobra.Command, opts *syncOptions, noCompress *bool) {
	cmd.Flags().StringVarP(&opts.transportOverride, "transport", "t", opts.transportOverride, "Override transport: rsync | sftp")
	cmd.Flags().IntVarP(&opts.bwlimitKBps, "bwlimit", "", opts.bwlimitKBps, "Bandwidth cap in KB/s (rsync only, 0 = unlimited)")
	cmd.Flags().IntVarP(&opts.compressLevel, "compress-level", "", opts.compressLevel, "In-flight compression level (rsync only)")
	cmd.Flags().BoolVarP(&opts.ignoreOnroad, "ignore-onroad", "", opts.ignoreOnroad, "Sync even when the device reports it is driving")
	cmd.Flags().BoolVarP(noCompress, "no-compress", "", *noCompress, "Keep fetched segments raw instead of compressing")
}

func defaultSyncOptions() syncOptions {
	return syncOptions{
		compressLevel: 1, // the logs are mostly already-compressed payloads
	}
}

func syncEntrypoint() *cobra.Command {
	opts := defaultSyncOptions()
	noCompress := false

	cmd := &cobra.Command{
		Use:   "sync [label]",
		Short: "Fetches missing log segments from one device",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rootLogger := logex.StandardLogger()

			osutil.ExitIfError(func() error {
				conf, err := rvconfig.Read()
				if err != nil {
					return err
				}

				device, err := conf.DeviceByLabel(args[0])
				if err != nil {
					return err
				}

				if noCompress {
					opts.codecPreference = "none"
				}

				return syncDevices(
					osutil.CancelOnInterruptOrTerminate(rootLogger),
					conf,
					[]rvtypes.Device{*device},
					opts,
					rootLogger)
			}())
		},
	}

	syncFlags(cmd, &opts, &noCompress)

	return cmd
}

func syncAllEntrypoint() *cobra.Command {
	opts := defaultSyncOptions()
	noCompress := false

	cmd := &cobra.Command{
		Use:   "sync-all",
		Short: "Fetches missing log segments from every configured device",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			rootLogger := logex.StandardLogger()

			osutil.ExitIfError(func() error {
				conf, err := rvconfig.Read()
				if err != nil {
					return err
				}

				if len(conf.Devices) == 0 {
					return fmt.Errorf("no devices configured; add one with: device-add")
				}

				if noCompress {
					opts.codecPreference = "none"
				}

				return syncDevices(
					osutil.CancelOnInterruptOrTerminate(rootLogger),
					conf,
					conf.Devices,
					opts,
					rootLogger)
			}())
		},
	}

	syncFlags(cmd, &opts, &noCompress)

	return cmd
}

func watchEntrypoint() *cobra.Command {
	opts := defaultSyncOptions()
	noCompress := false

	cmd := &cobra.Command{
		Use:   "watch [cronSpec]",
		Short: "Runs sync-all on a schedule, e.g. '@every 1h' or '0 3 * * *'",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rootLogger := logex.StandardLogger()

			if noCompress {
				opts.codecPreference = "none"
			}

			osutil.ExitIfError(watchRun(
				osutil.CancelOnInterruptOrTerminate(rootLogger),
				args[0],
				opts,
				rootLogger))
		},
	}

	syncFlags(cmd, &opts, &noCompress)

	return cmd
}

func lsEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [label]",
		Short: "Shows per-device archive statistics, optionally for one device only",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(func() error {
				conf, err := rvconfig.Read()
				if err != nil {
					return err
				}

				onlyLabel := ""
				if len(args) == 1 {
					onlyLabel = args[0]
				}

				files, err := listArchive(conf, onlyLabel)
				if err != nil {
					return err
				}

				renderArchiveStats(conf, files)

				return nil
			}())
		},
	}
}
