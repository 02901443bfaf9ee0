package rvconfig

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/function61/gokit/fileexists"
	"github.com/function61/gokit/osutil"
	"github.com/rlogvault/rlogvault/pkg/rvtypes"
	"github.com/spf13/cobra"
)

func Entrypoints() []*cobra.Command {
	return []*cobra.Command{
		configInitEntrypoint(),
		configPrintEntrypoint(),
		deviceAddEntrypoint(),
	}
}

func configInitEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "config-init [archiveRoot]",
		Short: "Initialize configuration with an empty device list",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			confPath, err := FilePath()
			osutil.ExitIfError(err)

			exists, err := fileexists.Exists(confPath)
			osutil.ExitIfError(err)

			if exists {
				osutil.ExitIfError(errors.New("config file already exists"))
			}

			osutil.ExitIfError(Write(&Config{
				ArchiveRoot: args[0],
				Devices:     []rvtypes.Device{},
			}))

			fmt.Printf("wrote %s\nadd devices with: %s device-add\n", confPath, os.Args[0])
		},
	}
}

func configPrintEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "config-print",
		Short: "Prints path to config file & its contents",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			confPath, err := FilePath()
			osutil.ExitIfError(err)

			fmt.Printf("file: %s\n", confPath)

			exists, err := fileexists.Exists(confPath)
			osutil.ExitIfError(err)

			if !exists {
				fmt.Printf(".. does not exist. To configure, run:\n    $ %s config-init\n", os.Args[0])
				return
			}

			file, err := os.Open(confPath)
			osutil.ExitIfError(err)
			defer file.Close()

			_, err = io.Copy(os.Stdout, file)
			osutil.ExitIfError(err)
		},
	}
}

func deviceAddEntrypoint() *cobra.Command {
	transport := ""

	cmd := &cobra.Command{
		Use:   "device-add [address] [username] [sshKeyPath] [label]",
		Short: "Adds one device to the configuration",
		Args:  cobra.ExactArgs(4),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(func() error {
				conf, err := Read()
				if err != nil {
					return err
				}

				label := args[3]
				if _, err := conf.DeviceByLabel(label); err == nil {
					return fmt.Errorf("device with label %q already exists", label)
				}

				conf.Devices = append(conf.Devices, rvtypes.Device{
					Address:    args[0],
					Username:   args[1],
					SSHKeyPath: args[2],
					Label:      label,
					Transport:  transport,
				})

				return Write(conf)
			}())
		},
	}

	cmd.Flags().StringVarP(&transport, "transport", "t", transport, "Transport preference: rsync | sftp (default: auto)")

	return cmd
}
