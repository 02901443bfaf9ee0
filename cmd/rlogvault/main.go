package main

import (
	"os"

	"github.com/function61/gokit/dynversion"
	"github.com/function61/gokit/osutil"
	"github.com/rlogvault/rlogvault/pkg/fetch"
	"github.com/rlogvault/rlogvault/pkg/mirror"
	"github.com/rlogvault/rlogvault/pkg/rvconfig"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     os.Args[0],
		Short:   "rlogvault: archives drive-log segments from devices and mirrors the archive",
		Version: dynversion.Version,
		// hide the default "completion" subcommand from polluting UX (it can still be used). https://github.com/spf13/cobra/issues/1507
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	// sync commands sit at the root level since they're what the tool is run
	// for most of the time
	for _, entrypoint := range fetch.Entrypoints() {
		rootCmd.AddCommand(entrypoint)
	}

	rootCmd.AddCommand(mirror.Entrypoint())

	for _, entrypoint := range rvconfig.Entrypoints() {
		rootCmd.AddCommand(entrypoint)
	}

	osutil.ExitIfError(rootCmd.Execute())
}
