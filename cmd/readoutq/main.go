package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "readoutq",
	Short: "Timestamped readout buffer with emulated front ends",
	Long: `readoutq buffers records from an emulated readout link in a fixed-size
ring, records or discards them, and serves timestamp window requests against
the buffered data. Statistics are exposed as Prometheus metrics and can be
watched with the monitor command.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	RunE: func(cmd *cobra.Command, args []string) error {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return fmt.Errorf("reading build info")
		}
		var revision string
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				revision = s.Value
				break
			}
		}
		cmd.Printf("version: %s, revision: %s\n", bi.Main.Version, revision)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
