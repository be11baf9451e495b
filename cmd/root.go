package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sablekv/sable/cmd/kv"
	"github.com/sablekv/sable/cmd/serve"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "sable",
		Short: "in-memory key-value store",
		Long: fmt.Sprintf(`sable (v%s)

An in-memory key-value store with sorted sets and millisecond TTLs,
serving a length-prefixed binary protocol over a single-threaded
event loop.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of sable",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sable v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
