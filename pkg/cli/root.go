// Package cli implements the settler command line: the server and offline tools for hashing,
// signing and decoding the payloads it settles.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	// EnvFile is loaded before the environment is read
	EnvFile string
}

// NewRootCommand creates the root command for the settler CLI
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:          "settler",
		Short:        "Speedrun settler",
		Long:         "Authorizes and settles signed payment intents on the direct, swap and cross-chain relay paths.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewHashCommand())
	cmd.AddCommand(NewSignCommand())
	cmd.AddCommand(NewHookDataCommand())
	cmd.AddCommand(NewDecodeMessageCommand())
	cmd.AddCommand(NewAmountCommand())

	return cmd
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
