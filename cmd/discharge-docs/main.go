package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/joelkehle/discharge-docs/internal/prompt"
)

var version = "dev"

// runtime holds what the commands read from outside the config file.
// Tests replace the caller and counter.
type runtime struct {
	stdin   io.Reader
	caller  prompt.Caller
	counter prompt.TokenCounter
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}
	if err := newRootCmd(&runtime{stdin: os.Stdin}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:           "discharge-docs",
		Short:         "Generate draft discharge letters from clinical records",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "", "Path to config file (default ./config.toml when present)")

	root.AddCommand(serveCmd(rt))
	root.AddCommand(generateCmd(rt))
	root.AddCommand(normalizeCmd(rt))
	root.AddCommand(bulkCmd(rt))
	return root
}
