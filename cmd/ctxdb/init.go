package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/contextdb/internal/embeddings"
)

var forceDownload bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&forceDownload, "force", "f", false, "Force re-download even if ONNX runtime exists")
}

// initCmd installs local embedding dependencies. It does not contact the
// contextdb server.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize contextdb dependencies",
	Long: `Initialize contextdb by downloading required dependencies.

This downloads the ONNX runtime library required by the fastembed
embedding provider. The library is installed to:
  ~/.config/contextdb/lib/

If ONNX_PATH environment variable is set, that path takes precedence.

Examples:
  # Download the ONNX runtime
  ctxdb init

  # Force re-download even if already installed
  ctxdb init --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

// installer is replaced in tests.
var installer = &embeddings.ONNXInstaller{}

func runInit(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if !forceDownload {
		if path := installer.LibraryPath(); path != "" {
			fmt.Fprintf(w, "ONNX runtime already installed at: %s\n", path)
			fmt.Fprintln(w, "Use --force to re-download.")
			return nil
		}
	}

	fmt.Fprintf(w, "Downloading ONNX runtime v%s...\n", embeddings.DefaultONNXRuntimeVersion)
	path, err := installer.Install(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to download ONNX runtime: %w", err)
	}
	fmt.Fprintf(w, "Successfully installed ONNX runtime to: %s\n", path)
	return nil
}
