package main

import (
	"fmt"
	"os"

	"github.com/GriffinCanCode/vsite/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vsite",
	Short: "Browse a bundled static site without a server",
	Long: `vsite runs a bundled multi-page site entirely in memory.

A bundle is an HTML document carrying a compressed file tree. vsite decodes
it, shows pages in script sandboxes and resolves every link, image, script
and form against the bundled files.

Examples:
  vsite ls site.html --match '**/*.css'
  vsite extract site.html ./out --manifest yaml
  vsite open site.html docs/index.html
  vsite serve site.html --port 8000`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		return config.LoadEnvFile(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Read environment variables from this file")
	rootCmd.PersistentFlags().Bool("debug", false, "Log at debug level to the console")

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
