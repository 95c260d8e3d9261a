package main

import (
	"fmt"

	"github.com/GriffinCanCode/vsite/internal/vfs"
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract <bundle> <dir>",
	Short: "Write every file of a bundle to a directory",
	Long: `Write every file of a bundle to a directory, plus a file_tree manifest
describing the tree with each record's data truncated.

Manifest formats: json, yaml, toml.`,
	Args: cobra.ExactArgs(2),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().String("manifest", "json", "Manifest format: json, yaml or toml")
}

func runExtract(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("manifest")
	switch f := vfs.ManifestFormat(format); f {
	case vfs.ManifestJSON, vfs.ManifestYAML, vfs.ManifestTOML:
	default:
		return fmt.Errorf("unknown manifest format %q", format)
	}

	p, err := readBundle(args[0])
	if err != nil {
		return err
	}
	res, err := vfs.Extract(vfs.NewStore(p.FileTree), args[1], vfs.ManifestFormat(format))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "extracted %d files (%d bytes) to %s, manifest %s\n",
		res.Files, res.Bytes, args[1], res.Manifest)
	return nil
}
