package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/GriffinCanCode/vsite/internal/host"
	"github.com/GriffinCanCode/vsite/internal/vfs"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls <bundle>",
	Short: "List the files of a bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runLs,
}

func init() {
	lsCmd.Flags().String("match", "", "Only list paths matching this glob (e.g. '**/*.html')")
}

func runLs(cmd *cobra.Command, args []string) error {
	p, err := readBundle(args[0])
	if err != nil {
		return err
	}
	store := vfs.NewStore(p.FileTree)
	pattern, _ := cmd.Flags().GetString("match")
	files, err := host.NewPanel(store).Files(pattern)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tTYPE\tSIZE")
	for _, f := range files {
		rec, _ := store.Get(f)
		size := "-"
		if data, err := vfs.Decode(rec); err == nil {
			size = fmt.Sprintf("%d", len(data))
		}
		mime := rec.MimeType
		if mime == "" {
			mime = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f, mime, size)
	}
	return w.Flush()
}
