package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/GriffinCanCode/vsite/internal/host"
	"github.com/GriffinCanCode/vsite/internal/resolver"
	"github.com/GriffinCanCode/vsite/internal/retrieve"
	"github.com/GriffinCanCode/vsite/internal/vfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var openCmd = &cobra.Command{
	Use:   "open <bundle> [path]",
	Short: "Load one page and print the resulting document",
	Long: `Load one page of a bundle in a sandbox, run its scripts and print the
document as it stands afterwards.

With --static the page is only rewritten (embeds inlined, links fixed) and
no script runs.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runOpen,
}

func init() {
	openCmd.Flags().Bool("static", false, "Rewrite the page without running scripts")
	openCmd.Flags().StringP("output", "o", "", "Write the document to this file instead of stdout")
	openCmd.Flags().StringArray("click", nil, "Click the element matching this selector after load (repeatable)")
	openCmd.Flags().Duration("timeout", 30*time.Second, "Give up after this long")
	addUtilFlags(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	start := ""
	if len(args) > 1 {
		start = args[1]
	}
	rt, err := load(cmd, args[0], start)
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var doc string
	if static, _ := cmd.Flags().GetBool("static"); static {
		doc, err = rt.render(ctx)
	} else {
		clicks, _ := cmd.Flags().GetStringArray("click")
		doc, err = rt.browse(ctx, clicks)
	}
	if err != nil {
		return err
	}

	if out, _ := cmd.Flags().GetString("output"); out != "" {
		return os.WriteFile(out, []byte(doc), 0o644)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), doc)
	return err
}

// render rewrites the start page against the whole tree.
func (r *runtime) render(ctx context.Context) (string, error) {
	nav := r.session.Navigation
	rec, _ := r.session.Store.Get(nav.CurrentPath)
	page, err := vfs.Text(rec)
	if err != nil {
		return "", err
	}
	prepared, err := r.pipeline.Prepare(ctx, page, resolver.New(nav.CurrentPath),
		retrieve.NewTree(r.session.Store.Tree()), r.session.Utils)
	if err != nil {
		return "", err
	}
	for _, f := range prepared.Failures {
		r.log.Warn("embed failed", zap.Error(f))
	}
	return prepared.HTML, nil
}

// browse shows the start page in a sandbox, performs clicks and returns the
// document on display at the end.
func (r *runtime) browse(ctx context.Context, clicks []string) (string, error) {
	c := r.controller()
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return "", err
	}
	if err := c.WaitLoaded(ctx); err != nil {
		return "", err
	}
	for _, sel := range clicks {
		if err := r.click(ctx, c, sel); err != nil {
			return "", err
		}
	}

	st := c.State()
	r.log.Info("page loaded",
		zap.String("path", st.Navigation.CurrentPath),
		zap.String("title", st.Chrome.Title))
	return c.HTML(ctx)
}

// click clicks sel and, when that requests a virtual navigation, waits for
// the navigation to settle.
func (r *runtime) click(ctx context.Context, c *host.Controller, sel string) error {
	events, cancel := c.Subscribe(16)
	defer cancel()

	res, err := c.Click(ctx, sel)
	if err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	r.log.Info("clicked", zap.String("selector", sel),
		zap.String("virtual", res.Virtual), zap.String("external", res.External))
	if res.Virtual == "" {
		return nil
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return host.ErrClosed
			}
			switch ev.Type {
			case host.EventReady, host.EventOpen:
				return nil
			case host.EventNotFound, host.EventFailed:
				return fmt.Errorf("navigation to %s: %s", res.Virtual, ev.Type)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
