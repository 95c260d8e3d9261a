package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/vsite/internal/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve <bundle>",
	Short: "Browse a bundle and expose the session over HTTP",
	Long: `Browse a bundle headlessly and serve the inspection API: session state,
file downloads, navigation, clicks and a websocket event stream.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "Listen host (overrides HOST)")
	serveCmd.Flags().String("port", "", "Listen port (overrides PORT)")
	serveCmd.Flags().String("start", "", "Start page instead of the bundle's own")
	addUtilFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	start, _ := cmd.Flags().GetString("start")
	rt, err := load(cmd, args[0], start)
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	if h, _ := cmd.Flags().GetString("host"); h != "" {
		rt.cfg.Server.Host = h
	}
	if p, _ := cmd.Flags().GetString("port"); p != "" {
		rt.cfg.Server.Port = p
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := rt.controller()
	defer c.Close()
	if err := c.Start(ctx); err != nil {
		return err
	}

	srv := api.NewServer(c, rt.cfg, rt.metrics, rt.log.Logger)
	rt.log.Info("serving bundle", zap.String("addr", srv.Addr()))
	err = srv.Run(ctx)
	rt.log.Info("shutting down")
	return err
}
