package main

import (
	"fmt"
	"os"

	"github.com/GriffinCanCode/vsite/internal/config"
	"github.com/GriffinCanCode/vsite/internal/host"
	"github.com/GriffinCanCode/vsite/internal/logging"
	"github.com/GriffinCanCode/vsite/internal/monitoring"
	"github.com/GriffinCanCode/vsite/internal/rewrite"
	"github.com/GriffinCanCode/vsite/internal/sandbox"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
	"github.com/GriffinCanCode/vsite/internal/shim"
	"github.com/GriffinCanCode/vsite/internal/vfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runtime is everything a command needs to browse a bundle.
type runtime struct {
	cfg      *config.Config
	log      *logging.Logger
	metrics  *monitoring.Metrics
	session  *host.Session
	pipeline *rewrite.Pipeline
	factory  *sandbox.Factory
}

// readBundle decodes the payload of a bundle file.
func readBundle(path string) (*types.Payload, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := vfs.PayloadFromDocument(string(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle %s: %w", path, err)
	}
	return p, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*logging.Logger, error) {
	lc := logging.FromConfig(cfg.Logging)
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		lc = logging.DevelopmentConfig()
	}
	return logging.New(lc)
}

// load builds a runtime for the bundle at path. The start page may be
// overridden; utility code from --pre/--post flags is appended.
func load(cmd *cobra.Command, path, start string) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	p, err := readBundle(path)
	if err != nil {
		return nil, err
	}
	if start != "" {
		p.CurrentPath = start
	}
	session, err := host.NewSession(p)
	if err != nil {
		return nil, err
	}
	if err := appendUtils(cmd, session); err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	pipeline := rewrite.New(log.Component("rewrite"), rewrite.Config{
		Workers: cfg.Rewrite.Workers,
		Metrics: metrics,
	})

	deps := sandbox.Deps{Pipeline: pipeline, Metrics: metrics, Logger: log.Logger}
	if cfg.Network.Enabled {
		nc := shim.DefaultNetworkConfig()
		nc.Timeout = cfg.Network.Timeout
		nc.Retries = cfg.Network.Retries
		nc.RequestsPerSecond = cfg.Network.RequestsPerSecond
		deps.Platform = shim.NewNetwork(nc, log.Component("network"))
	}

	log.Info("bundle loaded",
		zap.String("bundle", path),
		zap.String("session", session.ID.String()),
		zap.Int("files", session.Store.Len()),
		zap.String("start", session.Navigation.CurrentPath))

	return &runtime{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		session:  session,
		pipeline: pipeline,
		factory:  sandbox.NewFactory(sandbox.FromConfig(cfg.Sandbox), deps),
	}, nil
}

func addUtilFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("pre", nil, "Append a script file to the inject_pre utility")
	cmd.Flags().StringArray("post", nil, "Append a script file to the inject_post utility")
}

func appendUtils(cmd *cobra.Command, s *host.Session) error {
	for flag, name := range map[string]string{"pre": types.UtilInjectPre, "post": types.UtilInjectPost} {
		files, err := cmd.Flags().GetStringArray(flag)
		if err != nil {
			continue
		}
		for _, f := range files {
			src, err := os.ReadFile(f)
			if err != nil {
				return fmt.Errorf("failed to read --%s script: %w", flag, err)
			}
			s.AppendUtil(name, string(src))
		}
	}
	return nil
}

// controller starts a controller showing the session's first page.
func (r *runtime) controller() *host.Controller {
	return host.New(r.session, host.FactoryLauncher(r.factory), r.log.Logger, host.Config{
		Retrieval: r.cfg.Sandbox.Retrieval,
		Metrics:   r.metrics,
	})
}
