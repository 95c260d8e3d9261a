package sandbox

import (
	"context"

	"github.com/GriffinCanCode/vsite/internal/protocol"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
)

// Factory launches sandboxes with shared configuration.
type Factory struct {
	config Config
	deps   Deps
}

// NewFactory creates a factory.
func NewFactory(config Config, deps Deps) *Factory {
	return &Factory{config: config, deps: deps}
}

// Launch starts a sandbox for page on port.
func (f *Factory) Launch(ctx context.Context, page types.Page, port *protocol.Port) (*Adapter, error) {
	return Launch(ctx, page, port, f.config, f.deps)
}
