package host

import (
	"context"

	"github.com/GriffinCanCode/vsite/internal/protocol"
	"github.com/GriffinCanCode/vsite/internal/sandbox"
	"github.com/GriffinCanCode/vsite/internal/shared/id"
	"github.com/GriffinCanCode/vsite/internal/shared/types"
)

// Sandbox is a launched content context as the host sees it.
type Sandbox interface {
	ID() id.SandboxID
	Click(ctx context.Context, selector string) (sandbox.ClickResult, error)
	Submit(ctx context.Context, selector string) (sandbox.ClickResult, error)
	KeyUp(ctx context.Context, key string, ctrl bool) error
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Launcher starts a sandbox for page on the content end of a pipe.
type Launcher interface {
	Launch(ctx context.Context, page types.Page, port *protocol.Port) (Sandbox, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, page types.Page, port *protocol.Port) (Sandbox, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, page types.Page, port *protocol.Port) (Sandbox, error) {
	return f(ctx, page, port)
}

// FactoryLauncher launches goja sandboxes from f.
func FactoryLauncher(f *sandbox.Factory) Launcher {
	return LauncherFunc(func(ctx context.Context, page types.Page, port *protocol.Port) (Sandbox, error) {
		a, err := f.Launch(ctx, page, port)
		if err != nil {
			return nil, err
		}
		return a, nil
	})
}
