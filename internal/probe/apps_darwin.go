//go:build darwin

package probe

import (
	"context"

	"github.com/progrium/darwinkit/macos/appkit"
)

// WorkspaceApps lists running applications from NSWorkspace.
type WorkspaceApps struct {
	workspace appkit.Workspace
}

// NewAppLister returns the platform AppLister.
func NewAppLister() AppLister {
	return &WorkspaceApps{workspace: appkit.Workspace_SharedWorkspace()}
}

// RunningApps implements AppLister with both bundle ids and localized names.
func (w *WorkspaceApps) RunningApps(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	apps := w.workspace.RunningApplications()
	out := make([]string, 0, len(apps)*2)
	for _, app := range apps {
		if app.Ptr() == nil {
			continue
		}
		if id := app.BundleIdentifier(); id != "" {
			out = append(out, id)
		}
		if name := app.LocalizedName(); name != "" {
			out = append(out, name)
		}
	}
	return out, ctx.Err()
}
