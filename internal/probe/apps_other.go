//go:build !darwin

package probe

import (
	"context"
)

// processApps treats every process name as a running app.
type processApps struct{}

// NewAppLister returns the platform AppLister.
func NewAppLister() AppLister {
	return processApps{}
}

func (processApps) RunningApps(ctx context.Context) ([]string, error) {
	rows, err := ListProcesses(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Name)
	}
	return out, nil
}
