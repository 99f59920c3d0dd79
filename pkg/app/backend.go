package app

import (
	"fmt"

	"gitlab.com/tinyland/lab/barpulse/pkg/module"
)

// backend serves command socket requests.
type backend struct {
	app *App
}

func (b *backend) Refresh(ref string) ([]string, error) {
	insts := b.app.host.Resolve(ref)
	if len(insts) == 0 {
		return nil, fmt.Errorf("%w: %q", module.ErrUnknownModule, ref)
	}
	ids := make([]string, 0, len(insts))
	for _, inst := range insts {
		if err := b.app.sched.Refresh(inst.ID()); err != nil {
			// Instances that failed to load have nothing to run.
			b.app.logger.Debug("refresh skipped", "module", inst.ID(), "error", err)
			continue
		}
		ids = append(ids, inst.ID())
	}
	return ids, nil
}

func (b *backend) RefreshAll() {
	b.app.refreshAll()
}

func (b *backend) List() []string {
	insts := b.app.host.Instances()
	ids := make([]string, len(insts))
	for i, inst := range insts {
		ids[i] = inst.ID()
	}
	return ids
}

func (b *backend) Status() any {
	return b.app.status()
}
