package publish

import (
	"context"
	"log/slog"
)

// Driver runs a whole attempt synchronously, confirming immediately. It is
// used by the headless --publish mode.
type Driver struct {
	Machine  *Machine
	Services Services
	Log      *slog.Logger

	// OnReset is called for the final view reset, if set.
	OnReset func()
}

// Run publishes the session's table. It returns a *StageError if a stage
// failed; the failure has already been notified and acknowledged.
func (d *Driver) Run(ctx context.Context) error {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	queue, err := d.Machine.Request()
	if err != nil {
		return err
	}
	queue = append(queue, d.Machine.Confirm()...)

	for len(queue) > 0 {
		eff := queue[0]
		queue = queue[1:]
		if eff.Local() {
			if d.OnReset != nil {
				d.OnReset()
			}
			continue
		}
		log.Debug("publish step", "step", eff.Kind, "file", eff.FileName, "branch", eff.Branch)
		queue = append(queue, d.Machine.Resolve(Execute(ctx, d.Services, eff))...)
	}

	if serr, _, ok := d.Machine.Failure(); ok {
		d.Machine.Acknowledge()
		return serr
	}
	return nil
}
