package farm

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/ligun0805/incentiv-bot/internal/wallet"
)

// Schedule runs action on a cron spec until ctx is done. Wallets are reloaded before every run and
// a run still in progress causes the next tick to be skipped.
func (f *Farmer) Schedule(ctx context.Context, spec string, action Action, load func() ([]wallet.Entry, error)) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(f.Log))))
	_, err := c.AddFunc(spec, func() {
		entries, err := load()
		if err != nil {
			f.Log.Errorf("load accounts: %v", err)
			return
		}
		if _, err := f.Run(ctx, action, entries); err != nil && ctx.Err() == nil {
			f.Log.Errorf("scheduled run: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	f.Log.Infof("scheduled %s on %q", action, spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
