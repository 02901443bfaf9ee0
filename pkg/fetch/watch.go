package fetch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/robfig/cron/v3"
	"github.com/rlogvault/rlogvault/pkg/rvconfig"
)

// watchRun re-runs the full sync on a cron schedule until cancelled. A failed
// run logs and waits for the next tick; devices are expected to be
// intermittently unreachable.
func watchRun(ctx context.Context, cronSpec string, opts syncOptions, rootLogger *log.Logger) error {
	schedule, err := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	).Parse(cronSpec)
	if err != nil {
		return fmt.Errorf("cron spec %q: %v", cronSpec, err)
	}

	logl := logex.Levels(logex.Prefix("watch", rootLogger))

	for {
		next := schedule.Next(time.Now())

		logl.Info.Printf("next sync at %s", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
		}

		conf, err := rvconfig.Read()
		if err != nil {
			return err // config gone missing is not worth retrying
		}

		if err := syncDevices(ctx, conf, conf.Devices, opts, rootLogger); err != nil {
			logl.Error.Printf("sync round: %v", err)
		}
	}
}
