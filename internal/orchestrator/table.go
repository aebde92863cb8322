package orchestrator

import (
	"keepalive/config"
	"keepalive/internal/process"
	"keepalive/internal/strategy"
	"keepalive/internal/watchdog"
	"keepalive/internal/watcher"
)

// Factory builds one strategy from the environment and configuration.
type Factory func(env strategy.Env, cfg config.Config, extra []string) (strategy.Strategy, error)

type row struct {
	kind    strategy.Kind
	enabled func(config.Config) bool
	build   Factory
}

// table is the fixed start order. Stop runs it in reverse.
var table = []row{
	{
		kind:    strategy.KindPresence,
		enabled: func(c config.Config) bool { return c.Presence.Enabled },
		build: func(env strategy.Env, c config.Config, _ []string) (strategy.Strategy, error) {
			return strategy.NewPresenceKeeper(env, c.Presence, c.Notification), nil
		},
	},
	{
		kind:    strategy.KindDualProcess,
		enabled: func(c config.Config) bool { return c.Watchdog.Enabled },
		build: func(env strategy.Env, c config.Config, extra []string) (strategy.Strategy, error) {
			w, err := watchdog.FromConfig(c, process.RolePrimary, extra, env.Scheduler, env.Store)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
	},
	{
		kind:    strategy.KindJob,
		enabled: func(c config.Config) bool { return c.Schedule.Job.Enabled },
		build: func(env strategy.Env, c config.Config, _ []string) (strategy.Strategy, error) {
			return strategy.NewJob(env, c.Schedule.Job.Interval), nil
		},
	},
	{
		kind:    strategy.KindWork,
		enabled: func(c config.Config) bool { return c.Schedule.Work.Enabled },
		build: func(env strategy.Env, c config.Config, _ []string) (strategy.Strategy, error) {
			return strategy.NewWork(env, c.Schedule.Work.Interval), nil
		},
	},
	{
		kind:    strategy.KindAlarm,
		enabled: func(c config.Config) bool { return c.Schedule.Alarm.Enabled },
		build: func(env strategy.Env, c config.Config, _ []string) (strategy.Strategy, error) {
			return strategy.NewAlarm(env, c.Schedule.Alarm.Interval), nil
		},
	},
	{
		kind:    strategy.KindSync,
		enabled: func(c config.Config) bool { return c.Sync.Enabled },
		build: func(env strategy.Env, c config.Config, _ []string) (strategy.Strategy, error) {
			return strategy.NewSyncBeacon(env, c.Sync.AccountType, c.Sync.Interval), nil
		},
	},
	{
		kind: strategy.KindBroadcast,
		enabled: func(c config.Config) bool {
			b := c.Broadcast
			return b.System || b.Bluetooth || b.MediaButton || b.USB || b.NFC || b.MediaMount
		},
		build: func(env strategy.Env, c config.Config, _ []string) (strategy.Strategy, error) {
			return strategy.NewBroadcastListener(env, c.Broadcast), nil
		},
	},
	{
		kind:    strategy.KindContentObserver,
		enabled: func(c config.Config) bool { return c.Observer.AnyContent() },
		build: func(env strategy.Env, c config.Config, _ []string) (strategy.Strategy, error) {
			return strategy.NewContentObserver(env, c.Observer), nil
		},
	},
	{
		kind:    strategy.KindFileObserver,
		enabled: func(c config.Config) bool { return c.Observer.File },
		build: func(env strategy.Env, c config.Config, _ []string) (strategy.Strategy, error) {
			return strategy.NewFileObserver(env, c.Observer.Paths.File), nil
		},
	},
	{
		kind:    strategy.KindOnePixel,
		enabled: func(c config.Config) bool { return c.Presence.OnePixel },
		build: func(env strategy.Env, _ config.Config, _ []string) (strategy.Strategy, error) {
			return strategy.NewOnePixel(env), nil
		},
	},
	{
		kind:    strategy.KindLockScreen,
		enabled: func(c config.Config) bool { return c.Intrusive.LockScreen },
		build: func(env strategy.Env, c config.Config, _ []string) (strategy.Strategy, error) {
			return strategy.NewLockScreen(env, c.Notification), nil
		},
	},
	{
		kind:    strategy.KindOverlay,
		enabled: func(c config.Config) bool { return c.Intrusive.Overlay },
		build: func(env strategy.Env, c config.Config, _ []string) (strategy.Strategy, error) {
			return strategy.NewOverlay(env, c.Notification, c.Intrusive.OverlayHidden), nil
		},
	},
	{
		kind:    strategy.KindNative,
		enabled: func(c config.Config) bool { return c.Native.Any() },
		build: func(env strategy.Env, c config.Config, extra []string) (strategy.Strategy, error) {
			return watcher.NativeDaemonFrom(c, extra, env.Scheduler), nil
		},
	},
}
