package config

import (
	"log/slog"
	"strconv"
	"time"
)

// Field is one flattened configuration entry.
type Field struct {
	Key   string
	Value string
}

// Fields lists every configuration value under its YAML key, in declaration
// order. Status output and the slog representation are both built from it.
func (c Config) Fields() []Field {
	f := &fieldList{}
	f.str("dataDir", c.DataDir)
	f.str("executable", c.Executable)

	f.bool("presence.enabled", c.Presence.Enabled)
	f.bool("presence.mediaSession", c.Presence.MediaSession)
	f.bool("presence.onePixel", c.Presence.OnePixel)
	f.dur("presence.aliveInterval", c.Presence.AliveInterval)

	f.bool("schedule.job.enabled", c.Schedule.Job.Enabled)
	f.dur("schedule.job.interval", c.Schedule.Job.Interval)
	f.bool("schedule.work.enabled", c.Schedule.Work.Enabled)
	f.dur("schedule.work.interval", c.Schedule.Work.Interval)
	f.bool("schedule.alarm.enabled", c.Schedule.Alarm.Enabled)
	f.dur("schedule.alarm.interval", c.Schedule.Alarm.Interval)

	f.bool("sync.enabled", c.Sync.Enabled)
	f.str("sync.accountType", c.Sync.AccountType)
	f.dur("sync.interval", c.Sync.Interval)

	f.bool("broadcast.system", c.Broadcast.System)
	f.bool("broadcast.bluetooth", c.Broadcast.Bluetooth)
	f.bool("broadcast.mediaButton", c.Broadcast.MediaButton)
	f.bool("broadcast.usb", c.Broadcast.USB)
	f.bool("broadcast.nfc", c.Broadcast.NFC)
	f.bool("broadcast.mediaMount", c.Broadcast.MediaMount)
	f.str("broadcast.paths.bluetooth", c.Broadcast.Paths.Bluetooth)
	f.str("broadcast.paths.usb", c.Broadcast.Paths.USB)
	f.str("broadcast.paths.nfc", c.Broadcast.Paths.NFC)
	f.str("broadcast.paths.mediaMount", c.Broadcast.Paths.MediaMount)

	f.bool("observer.media", c.Observer.Media)
	f.bool("observer.contacts", c.Observer.Contacts)
	f.bool("observer.sms", c.Observer.SMS)
	f.bool("observer.settings", c.Observer.Settings)
	f.bool("observer.file", c.Observer.File)
	f.str("observer.paths.media", c.Observer.Paths.Media)
	f.str("observer.paths.contacts", c.Observer.Paths.Contacts)
	f.str("observer.paths.sms", c.Observer.Paths.SMS)
	f.str("observer.paths.settings", c.Observer.Paths.Settings)
	f.str("observer.paths.file", c.Observer.Paths.File)

	f.bool("watchdog.enabled", c.Watchdog.Enabled)
	f.dur("watchdog.interval", c.Watchdog.Interval)
	f.dur("watchdog.probeTimeout", c.Watchdog.ProbeTimeout)
	f.str("watchdog.probe", c.Watchdog.Probe)

	f.bool("native.daemon.enabled", c.Native.Daemon.Enabled)
	f.dur("native.daemon.interval", c.Native.Daemon.Interval)
	f.bool("native.socket.enabled", c.Native.Socket.Enabled)
	f.str("native.socket.name", c.Native.Socket.Name)
	f.dur("native.socket.heartbeatInterval", c.Native.Socket.HeartbeatInterval)
	f.int("native.socket.missedThreshold", c.Native.Socket.MissedThreshold)
	f.dur("native.socket.resurrectBackoff", c.Native.Socket.ResurrectBackoff)

	f.str("notification.channelId", c.Notification.ChannelID)
	f.str("notification.channelName", c.Notification.ChannelName)
	f.str("notification.title", c.Notification.Title)
	f.str("notification.content", c.Notification.Content)

	f.bool("log.debug", c.Log.Debug)
	f.str("log.tag", c.Log.Tag)

	f.bool("intrusive.lockScreen", c.Intrusive.LockScreen)
	f.bool("intrusive.overlay", c.Intrusive.Overlay)
	f.bool("intrusive.overlayHidden", c.Intrusive.OverlayHidden)
	return f.out
}

// LogValue implements slog.LogValuer.
func (c Config) LogValue() slog.Value {
	fields := c.Fields()
	attrs := make([]slog.Attr, 0, len(fields))
	for _, fd := range fields {
		attrs = append(attrs, slog.String(fd.Key, fd.Value))
	}
	return slog.GroupValue(attrs...)
}

type fieldList struct {
	out []Field
}

func (l *fieldList) str(k, v string) { l.out = append(l.out, Field{Key: k, Value: v}) }

func (l *fieldList) bool(k string, v bool) { l.str(k, strconv.FormatBool(v)) }

func (l *fieldList) int(k string, v int) { l.str(k, strconv.Itoa(v)) }

func (l *fieldList) dur(k string, v time.Duration) { l.str(k, v.String()) }
