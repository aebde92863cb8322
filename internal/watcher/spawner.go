// Package watcher holds the out-of-runtime side of keepalive: the watcher
// process that polls for the Primary and holds the heartbeat link to it,
// and the native daemon strategy the Primary uses to run it.
package watcher

import (
	"context"

	"keepalive/internal/process"
)

// Spawner starts an independent, long-lived watcher that resurrects target.
type Spawner interface {
	Spawn(ctx context.Context, executable string, target process.Identity) error
}

// Identity returns how the watcher for target is started and recognized.
func Identity(executable string, target process.Identity) process.Identity {
	return process.Identity{Executable: executable, Role: process.RoleWatcher, Extra: target.Extra}
}

// ExecSpawner starts the watcher as a detached OS process.
type ExecSpawner struct {
	DataDir string
}

func (s ExecSpawner) Spawn(ctx context.Context, executable string, target process.Identity) error {
	return process.ExecLauncher{DataDir: s.DataDir}.Launch(ctx, Identity(executable, target))
}
