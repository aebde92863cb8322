package process

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/shirou/gopsutil/v3/process"
)

// Table probes liveness by enumerating the host's process table.
type Table struct{}

// Alive reports whether any live process matches id. The caller's own
// process never counts.
func (Table) Alive(ctx context.Context, id Identity) (bool, error) {
	pids, err := Find(ctx, id)
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

// Find returns the PIDs of live processes matching id, excluding the caller.
func Find(ctx context.Context, id Identity) ([]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	self := int32(os.Getpid())
	var out []int32
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.Pid == self {
			continue
		}
		if matchesProcess(ctx, p, id) {
			out = append(out, p.Pid)
		}
	}
	return out, nil
}

// VerifyPID returns a check that pid still belongs to id, for use with
// TerminateFromPIDFile.
func VerifyPID(ctx context.Context, id Identity) func(pid int) (bool, error) {
	return func(pid int) (bool, error) {
		p, err := process.NewProcessWithContext(ctx, int32(pid))
		if err != nil {
			// Gone between the liveness check and now.
			return false, nil
		}
		return matchesProcess(ctx, p, id), nil
	}
}

func matchesProcess(ctx context.Context, p *process.Process, id Identity) bool {
	cmdline, err := p.CmdlineSliceWithContext(ctx)
	if err != nil || len(cmdline) == 0 {
		// Exited mid-scan, or a kernel thread.
		return false
	}
	name, _ := p.NameWithContext(ctx)
	if !id.Matches(name, cmdline) {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err == nil && slices.Contains(status, process.Zombie) {
		return false
	}
	return true
}

func isZombie(pid int) bool {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	return err == nil && slices.Contains(status, process.Zombie)
}
