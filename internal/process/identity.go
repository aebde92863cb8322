// Package process holds the OS process primitives the watchdogs are built
// on: role identities, process-table probing, detached launches, PID files
// and role locks.
package process

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// RoleFlag marks a keepalive process's role on its command line. The
// process-table prober matches on it.
const RoleFlag = "--role"

// DataDirFlag separates keepalive process families on one host.
const DataDirFlag = "--data-dir"

type Role string

const (
	RolePrimary   Role = "primary"
	RoleCompanion Role = "companion"
	RoleWatcher   Role = "watcher"
)

// Counterpart returns the role a watchdog of role r watches.
func (r Role) Counterpart() Role {
	switch r {
	case RolePrimary:
		return RoleCompanion
	case RoleCompanion:
		return RolePrimary
	default:
		return ""
	}
}

// Command returns the CLI subcommand that starts role r.
func (r Role) Command() string {
	switch r {
	case RolePrimary:
		return "run"
	case RoleCompanion:
		return "companion"
	case RoleWatcher:
		return "watcher"
	default:
		return ""
	}
}

func (r Role) Marker() string { return RoleFlag + "=" + string(r) }

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.TrimSpace(s)); r {
	case RolePrimary, RoleCompanion, RoleWatcher:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Identity is how a keepalive process is started and recognized.
type Identity struct {
	Executable string
	Role       Role
	// Extra arguments appended after the role marker (e.g. --config).
	Extra []string
}

// Args returns the command line arguments, without the executable.
func (id Identity) Args() []string {
	args := []string{id.Role.Command(), id.Role.Marker()}
	return append(args, id.Extra...)
}

// Matches reports whether a process with the given name and command line is
// an instance of id. The executable is compared by base name so relaunches
// through a different path still match. When id carries a data dir, the
// process must have been started with the same one.
func (id Identity) Matches(name string, cmdline []string) bool {
	if len(cmdline) == 0 {
		return false
	}
	exe := filepath.Base(id.Executable)
	// The kernel truncates process names, so a prefix of exe also counts.
	sameName := name != "" && strings.HasPrefix(exe, name)
	if filepath.Base(cmdline[0]) != exe && !sameName {
		return false
	}
	if !slices.Contains(cmdline[1:], id.Role.Marker()) {
		return false
	}
	want, ok := flagValue(id.Extra, DataDirFlag)
	if !ok {
		return true
	}
	got, ok := flagValue(cmdline[1:], DataDirFlag)
	return ok && filepath.Clean(got) == filepath.Clean(want)
}

// flagValue returns the value of flag in args, given as "flag value" or
// "flag=value". The last occurrence wins, as with cobra.
func flagValue(args []string, flag string) (string, bool) {
	var value string
	found := false
	for i, a := range args {
		switch {
		case a == flag && i+1 < len(args):
			value, found = args[i+1], true
		case strings.HasPrefix(a, flag+"="):
			value, found = strings.TrimPrefix(a, flag+"="), true
		}
	}
	return value, found
}
