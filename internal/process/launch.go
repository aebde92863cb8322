package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
)

var lookPath = exec.LookPath

// ExecLauncher starts keepalive roles as detached OS processes. The child
// runs in its own session so it outlives the launcher, and writes output to
// <data>/<role>.log.
type ExecLauncher struct {
	DataDir string
}

// Launch starts id and returns once the process is running. Duplicate
// launches are harmless: the child exits if its role lock is taken.
func (l ExecLauncher) Launch(ctx context.Context, id Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	exe, err := resolveExecutable(id.Executable)
	if err != nil {
		return err
	}
	log := slog.With("component", "launcher", "role", id.Role)

	if err := os.MkdirAll(l.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logFile, err := os.OpenFile(LogFilePath(l.DataDir, id.Role), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s log file: %w", id.Role, err)
	}

	// Not CommandContext: cancelling the caller must not kill the child.
	cmd := exec.Command(exe, id.Args()...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("start %s: %w", id.Role, err)
	}

	pid := cmd.Process.Pid
	log.Info("launched", "pid", pid)
	go reap(cmd, logFile, pid, log)
	return nil
}

// reap collects the child's exit status so it does not linger as a zombie
// while the launcher is alive.
func reap(cmd *exec.Cmd, logFile *os.File, pid int, log *slog.Logger) {
	err := cmd.Wait()
	_ = logFile.Close()
	if err == nil {
		log.Debug("process exited", "pid", pid)
		return
	}
	log.Debug("process exited with error", "pid", pid, "err", err)
}

func resolveExecutable(exe string) (string, error) {
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("resolve own executable: %w", err)
		}
		return self, nil
	}
	path, err := lookPath(exe)
	if err != nil {
		return "", fmt.Errorf("resolve executable %q: %w", exe, err)
	}
	return path, nil
}
