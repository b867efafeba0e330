// Package lockfile guards an ElicitPipe state directory against a second
// server process.
//
// The lock is an flock on a file inside the state directory, so the kernel
// drops it when the holder exits however that happens. The file body records
// who holds it, which is echoed back to a process that fails to acquire it.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "elicitpipe.lock"

// Owner describes the process holding a state directory.
type Owner struct {
	PID       int
	Mode      string // "http" or "mcp"
	Addr      string
	StartedAt time.Time
}

// String renders the owner in the lock file's key=value format.
func (o Owner) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", o.PID)
	if o.Mode != "" {
		fmt.Fprintf(&b, "mode=%s\n", o.Mode)
	}
	if o.Addr != "" {
		fmt.Fprintf(&b, "addr=%s\n", o.Addr)
	}
	if !o.StartedAt.IsZero() {
		fmt.Fprintf(&b, "started=%s\n", o.StartedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// ParseOwner reads lock file content. Unknown keys and malformed lines are ignored.
func ParseOwner(content string) Owner {
	var o Owner
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID = leadingInt(value)
		case "mode":
			o.Mode = value
		case "addr":
			o.Addr = value
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				o.StartedAt = t
			}
		}
	}
	return o
}

func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// Lock is a held state directory lock.
type Lock struct {
	file  *os.File
	path  string
	owner Owner
}

// Acquire takes an exclusive, non-blocking lock on stateDir, creating the
// directory if needed. A held lock yields a *LockError describing the holder.
func Acquire(stateDir string, owner Owner) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	if owner.PID == 0 {
		owner.PID = os.Getpid()
	}
	if owner.StartedAt.IsZero() {
		owner.StartedAt = time.Now()
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}

	// No O_TRUNC: the holder's record must survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Holder: describeHolder(lockPath), Cause: err}
		slog.Error("lockfile.Acquire: state directory in use", "lock_path", lockPath, "holder", lockErr.Holder)
		return nil, lockErr
	}

	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock owner to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.Acquire: state directory locked", "lock_path", lockPath, "pid", owner.PID, "mode", owner.Mode)
	return &Lock{file: file, path: lockPath, owner: owner}, nil
}

func writeOwner(file *os.File, owner Owner) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(owner.String()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.writeOwner: sync failed", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Owner returns the record written for this process.
func (l *Lock) Owner() Owner { return l.owner }

// Release drops the lock and removes the file. Repeated calls are no-ops.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting process never sees our stale record.
	if err := os.Remove(l.path); err != nil {
		slog.Warn("lockfile.Release: remove failed", "lock_path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: unlock failed", "lock_path", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("lockfile.Release: state directory unlocked", "lock_path", l.path)
	return err
}

// LockError reports a state directory already held by another process.
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another ElicitPipe instance is using this state directory (lock file %s)", e.LockPath)
	if e.Holder != "" {
		msg += ": " + e.Holder
	}
	return msg + fmt.Sprintf("; if no such process exists remove the file with: rm %s", e.LockPath)
}

func (e *LockError) Unwrap() error { return e.Cause }

// describeHolder summarises the lock file's current owner for error messages.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unreadable lock file"
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "no owner recorded"
	}
	o := ParseOwner(string(data))
	if o.PID <= 0 {
		return "unrecognised owner record"
	}
	state := "running"
	if !processAlive(o.PID) {
		state = "not running, stale lock"
	}
	desc := fmt.Sprintf("PID %d (%s)", o.PID, state)
	if o.Mode != "" {
		desc += " mode=" + o.Mode
	}
	if o.Addr != "" {
		desc += " addr=" + o.Addr
	}
	return desc
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
