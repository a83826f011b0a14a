package engine

import "fmt"

// The engine distinguishes three failure classes so callers can branch on
// why an operation failed, not just whether it did.

// IOError is a filesystem failure (permission denied, disk full, missing
// source) during scan, copy, or compress.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IntegrityError is a checksum mismatch or failed database integrity check.
// A backup that produces one is invalid even though its files exist on disk.
type IntegrityError struct {
	Backup string
	Detail string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backup %s failed verification: %s: %v", e.Backup, e.Detail, e.Err)
	}
	return fmt.Sprintf("backup %s failed verification: %s", e.Backup, e.Detail)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// ScheduleError is a failure of a scheduled run; the scheduler logs it and
// waits for the next tick.
type ScheduleError struct {
	Err error
}

func (e *ScheduleError) Error() string { return fmt.Sprintf("scheduled backup: %v", e.Err) }

func (e *ScheduleError) Unwrap() error { return e.Err }
