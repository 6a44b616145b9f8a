// Package errdefs defines the three fatal error classes of a decode run.
//
// Configuration problems are reported before any record is read, record
// problems abort the run at the offending read, and I/O problems abort the
// run at the offending stream. None of them is ever recovered.
package errdefs

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid configuration detected before streaming.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// RecordError reports a malformed or undecodable input record.
type RecordError struct {
	ReadID string
	Stage  string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %q (%s): %v", e.ReadID, e.Stage, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// IOError reports a failed read or write against an input or output stream.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Configf returns a *ConfigError with a formatted message.
func Configf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// Config wraps err as a *ConfigError. It returns nil for a nil err.
func Config(msg string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return err
	}
	return &ConfigError{Msg: msg, Err: err}
}

// Record wraps err as a *RecordError. It returns nil for a nil err and keeps
// an existing *RecordError untouched.
func Record(readID, stage string, err error) error {
	if err == nil {
		return nil
	}
	var re *RecordError
	if errors.As(err, &re) {
		return err
	}
	return &RecordError{ReadID: readID, Stage: stage, Err: err}
}

// IO wraps err as an *IOError. It returns nil for a nil err.
func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ioe *IOError
	if errors.As(err, &ioe) {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}

func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func IsRecord(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}

func IsIO(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe)
}
