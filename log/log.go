/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package log is the OSAL core's diagnostics sink. Debug output here is
// always best-effort: a logging failure is swallowed and never affects
// control flow. Records go out as RFC 5424, so a syslog collector
// already speaking it needs no changes to understand them.
package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	OFF      Level = 0
	DEBUG    Level = 1
	INFO     Level = 2
	WARN     Level = 3
	ERROR    Level = 4
	CRITICAL Level = 5
)

// Level is the logger's verbosity gate; a record below the logger's
// configured Level is dropped before formatting.
type Level int

func (l Level) String() string {
	switch l {
	case OFF:
		return "OFF"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

func (l Level) Valid() bool {
	return l >= OFF && l <= CRITICAL
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL:
		return rfc5424.User | rfc5424.Crit
	}
	return rfc5424.User | rfc5424.Debug
}

// LevelFromString parses a config-file level name; unrecognized strings
// are an error rather than a silent default, since a typo'd level
// should not quietly run at a different verbosity than intended.
func LevelFromString(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFF":
		return OFF, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "CRITICAL":
		return CRITICAL, nil
	}
	return OFF, ErrInvalidLevel
}

const (
	maxHostname = 255
	maxAppname  = 48
	maxProcID   = 128
)

var (
	ErrNotOpen      = errors.New("logger is not open")
	ErrInvalidLevel = errors.New("invalid log level")
)

// Logger is a level-gated, RFC 5424-formatted sink with a per-process
// identity tag. Every instance carries its own rate limiters so a
// pathologically noisy caller (a wedged timebase re-emitting the same
// spin warning every tick) cannot flood whatever is downstream of wtr.
type Logger struct {
	mtx      sync.Mutex
	wtr      io.Writer
	lvl      Level
	hostname string
	appname  string
	procID   string

	warnOnce sync.Map // string -> *rate.Limiter, for WarnOnce dedup
}

// New builds a Logger writing to wtr at INFO level. The process's
// hostname is looked up once; appname defaults to the running binary's
// name. A fresh uuid tags this process's PROCID field.
func New(wtr io.Writer) *Logger {
	host, _ := os.Hostname()
	if len(host) > maxHostname {
		host = host[:maxHostname]
	}
	app := "osal"
	if len(os.Args) > 0 {
		app = os.Args[0]
	}
	if len(app) > maxAppname {
		app = app[:maxAppname]
	}
	procID := uuid.New().String()
	if len(procID) > maxProcID {
		procID = procID[:maxProcID]
	}
	return &Logger{
		wtr:      wtr,
		lvl:      INFO,
		hostname: host,
		appname:  app,
		procID:   procID,
	}
}

// NewDiscard builds a Logger that drops everything; used where a
// Manager is constructed without an explicit logging preference.
func NewDiscard() *Logger {
	return New(io.Discard)
}

func (l *Logger) SetLevel(lvl Level) error {
	if !lvl.Valid() {
		return ErrInvalidLevel
	}
	l.mtx.Lock()
	l.lvl = lvl
	l.mtx.Unlock()
	return nil
}

func (l *Logger) SetLevelString(s string) error {
	lvl, err := LevelFromString(s)
	if err != nil {
		return err
	}
	return l.SetLevel(lvl)
}

func (l *Logger) Debugf(f string, args ...interface{}) error { return l.output(DEBUG, f, args...) }
func (l *Logger) Infof(f string, args ...interface{}) error  { return l.output(INFO, f, args...) }
func (l *Logger) Warnf(f string, args ...interface{}) error  { return l.output(WARN, f, args...) }
func (l *Logger) Errorf(f string, args ...interface{}) error { return l.output(ERROR, f, args...) }
func (l *Logger) Criticalf(f string, args ...interface{}) error {
	return l.output(CRITICAL, f, args...)
}

// WarnOnce emits a WARN record the first time key is seen, then at most
// once per window thereafter, regardless of how often it is called.
// This backs the timebase spin-limit warning and the backlog reset
// notice: both conditions can repeat every helper tick while a
// timebase is stuck, and neither should produce one log line per tick.
func (l *Logger) WarnOnce(key string, window time.Duration, f string, args ...interface{}) error {
	v, _ := l.warnOnce.LoadOrStore(key, rate.NewLimiter(rate.Every(window), 1))
	lim := v.(*rate.Limiter)
	if !lim.Allow() {
		return nil
	}
	return l.output(WARN, f, args...)
}

func (l *Logger) output(lvl Level, f string, args ...interface{}) error {
	l.mtx.Lock()
	cur := l.lvl
	l.mtx.Unlock()
	if cur == OFF || lvl < cur {
		return nil
	}
	msg := fmt.Sprintf(f, args...)
	b, err := GenRFCMessage(time.Now(), lvl.priority(), l.hostname, l.appname, l.procID, msg)
	if err != nil {
		return nil // best-effort: never let a formatting failure propagate
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.wtr == nil {
		return ErrNotOpen
	}
	_, werr := l.wtr.Write(append(b, '\n'))
	return werr
}

// GenRFCMessage builds one RFC 5424 syslog record. Field length limits
// follow the RFC: hostname 255, appname 48, procid (here, the Logger's
// uuid) 128. No MSGID is set.
func GenRFCMessage(ts time.Time, prio rfc5424.Priority, hostname, appname, procID, msg string) ([]byte, error) {
	m := rfc5424.Message{
		Priority:  prio,
		Timestamp: ts,
		Hostname:  trimLength(maxHostname, hostname),
		AppName:   trimLength(maxAppname, appname),
		ProcessID: trimLength(maxProcID, procID),
		Message:   []byte(msg),
	}
	return m.MarshalBinary()
}

func trimLength(max int, s string) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
