/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config loads the OSAL core's tuning file: tick timing and
// per-class capacity overrides, ini-style via gcfg. A bad tick
// configuration is rejected at load time rather than surfacing later
// as drifting timebases.
package config

import (
	"errors"
	"os"

	"github.com/gravwell/gcfg"

	"github.com/gravwell/osal/idclass"
)

// maxConfigSize caps the tuning file; anything larger is a mistake,
// not a configuration.
const maxConfigSize = 1024 * 1024

var (
	ErrBadTickConfig  = errors.New("MicroSecPerTick * TicksPerSecond must equal 1,000,000 exactly")
	ErrConfigTooLarge = errors.New("tuning file is too large")
)

type globalSection struct {
	MicroSecPerTick uint32
	TicksPerSecond  uint32
	LogLevel        string
}

type capacitySection struct {
	Max int
}

type cfgType struct {
	Global   globalSection
	Capacity map[string]*capacitySection
}

// Config is the resolved, validated tuning set a Manager and its
// timebases are built from.
type Config struct {
	MicroSecPerTick uint32
	TicksPerSecond  uint32
	LogLevel        string
	Capacities      idclass.Capacity
}

var classNameIndex = map[string]idclass.Class{
	"Task":     idclass.Task,
	"Queue":    idclass.Queue,
	"BinSem":   idclass.BinSem,
	"CountSem": idclass.CountSem,
	"Mutex":    idclass.Mutex,
	"Stream":   idclass.Stream,
	"Dir":      idclass.Dir,
	"Timebase": idclass.Timebase,
	"TimerCb":  idclass.TimerCb,
	"Module":   idclass.Module,
	"FileSys":  idclass.FileSys,
	"Console":  idclass.Console,
}

func defaultRaw() cfgType {
	var raw cfgType
	raw.Global.TicksPerSecond = 1000
	raw.Global.MicroSecPerTick = 1000
	raw.Global.LogLevel = "INFO"
	return raw
}

// Load reads and validates the tuning file at path.
func Load(path string) (*Config, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, ErrConfigTooLarge
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse validates the tuning set encoded in b, an ini-formatted buffer.
// It is Load's byte-oriented counterpart, used directly by tests and by
// callers that already have the file contents in hand. The process
// environment wins over the file for the settings it can override (see
// logLevelFromEnv).
func Parse(b []byte) (*Config, error) {
	if len(b) > maxConfigSize {
		return nil, ErrConfigTooLarge
	}
	raw := defaultRaw()
	if err := gcfg.ReadStringInto(&raw, string(b)); err != nil {
		return nil, err
	}
	lvl, err := logLevelFromEnv()
	if err != nil {
		return nil, err
	}
	if lvl != "" {
		raw.Global.LogLevel = lvl
	}
	return fromRaw(&raw)
}

func fromRaw(raw *cfgType) (*Config, error) {
	if uint64(raw.Global.MicroSecPerTick)*uint64(raw.Global.TicksPerSecond) != 1_000_000 {
		return nil, ErrBadTickConfig
	}
	caps := idclass.DefaultCapacities
	for name, sec := range raw.Capacity {
		class, ok := classNameIndex[name]
		if !ok {
			return nil, idclass.ErrInvalidClass
		}
		if sec == nil || sec.Max <= 0 {
			return nil, idclass.ErrInvalidClass
		}
		caps[class] = sec.Max
	}
	if err := caps.Validate(); err != nil {
		return nil, err
	}
	return &Config{
		MicroSecPerTick: raw.Global.MicroSecPerTick,
		TicksPerSecond:  raw.Global.TicksPerSecond,
		LogLevel:        raw.Global.LogLevel,
		Capacities:      caps,
	}, nil
}
