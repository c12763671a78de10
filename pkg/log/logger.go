// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"os"
	"sync"
)

// Level is a logging severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelPanic
)

// DefaultLevel is the level the registry runs at. Configure does not change
// it; --debug toggles enable Debug output per source independently of it.
const DefaultLevel = LevelInfo

// Logger is a leveled, per-source logger.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Panic(format string, args ...interface{})
	DebugEnabled() bool
	DebugBlock(prefix, format string, args ...interface{})
}

// logger is the concrete per-source Logger implementation, backed by the
// shared registry for level/prefix/debug-source state.
type logger struct {
	source string
}

// registry holds process-wide logging configuration and caches one logger
// instance per source.
type registry struct {
	sync.Mutex
	level  Level
	prefix bool
	dbg    srcmap
	cache  map[string]logger
}

var log = &registry{
	level: DefaultLevel,
	dbg:   make(srcmap),
	cache: make(map[string]logger),
}

// deflog is used by this package itself to log about its own configuration.
var deflog = NewLogger("logger")

// NewLogger returns the Logger for the given source, creating it if this is
// the first use of that source.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Default returns the unnamed, default-source Logger.
func Default() Logger {
	return log.get("")
}

func (r *registry) get(source string) logger {
	r.Lock()
	defer r.Unlock()
	if l, ok := r.cache[source]; ok {
		return l
	}
	l := logger{source: source}
	r.cache[source] = l
	return l
}

func (r *registry) setDbgMap(m srcmap) {
	r.Lock()
	defer r.Unlock()
	r.dbg = m
}

func (r *registry) setPrefix(on bool) {
	r.Lock()
	defer r.Unlock()
	r.prefix = on
}

func (r *registry) debugEnabled(source string) bool {
	r.Lock()
	defer r.Unlock()
	if on, ok := r.dbg[source]; ok {
		return on
	}
	if on, ok := r.dbg["*"]; ok {
		return on
	}
	return false
}

func (l logger) tag() string {
	if !log.prefix || l.source == "" {
		return ""
	}
	return "[" + l.source + "] "
}

func (l logger) emit(level, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s%s: %s\n", l.tag(), level, fmt.Sprintf(format, args...))
}

func (l logger) Debug(format string, args ...interface{}) {
	if l.DebugEnabled() {
		l.emit("D", format, args...)
	}
}

func (l logger) Info(format string, args ...interface{}) {
	if log.level <= LevelInfo {
		l.emit("I", format, args...)
	}
}

func (l logger) Warn(format string, args ...interface{}) {
	if log.level <= LevelWarn {
		l.emit("W", format, args...)
	}
}

func (l logger) Error(format string, args ...interface{}) {
	if log.level <= LevelError {
		l.emit("E", format, args...)
	}
}

func (l logger) Panic(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.emit("P", "%s", msg)
	panic(msg)
}

func (l logger) Debugf(format string, args ...interface{}) { l.Debug(format, args...) }
func (l logger) Infof(format string, args ...interface{})  { l.Info(format, args...) }
func (l logger) Warnf(format string, args ...interface{})  { l.Warn(format, args...) }
func (l logger) Errorf(format string, args ...interface{}) { l.Error(format, args...) }

func (l logger) DebugEnabled() bool {
	return log.debugEnabled(l.source)
}

func (l logger) DebugBlock(prefix, format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	l.emit("D", prefix+format, args...)
}

func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("log: "+format, args...)
}
