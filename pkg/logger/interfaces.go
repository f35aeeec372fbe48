/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is the logging contract every package takes in its constructor.
type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	Panic() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) zerolog.Logger
	WithFields(fields map[string]interface{}) zerolog.Logger
	SetLevel(level zerolog.Level)
	SetDebug(debug bool)
}

// NewTestLogger creates a no-op logger for testing that discards all output.
func NewTestLogger() Logger {
	return &writerLogger{zl: zerolog.New(io.Discard).Level(zerolog.Disabled), fixed: true}
}

// NewWriterLogger returns a Logger writing JSON lines to w at trace level,
// for tests that assert on log output. SetLevel and SetDebug take effect.
func NewWriterLogger(w io.Writer) Logger {
	return &writerLogger{zl: zerolog.New(w).Level(zerolog.TraceLevel)}
}

type writerLogger struct {
	mu    sync.RWMutex
	zl    zerolog.Logger
	fixed bool
}

func (l *writerLogger) get() *zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	zl := l.zl

	return &zl
}

func (l *writerLogger) Trace() *zerolog.Event { return l.get().Trace() }
func (l *writerLogger) Debug() *zerolog.Event { return l.get().Debug() }
func (l *writerLogger) Info() *zerolog.Event  { return l.get().Info() }
func (l *writerLogger) Warn() *zerolog.Event  { return l.get().Warn() }
func (l *writerLogger) Error() *zerolog.Event { return l.get().Error() }
func (l *writerLogger) Fatal() *zerolog.Event { return l.get().Fatal() }
func (l *writerLogger) Panic() *zerolog.Event { return l.get().Panic() }
func (l *writerLogger) With() zerolog.Context { return l.get().With() }

func (l *writerLogger) WithComponent(component string) zerolog.Logger {
	return l.get().With().Str("component", component).Logger()
}

func (l *writerLogger) WithFields(fields map[string]interface{}) zerolog.Logger {
	return l.get().With().Fields(fields).Logger()
}

func (l *writerLogger) SetLevel(level zerolog.Level) {
	if l.fixed {
		return
	}

	l.mu.Lock()
	l.zl = l.zl.Level(level)
	l.mu.Unlock()
}

func (l *writerLogger) SetDebug(debug bool) {
	if debug {
		l.SetLevel(zerolog.DebugLevel)
	} else {
		l.SetLevel(zerolog.InfoLevel)
	}
}
