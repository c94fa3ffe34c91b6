// Copyright 2024 The go-club Authors
// This file is part of go-club.
//
// go-club is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-club is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-club. If not, see <http://www.gnu.org/licenses/>.

// Package clublog is a small leveled, key-value logger in the style of
// go-ethereum's log package: Info("msg", "key", value, ...), colorized when
// the output is a terminal.
package clublog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level orders log severities; higher is more severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "EROR"
	default:
		return "????"
	}
}

func (l Level) color() *color.Color {
	switch l {
	case LevelDebug:
		return color.New(color.FgHiBlack)
	case LevelInfo:
		return color.New(color.FgGreen)
	case LevelWarn:
		return color.New(color.FgYellow)
	case LevelError:
		return color.New(color.FgRed)
	default:
		return color.New()
	}
}

// Logger writes leveled, key-value log lines.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	color  bool
	prefix string
	min    Level
}

// std is the process-wide default logger, matching the teacher's package-
// level log.Info/log.Warn/... convenience functions.
var std = New(os.Stderr)

// New builds a Logger writing to w, auto-detecting color support when w is
// a terminal (via mattn/go-isatty, wrapped through mattn/go-colorable so
// ANSI codes render on Windows consoles too).
func New(w io.Writer) *Logger {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		if useColor {
			w = colorable.NewColorable(f)
		}
	}
	return &Logger{out: w, color: useColor, min: LevelDebug}
}

// SetOutput replaces the default logger's writer.
func SetOutput(w io.Writer) { std = New(w) }

// SetLevel sets the minimum level the default logger emits.
func SetLevel(l Level) { std.min = l }

// With returns a Logger that prefixes every line with "key=value ..." built
// from ctx, useful for tagging all of one connection's log lines with its
// remote address.
func (l *Logger) With(ctx ...interface{}) *Logger {
	return &Logger{out: l.out, color: l.color, min: l.min, prefix: formatCtx(ctx)}
}

func (l *Logger) log(level Level, msg string, ctx []interface{}) {
	if level < l.min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("01-02|15:04:05.000")
	caller := stack.Caller(2)

	line := fmt.Sprintf("%s %s", level.String(), msg)
	if l.color {
		line = fmt.Sprintf("%s %s", level.color().Sprint(level.String()), msg)
	}

	fields := l.prefix
	if kv := formatCtx(ctx); kv != "" {
		if fields != "" {
			fields += " "
		}
		fields += kv
	}

	if fields != "" {
		fmt.Fprintf(l.out, "%s[%v] %s %s\n", ts, caller, line, fields)
	} else {
		fmt.Fprintf(l.out, "%s[%v] %s\n", ts, caller, line)
	}
}

func formatCtx(ctx []interface{}) string {
	if len(ctx) == 0 {
		return ""
	}
	out := ""
	for i := 0; i+1 < len(ctx); i += 2 {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%v=%v", ctx[i], ctx[i+1])
	}
	if len(ctx)%2 == 1 {
		out += fmt.Sprintf(" %v=MISSING", ctx[len(ctx)-1])
	}
	return out
}

func (l *Logger) Debug(msg string, ctx ...interface{}) { l.log(LevelDebug, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.log(LevelInfo, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.log(LevelWarn, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.log(LevelError, msg, ctx) }

// Debug logs at LevelDebug on the default logger.
func Debug(msg string, ctx ...interface{}) { std.Debug(msg, ctx...) }

// Info logs at LevelInfo on the default logger.
func Info(msg string, ctx ...interface{}) { std.Info(msg, ctx...) }

// Warn logs at LevelWarn on the default logger.
func Warn(msg string, ctx ...interface{}) { std.Warn(msg, ctx...) }

// Error logs at LevelError on the default logger.
func Error(msg string, ctx ...interface{}) { std.Error(msg, ctx...) }

// With tags every line of the returned logger with ctx, reusing the default
// logger's output and level.
func With(ctx ...interface{}) *Logger { return std.With(ctx...) }
