// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package log provides the leveled logger used by the sofa client and the
// sofa command.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Logger is a minimal leveled logger. Info goes to the normal output; Debug
// and Error go to the error output, and Debug only when enabled.
type Logger interface {
	// SetOut sets the destination for normal output.
	SetOut(io.Writer)
	// SetErr sets the destination for error output.
	SetErr(io.Writer)
	// SetDebug turns debug mode on or off.
	SetDebug(bool)
	Debug(...any)
	Debugf(string, ...any)
	Info(...any)
	Infof(string, ...any)
	Error(...any)
	Errorf(string, ...any)
}

type level int

const (
	levelDebug level = iota
	levelInfo
	levelError
)

var levelNames = [...]string{
	levelDebug: "DEBUG",
	levelInfo:  "INFO",
	levelError: "ERROR",
}

func (l level) String() string { return levelNames[l] }

type logger struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
	debug  bool
}

var _ Logger = &logger{}

// New returns a logger writing to os.Stdout and os.Stderr, with debug output
// disabled.
func New() Logger {
	return &logger{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// NewNil returns a logger which discards everything.
func NewNil() Logger {
	return &logger{
		stdout: io.Discard,
		stderr: io.Discard,
	}
}

func (l *logger) SetOut(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stdout = w
}

func (l *logger) SetErr(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stderr = w
}

func (l *logger) SetDebug(debug bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = debug
}

// write prints a single line at lvl, with surrounding whitespace removed.
func (l *logger) write(lvl level, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.stderr
	switch {
	case lvl == levelDebug && !l.debug:
		return
	case lvl == levelInfo:
		w = l.stdout
	}
	_, _ = fmt.Fprintln(w, strings.TrimSpace(line))
}

func (l *logger) Debug(args ...any)                 { l.write(levelDebug, fmt.Sprint(args...)) }
func (l *logger) Debugf(format string, args ...any) { l.write(levelDebug, fmt.Sprintf(format, args...)) }
func (l *logger) Info(args ...any)                  { l.write(levelInfo, fmt.Sprint(args...)) }
func (l *logger) Infof(format string, args ...any)  { l.write(levelInfo, fmt.Sprintf(format, args...)) }
func (l *logger) Error(args ...any)                 { l.write(levelError, fmt.Sprint(args...)) }
func (l *logger) Errorf(format string, args ...any) { l.write(levelError, fmt.Sprintf(format, args...)) }
