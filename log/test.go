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

package log

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestLogger records every line, at every level, for inspection in tests.
// Lines are prefixed with their level, as in "[DEBUG] fetched 3 rows".
type TestLogger struct {
	mu    sync.Mutex
	lines []string
}

var _ Logger = &TestLogger{}

// NewTest returns an empty TestLogger.
func NewTest() *TestLogger {
	return &TestLogger{}
}

func (l *TestLogger) record(lvl level, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, "["+lvl.String()+"] "+strings.TrimSpace(line))
}

func (*TestLogger) SetOut(io.Writer) {}
func (*TestLogger) SetErr(io.Writer) {}
func (*TestLogger) SetDebug(bool)    {}

func (l *TestLogger) Debug(args ...any) { l.record(levelDebug, fmt.Sprint(args...)) }
func (l *TestLogger) Debugf(format string, args ...any) {
	l.record(levelDebug, fmt.Sprintf(format, args...))
}
func (l *TestLogger) Info(args ...any) { l.record(levelInfo, fmt.Sprint(args...)) }
func (l *TestLogger) Infof(format string, args ...any) {
	l.record(levelInfo, fmt.Sprintf(format, args...))
}
func (l *TestLogger) Error(args ...any) { l.record(levelError, fmt.Sprint(args...)) }
func (l *TestLogger) Errorf(format string, args ...any) {
	l.record(levelError, fmt.Sprintf(format, args...))
}

// Logs returns a copy of the recorded lines.
func (l *TestLogger) Logs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.lines...)
}

// Check fails the test unless exactly want was logged, in order.
func (l *TestLogger) Check(t *testing.T, want ...string) {
	t.Helper()
	if d := cmp.Diff(want, l.Logs()); d != "" {
		t.Errorf("Unexpected logs:\n%s", d)
	}
}

// Contains fails the test unless some line matches the regular expression re.
func (l *TestLogger) Contains(t *testing.T, re string) {
	t.Helper()
	pattern := regexp.MustCompile(re)
	for _, line := range l.Logs() {
		if pattern.MatchString(line) {
			return
		}
	}
	t.Errorf("No log line matches %q. Got:\n%s", re, strings.Join(l.Logs(), "\n"))
}
