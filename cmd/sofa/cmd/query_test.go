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

package cmd

import (
	"testing"

	"gitlab.com/flimzy/testy"

	"github.com/go-kivik/sofa/cmd/sofa/errors"
)

func TestQueryCommands(t *testing.T) {
	tests := testy.NewTable()
	tests.Add("get", func(t *testing.T) interface{} {
		return cmdTest{
			args:   []string{"--dsn", animalServer(t), "-f", "go-template={{ ._id }}:{{ .class }}", "get", "animals", "a01"},
			stdout: "a01:mammal\n",
		}
	})
	tests.Add("get missing", func(t *testing.T) interface{} {
		return cmdTest{
			args:   []string{"--dsn", animalServer(t), "get", "animals", "nope"},
			status: errors.ErrNotFound,
		}
	})
	tests.Add("get wrong args", cmdTest{
		args:   []string{"--dsn", unreachable, "get", "animals"},
		status: errors.ErrUsage,
	})
	tests.Add("find", func(t *testing.T) interface{} {
		return cmdTest{
			args:   []string{"--dsn", animalServer(t), "-f", "go-template={{ range .docs }}{{ ._id }} {{ end }}", "find", "animals", "-s", `{"class":"bird"}`},
			stdout: "a00 a03 \n",
		}
	})
	tests.Add("find single page", func(t *testing.T) interface{} {
		return cmdTest{
			args:   []string{"--dsn", animalServer(t), "-f", "go-template={{ len .docs }} {{ .has_next_page }} {{ .pages }}", "find", "animals", "--limit", "2"},
			stdout: "2 true 1\n",
		}
	})
	tests.Add("find all pages", func(t *testing.T) interface{} {
		return cmdTest{
			args:   []string{"--dsn", animalServer(t), "-f", "go-template={{ len .docs }} {{ .has_next_page }} {{ .pages }}", "find", "animals", "--limit", "2", "--all"},
			stdout: "6 false 4\n",
		}
	})
	tests.Add("find fields and sort", func(t *testing.T) interface{} {
		return cmdTest{
			args: []string{
				"--dsn", animalServer(t), "-f", "json=",
				"find", "animals", "-s", `{"class":"bird"}`, "--fields", "_id", "--sort", "_id:desc",
			},
			contains: []string{`"docs":[{"_id":"a03"},{"_id":"a00"}]`},
		}
	})
	tests.Add("find several databases", func(t *testing.T) interface{} {
		return cmdTest{
			args:   []string{"--dsn", animalServer(t), "-f", "go-template={{ range . }}{{ .db }}={{ len .docs }} {{ end }}", "find", "animals", "plants", "-s", `{"class":"bird"}`},
			stdout: "animals=2 plants=0 \n",
		}
	})
	tests.Add("find missing database", func(t *testing.T) interface{} {
		return cmdTest{
			args:     []string{"--dsn", animalServer(t), "find", "animals", "nope"},
			status:   errors.ErrNotFound,
			contains: []string{"nope: Database does not exist."},
		}
	})
	tests.Add("find invalid selector", cmdTest{
		args:   []string{"--dsn", unreachable, "find", "animals", "-s", "{"},
		status: errors.ErrData,
	})
	tests.Add("find invalid sort", cmdTest{
		args:   []string{"--dsn", unreachable, "find", "animals", "--sort", "n:sideways"},
		status: errors.ErrUsage,
	})
	tests.Add("find unknown option", cmdTest{
		args:     []string{"--dsn", unreachable, "-O", "flavor=vanilla", "find", "animals"},
		status:   errors.ErrUsage,
		contains: []string{`unknown query option "flavor"`},
	})
	tests.Add("view by key", func(t *testing.T) interface{} {
		return cmdTest{
			args:   []string{"--dsn", animalServer(t), "-f", "go-template={{ range .rows }}{{ .id }} {{ end }}", "view", "animals", "animals/by_class", "--key", "bird"},
			stdout: "a00 a03 \n",
		}
	})
	tests.Add("view range", func(t *testing.T) interface{} {
		return cmdTest{
			args: []string{
				"--dsn", animalServer(t), "-f", "go-template={{ .total_rows }}:{{ range .rows }} {{ .id }}{{ end }}",
				"view", "animals", "animals/by_class", "--start-key", `"mammal"`, "--limit", "2",
			},
			stdout: "6: a01 a02\n",
		}
	})
	tests.Add("all docs", func(t *testing.T) interface{} {
		return cmdTest{
			args:   []string{"--dsn", animalServer(t), "-f", "go-template={{ range .rows }}{{ .id }} {{ end }}", "view", "plants", "_all_docs"},
			stdout: "fern oak \n",
		}
	})
	tests.Add("missing view", func(t *testing.T) interface{} {
		return cmdTest{
			args:   []string{"--dsn", animalServer(t), "view", "animals", "animals/nope"},
			status: errors.ErrNotFound,
		}
	})
	tests.Add("iterview", func(t *testing.T) interface{} {
		return cmdTest{
			args:   []string{"--dsn", animalServer(t), "-f", "go-template={{ .id }}", "iterview", "animals", "animals/by_class", "--batch", "2", "--limit", "3"},
			stdout: "a00\na03\na01\n",
		}
	})
	tests.Add("iterview zero batch", cmdTest{
		args:     []string{"--dsn", unreachable, "iterview", "animals", "animals/by_class", "--batch", "0"},
		status:   errors.ErrUsage,
		contains: []string{"batch size must be positive, got 0"},
	})
	tests.Add("iterview zero limit", cmdTest{
		args:     []string{"--dsn", unreachable, "iterview", "animals", "animals/by_class", "--limit", "0"},
		status:   errors.ErrUsage,
		contains: []string{"limit must be a positive integer, got 0"},
	})
	tests.Add("changes", func(t *testing.T) interface{} {
		return cmdTest{
			args:   []string{"--dsn", animalServer(t), "-f", "go-template={{ range .results }}{{ .id }} {{ end }}{{ .last_seq }}", "changes", "animals", "--since", "4"},
			stdout: "a04 a05 6\n",
		}
	})
	tests.Add("changes by doc id", func(t *testing.T) interface{} {
		return cmdTest{
			args:   []string{"--dsn", animalServer(t), "-f", "go-template={{ range .results }}{{ .id }} {{ end }}", "changes", "animals", "--doc-ids", "a02,a04"},
			stdout: "a02 a04 \n",
		}
	})
	tests.Add("continuous changes", func(t *testing.T) interface{} {
		return cmdTest{
			args: []string{"--dsn", animalServer(t), "-f", "json=", "changes", "animals", "--feed", "continuous", "--since", "4", "--timeout", "10"},
			contains: []string{
				`"id":"a04"`,
				`"id":"a05"`,
				`"last_seq":"6"`,
			},
		}
	})
	tests.Add("changes unknown feed", cmdTest{
		args:     []string{"--dsn", unreachable, "changes", "animals", "--feed", "eventsource"},
		status:   errors.ErrUsage,
		contains: []string{"unsupported feed type eventsource"},
	})
	tests.Add("changes invalid selector", cmdTest{
		args:   []string{"--dsn", unreachable, "changes", "animals", "-s", "[1"},
		status: errors.ErrData,
	})

	tests.Run(t, func(t *testing.T, tt cmdTest) {
		tt.Test(t)
	})
}
