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

package collate

import (
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gitlab.com/flimzy/testy"
)

// decode parses JSON the way view keys arrive, so the tests exercise the
// same types CompareObject sees in practice.
func decode(t *testing.T, s string) interface{} {
	t.Helper()
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestCompareObjectPairs(t *testing.T) {
	type tst struct {
		a, b string
		want int
	}
	tests := testy.NewTable()
	tests.Add("null equals null", tst{a: `null`, b: `null`, want: 0})
	tests.Add("null before false", tst{a: `null`, b: `false`, want: -1})
	tests.Add("false before true", tst{a: `false`, b: `true`, want: -1})
	tests.Add("true before numbers", tst{a: `true`, b: `-100`, want: -1})
	tests.Add("fractions", tst{a: `1.5`, b: `1.25`, want: 1})
	tests.Add("numbers before strings", tst{a: `99`, b: `"0"`, want: -1})
	tests.Add("lower case first", tst{a: `"a"`, b: `"A"`, want: -1})
	tests.Add("case before length", tst{a: `"A"`, b: `"aa"`, want: -1})
	tests.Add("strings before arrays", tst{a: `"zzz"`, b: `[]`, want: -1})
	tests.Add("shorter array first", tst{a: `["b"]`, b: `["b","c"]`, want: -1})
	tests.Add("arrays element-wise", tst{a: `["b","d"]`, b: `["b","c","a"]`, want: 1})
	tests.Add("arrays before objects", tst{a: `[[],{}]`, b: `{}`, want: -1})
	tests.Add("object keys", tst{a: `{"a":2}`, b: `{"b":1}`, want: -1})
	tests.Add("object values", tst{a: `{"b":2}`, b: `{"b":1}`, want: 1})
	tests.Add("object member order ignored", tst{a: `{"x":1,"y":[null]}`, b: `{"y":[null],"x":1}`, want: 0})
	tests.Add("fewer members first", tst{a: `{"b":2}`, b: `{"b":2,"c":2}`, want: -1})

	tests.Run(t, func(t *testing.T, tt tst) {
		a, b := decode(t, tt.a), decode(t, tt.b)
		if got := CompareObject(a, b); got != tt.want {
			t.Errorf("CompareObject(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := CompareObject(b, a); got != -tt.want {
			t.Errorf("CompareObject(%s, %s) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	})
}

func TestCompareObjectTypedNil(t *testing.T) {
	var m *map[string]interface{}
	if got := CompareObject(m, nil); got != 0 {
		t.Errorf("typed nil should equal null, got %d", got)
	}
}

func TestCompareObjectUnsupported(t *testing.T) {
	defer func() {
		if r := recover(); r != "unexpected JSON type: int" {
			t.Errorf("Unexpected panic: %v", r)
		}
	}()
	CompareObject(1, 2)
}

func TestCompareStringOrder(t *testing.T) {
	want := []string{
		"_", "-", ",", ";", ":", "!", "?", ".", "'", `"`, "(", ")",
		"[", "]", "{", "}", "@", "*", "/", `\`, "&", "#", "%", "+",
		"<", "=", ">", "|", "~", "$",
		"0", "1", "9",
		"a", "A", "b", "B", "y", "Y", "z", "Z",
	}
	got := append([]string(nil), want...)
	rand.Shuffle(len(got), func(i, j int) { got[i], got[j] = got[j], got[i] })
	sort.Slice(got, func(i, j int) bool {
		return CompareString(got[i], got[j]) < 0
	})
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("Unexpected order:\n%s", d)
	}
}

// The collator is not safe for concurrent use on its own; run under -race.
func TestCompareStringConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if CompareString("a", "b") >= 0 {
				t.Error("expected a < b")
			}
		}()
	}
	wg.Wait()
}
