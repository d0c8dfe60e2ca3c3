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

package sofa

import (
	"encoding/json"
	"net/url"
	"testing"

	"gitlab.com/flimzy/testy"
)

func TestEncodeViewOptions(t *testing.T) {
	type tt struct {
		opts   map[string]interface{}
		want   url.Values
		status int
		err    string
	}

	tests := testy.NewTable()
	tests.Add("nil", tt{
		want: url.Values{},
	})
	tests.Add("string key is JSON encoded", tt{
		opts: map[string]interface{}{"key": "foo"},
		want: url.Values{"key": []string{`"foo"`}},
	})
	tests.Add("range bounds", tt{
		opts: map[string]interface{}{
			"startkey":  []interface{}{"Person"},
			"end_key":   []string{"Person", "\uffff"},
			"start_key": 5,
		},
		want: url.Values{
			"startkey":  []string{`["Person"]`},
			"end_key":   []string{"[\"Person\",\"\uffff\"]"},
			"start_key": []string{"5"},
		},
	})
	tests.Add("raw message is sent as-is", tt{
		opts: map[string]interface{}{"startkey": json.RawMessage(`["a",1]`)},
		want: url.Values{"startkey": []string{`["a",1]`}},
	})
	tests.Add("other strings are raw", tt{
		opts: map[string]interface{}{
			"stale":          "ok",
			"startkey_docid": "abc",
		},
		want: url.Values{
			"stale":          []string{"ok"},
			"startkey_docid": []string{"abc"},
		},
	})
	tests.Add("scalars are JSON encoded", tt{
		opts: map[string]interface{}{
			"limit":        10,
			"include_docs": true,
			"descending":   false,
		},
		want: url.Values{
			"limit":        []string{"10"},
			"include_docs": []string{"true"},
			"descending":   []string{"false"},
		},
	})
	tests.Add("nil values are omitted", tt{
		opts: map[string]interface{}{"key": nil, "limit": 1},
		want: url.Values{"limit": []string{"1"}},
	})
	tests.Add("unencodable value", tt{
		opts:   map[string]interface{}{"key": make(chan int)},
		status: 400,
		err:    "invalid value for key: json: unsupported type: chan int",
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		got, err := EncodeViewOptions(tt.opts)
		if !testy.ErrorMatches(tt.err, err) {
			t.Errorf("Unexpected error: %s", err)
		}
		if status := HTTPStatus(err); status != tt.status {
			t.Errorf("Unexpected status: %d", status)
		}
		if err != nil {
			return
		}
		if d := testy.DiffInterface(tt.want, got); d != nil {
			t.Error(d)
		}
	})
}

func TestEncodeViewOptionsIsStable(t *testing.T) {
	opts := map[string]interface{}{
		"startkey": []interface{}{"Person", map[string]interface{}{"b": 1, "a": 2}},
		"endkey":   "z",
		"limit":    3,
	}
	first, err := EncodeViewOptions(opts)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := EncodeViewOptions(opts)
		if err != nil {
			t.Fatal(err)
		}
		if first.Encode() != again.Encode() {
			t.Fatalf("Encoding changed:\n%s\n%s", first.Encode(), again.Encode())
		}
	}
}
