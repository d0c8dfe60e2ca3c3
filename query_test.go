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
	"errors"
	"testing"

	"gitlab.com/flimzy/testy"
)

func TestNewQuery(t *testing.T) {
	type tt struct {
		selector interface{}
		opts     []Option
		want     string
		err      string
	}

	tests := testy.NewTable()
	tests.Add("nil selector", tt{
		err: "selector is required",
	})
	tests.Add("typed nil selector", tt{
		selector: map[string]interface{}(nil),
		err:      "selector is required",
	})
	tests.Add("selector only", tt{
		selector: map[string]interface{}{"type": "person"},
		want:     `{"selector":{"type":"person"}}`,
	})
	tests.Add("options in canonical order", tt{
		selector: map[string]interface{}{"age": map[string]interface{}{"$gt": 30}},
		opts: []Option{
			ExecutionStats(),
			Bookmark("b1"),
			Sort(Desc("age"), SortField{Field: "name"}),
			Limit(10),
			Fields("_id", "name"),
		},
		want: `{"selector":{"age":{"$gt":30}},"limit":10,"sort":[{"age":"desc"},"name"],"fields":["_id","name"],"bookmark":"b1","execution_stats":true}`,
	})
	tests.Add("unknown option", tt{
		selector: map[string]interface{}{},
		opts:     []Option{Param("include_docs", true)},
		err:      `unknown query option "include_docs"`,
	})
	tests.Add("zero limit", tt{
		selector: map[string]interface{}{},
		opts:     []Option{Limit(0)},
		err:      `^invalid limit 0: .*'gte' tag`,
	})
	tests.Add("non-integer skip", tt{
		selector: map[string]interface{}{},
		opts:     []Option{Param("skip", 1.5)},
		err:      "skip must be an integer, got float64",
	})
	tests.Add("invalid stale", tt{
		selector: map[string]interface{}{},
		opts:     []Option{Param("stale", "update_after")},
		err:      `^invalid stale "update_after": .*'oneof' tag`,
	})
	tests.Add("invalid sort direction", tt{
		selector: map[string]interface{}{},
		opts:     []Option{Sort(SortField{Field: "age", Direction: "up"})},
		err:      `^invalid sort field: .*'Direction' failed on the 'oneof' tag`,
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		q, err := NewQuery(tt.selector, tt.opts...)
		if !testy.ErrorMatchesRE(tt.err, err) {
			t.Errorf("Unexpected error: %s", err)
		}
		if err != nil {
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("Expected a configuration error, got %v", err)
			}
			return
		}
		got, err := json.Marshal(q)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != tt.want {
			t.Errorf("Unexpected JSON:\nwant: %s\n got: %s", tt.want, got)
		}
	})
}

func TestQuerySetUnset(t *testing.T) {
	q, err := NewQuery(map[string]interface{}{"type": "person"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := q.Set("limit", 5); err != nil {
			t.Fatal(err)
		}
	}
	if d := testy.DiffInterface([]string{"selector", "limit"}, q.Keys()); d != nil {
		t.Error(d)
	}
	if got := q.PageSize(); got != 5 {
		t.Errorf("Unexpected page size: %d", got)
	}
	for i := 0; i < 2; i++ {
		if err := q.Unset("limit"); err != nil {
			t.Fatal(err)
		}
	}
	if d := testy.DiffInterface([]string{"selector"}, q.Keys()); d != nil {
		t.Error(d)
	}
	if got := q.PageSize(); got != DefaultPageSize {
		t.Errorf("Unexpected page size: %d", got)
	}
	if err := q.Unset("selector"); !testy.ErrorMatches("selector is required", err) {
		t.Errorf("Unexpected error: %s", err)
	}
	if err := q.Set("bogus", 1); !testy.ErrorMatches(`unknown query option "bogus"`, err) {
		t.Errorf("Unexpected error: %s", err)
	}
}

func TestQueryClone(t *testing.T) {
	q, err := NewQuery(map[string]interface{}{}, Limit(3))
	if err != nil {
		t.Fatal(err)
	}
	c := q.Clone()
	if err := c.Set("bookmark", "xyz"); err != nil {
		t.Fatal(err)
	}
	if _, ok := q.Get("bookmark"); ok {
		t.Error("Setting a value on the clone changed the original")
	}
	if d := testy.DiffInterface([]string{"selector", "limit", "bookmark"}, c.Keys()); d != nil {
		t.Error(d)
	}
}

func TestQueryUnmarshalJSON(t *testing.T) {
	type tt struct {
		input string
		want  string
		err   string
	}

	tests := testy.NewTable()
	tests.Add("not an object", tt{
		input: `[]`,
		err:   "query must be a JSON object, got [",
	})
	tests.Add("missing selector", tt{
		input: `{"limit":5}`,
		err:   "selector is required",
	})
	tests.Add("invalid limit", tt{
		input: `{"selector":{},"limit":"five"}`,
		err:   "limit must be an integer, got string",
	})
	tests.Add("key order is preserved", tt{
		input: `{"limit":5,"selector":{"name":{"$regex":"^A"}},"skip":2}`,
		want:  `{"limit":5,"selector":{"name":{"$regex":"^A"}},"skip":2}`,
	})
	tests.Add("single sort field", tt{
		input: `{"selector":{},"sort":"name"}`,
		want:  `{"selector":{},"sort":["name"]}`,
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		var q Query
		err := json.Unmarshal([]byte(tt.input), &q)
		if !testy.ErrorMatches(tt.err, err) {
			t.Errorf("Unexpected error: %s", err)
		}
		if err != nil {
			return
		}
		got, err := json.Marshal(&q)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != tt.want {
			t.Errorf("Unexpected JSON:\nwant: %s\n got: %s", tt.want, got)
		}
	})
}

func TestQuerySelectorRoundTrip(t *testing.T) {
	selectors := []string{
		`{}`,
		`{"type":"person"}`,
		`{"$or":[{"age":{"$lt":18}},{"age":{"$gte":65}}],"name":{"$exists":true}}`,
		`{"tags":{"$elemMatch":{"$in":["a","b"]}},"address":{"city":"Oslo"}}`,
	}
	for _, raw := range selectors {
		var selector interface{}
		if err := json.Unmarshal([]byte(raw), &selector); err != nil {
			t.Fatal(err)
		}
		q, err := NewQuery(selector)
		if err != nil {
			t.Fatal(err)
		}
		encoded, err := json.Marshal(q)
		if err != nil {
			t.Fatal(err)
		}
		var decoded Query
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(selector, decoded.Selector()); d != nil {
			t.Errorf("selector %s changed:\n%s", raw, d)
		}
	}
}
