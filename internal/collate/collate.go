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

// Package collate orders decoded JSON values the way CouchDB orders view keys.
//
// The order differs slightly from the one described by the [CouchDB
// documentation]: the Unicode algorithm used by Go sorts the backtick (`) and
// caret (^) after other symbols, not before, and object members are compared
// in key order rather than in their original order.
//
// [CouchDB documentation]: https://docs.couchdb.org/en/stable/ddocs/views/collation.html#collation-specification
package collate

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var (
	mu       sync.Mutex
	collator = collate.New(language.Und)
)

// CompareString compares two strings with the Unicode Collation Algorithm,
// returning -1, 0 or +1.
func CompareString(a, b string) int {
	mu.Lock()
	defer mu.Unlock()
	return collator.CompareString(a, b)
}

// rank orders the JSON types: null, booleans, numbers, strings, arrays,
// then objects.
func rank(v interface{}) int {
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2 //nolint:gomnd
	case string:
		return 3 //nolint:gomnd
	case []interface{}:
		return 4 //nolint:gomnd
	case map[string]interface{}:
		return 5 //nolint:gomnd
	default:
		if rv := reflect.ValueOf(t); rv.Kind() == reflect.Ptr && rv.IsNil() {
			return 0
		}
	}
	panic(fmt.Sprintf("unexpected JSON type: %T", v))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func minLen(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// CompareObject compares two values as decoded by encoding/json into an
// interface{}, returning -1, 0 or +1. Any other type panics.
func CompareObject(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return compareInts(ra, rb)
	}
	switch x := a.(type) {
	case bool:
		return compareInts(boolInt(x), boolInt(b.(bool)))
	case float64:
		return compareFloats(x, b.(float64))
	case string:
		return CompareString(x, b.(string))
	case []interface{}:
		return compareArrays(x, b.([]interface{}))
	case map[string]interface{}:
		return compareObjects(x, b.(map[string]interface{}))
	}
	return 0
}

func compareArrays(a, b []interface{}) int {
	for i, n := 0, minLen(len(a), len(b)); i < n; i++ {
		if c := CompareObject(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareInts(len(a), len(b))
}

// compareObjects walks both objects in key order, comparing each key, then
// its value.
func compareObjects(a, b map[string]interface{}) int {
	ak, bk := keys(a), keys(b)
	for i, n := 0, minLen(len(ak), len(bk)); i < n; i++ {
		if c := CompareString(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := CompareObject(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	return compareInts(len(ak), len(bk))
}

func keys(o map[string]interface{}) []string {
	ks := make([]string, 0, len(o))
	for k := range o {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool {
		return CompareString(ks[i], ks[j]) < 0
	})
	return ks
}
