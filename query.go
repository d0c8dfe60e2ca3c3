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
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// DefaultPageSize is the number of documents the server returns for a query
// without a limit.
const DefaultPageSize = 25

// queryFields lists the recognized query options, in the order they are set
// by [NewQuery].
var queryFields = []string{
	"selector",
	"limit",
	"skip",
	"sort",
	"fields",
	"use_index",
	"r",
	"bookmark",
	"update",
	"stable",
	"stale",
	"execution_stats",
}

var queryRules = map[string]string{
	"limit": "gte=1",
	"skip":  "gte=0",
	"r":     "gte=1",
	"stale": "oneof=ok false",
}

var validate = validator.New()

func isQueryField(name string) bool {
	for _, f := range queryFields {
		if f == name {
			return true
		}
	}
	return false
}

// SortField is one element of a query's sort order. An empty Direction
// means the server default, which is ascending.
type SortField struct {
	Field     string `validate:"required"`
	Direction string `validate:"omitempty,oneof=asc desc"`
}

// Asc sorts by field in ascending order.
func Asc(field string) SortField { return SortField{Field: field, Direction: "asc"} }

// Desc sorts by field in descending order.
func Desc(field string) SortField { return SortField{Field: field, Direction: "desc"} }

// MarshalJSON encodes s as {"field":"direction"}, or as "field" if no
// direction is set.
func (s SortField) MarshalJSON() ([]byte, error) {
	if s.Direction == "" {
		return json.Marshal(s.Field)
	}
	return json.Marshal(map[string]string{s.Field: s.Direction})
}

// Query is a Mango query, as sent to the _find and _explain endpoints. It is
// an ordered set of options, which always includes a selector. The zero value
// is not usable; create queries with [NewQuery].
type Query struct {
	keys   []string
	values map[string]interface{}
}

// NewQuery returns a query with the given selector. Query options, such as
// [Limit] or [Sort], may be passed as opts. A nil selector is a
// configuration error. The contents of the selector are not validated; a
// malformed selector is reported by the server.
func NewQuery(selector interface{}, opts ...Option) (*Query, error) {
	if isNil(selector) {
		return nil, configError("selector is required")
	}
	q := &Query{values: map[string]interface{}{}}
	if err := q.Set("selector", selector); err != nil {
		return nil, err
	}
	p := params(opts)
	for name := range p {
		if !isQueryField(name) {
			return nil, configError("unknown query option %q", name)
		}
	}
	for _, name := range queryFields[1:] {
		if value, ok := p[name]; ok {
			if err := q.Set(name, value); err != nil {
				return nil, err
			}
		}
	}
	return q, nil
}

func isNil(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Set sets the named option. Setting an option to nil removes it, as does
// [Query.Unset]. Unknown option names, and invalid values for limit, skip, r,
// sort and stale, are configuration errors.
func (q *Query) Set(name string, value interface{}) error {
	if !isQueryField(name) {
		return configError("unknown query option %q", name)
	}
	if isNil(value) {
		if name == "selector" {
			return configError("selector is required")
		}
		q.remove(name)
		return nil
	}
	value, err := normalizeQueryValue(name, value)
	if err != nil {
		return err
	}
	if _, ok := q.values[name]; !ok {
		q.keys = append(q.keys, name)
	}
	q.values[name] = value
	return nil
}

// Unset removes the named option. Removing an absent option is not an error.
func (q *Query) Unset(name string) error {
	return q.Set(name, nil)
}

func (q *Query) remove(name string) {
	if _, ok := q.values[name]; !ok {
		return
	}
	delete(q.values, name)
	for i, key := range q.keys {
		if key == name {
			q.keys = append(q.keys[:i], q.keys[i+1:]...)
			break
		}
	}
}

func normalizeQueryValue(name string, value interface{}) (interface{}, error) {
	switch name {
	case "limit", "skip", "r":
		n, ok := toInt(value)
		if !ok {
			return nil, configError("%s must be an integer, got %T", name, value)
		}
		if err := validate.Var(n, queryRules[name]); err != nil {
			return nil, configError("invalid %s %d: %w", name, n, err)
		}
		return n, nil
	case "stale":
		s, ok := value.(string)
		if !ok {
			return nil, configError("stale must be a string, got %T", value)
		}
		if err := validate.Var(s, queryRules[name]); err != nil {
			return nil, configError("invalid stale %q: %w", s, err)
		}
		return s, nil
	case "bookmark":
		s, ok := value.(string)
		if !ok {
			return nil, configError("bookmark must be a string, got %T", value)
		}
		return s, nil
	case "sort":
		return normalizeSort(value)
	}
	return value, nil
}

func toInt(i interface{}) (int, bool) {
	switch v := i.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

// normalizeSort returns the sort order as a slice. A single field is wrapped
// in a slice of length one.
func normalizeSort(value interface{}) ([]interface{}, error) {
	var fields []interface{}
	switch v := value.(type) {
	case SortField, string, map[string]string, map[string]interface{}:
		fields = []interface{}{v}
	case []SortField:
		for _, f := range v {
			fields = append(fields, f)
		}
	case []string:
		for _, f := range v {
			fields = append(fields, f)
		}
	case []map[string]string:
		for _, f := range v {
			fields = append(fields, f)
		}
	case []interface{}:
		fields = v
	default:
		return nil, configError("invalid sort type %T", value)
	}
	for _, field := range fields {
		if sf, ok := field.(SortField); ok {
			if err := validate.Struct(sf); err != nil {
				return nil, configError("invalid sort field: %w", err)
			}
		}
	}
	return fields, nil
}

// Get returns the value of the named option, and whether it is set.
func (q *Query) Get(name string) (interface{}, bool) {
	v, ok := q.values[name]
	return v, ok
}

// Selector returns the query's selector.
func (q *Query) Selector() interface{} {
	return q.values["selector"]
}

// Keys returns the names of the options that are set, in order.
func (q *Query) Keys() []string {
	return append([]string(nil), q.keys...)
}

// PageSize returns the query limit, or [DefaultPageSize] if none is set.
func (q *Query) PageSize() int {
	if limit, ok := q.values["limit"].(int); ok {
		return limit
	}
	return DefaultPageSize
}

// Clone returns a copy of q. Option values are shared, not copied.
func (q *Query) Clone() *Query {
	c := &Query{
		keys:   append([]string(nil), q.keys...),
		values: make(map[string]interface{}, len(q.values)),
	}
	for k, v := range q.values {
		c.values[k] = v
	}
	return c
}

// MarshalJSON encodes q as a JSON object, with keys in the order they were
// set.
func (q *Query) MarshalJSON() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	for i, key := range q.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(q.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON query, preserving the order of its keys. The
// values are validated as by [Query.Set].
func (q *Query) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("query must be a JSON object, got %v", tok)
	}
	result := &Query{values: map[string]interface{}{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string)
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return err
		}
		if err := result.Set(name, value); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if _, ok := result.values["selector"]; !ok {
		return configError("selector is required")
	}
	*q = *result
	return nil
}
