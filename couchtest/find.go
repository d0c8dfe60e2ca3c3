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

package couchtest

import (
	"encoding/base64"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/icza/dyno"
	"gitlab.com/flimzy/httpe"

	"github.com/go-kivik/sofa/internal/collate"
)

const defaultFindLimit = 25

type index struct {
	ddoc   string
	name   string
	fields []string
}

func (i *index) def() map[string]interface{} {
	fields := make([]map[string]string, len(i.fields))
	for n, field := range i.fields {
		fields[n] = map[string]string{field: "asc"}
	}
	return map[string]interface{}{"fields": fields}
}

func (i *index) toJSON() map[string]interface{} {
	return map[string]interface{}{
		"ddoc": i.ddoc,
		"name": i.name,
		"type": "json",
		"def":  i.def(),
	}
}

var allDocsIndex = map[string]interface{}{
	"ddoc": nil,
	"name": "_all_docs",
	"type": "special",
	"def": map[string]interface{}{
		"fields": []map[string]string{{"_id": "asc"}},
	},
}

// sortFields parses a Mango sort or index field list, which mixes plain
// field names and {"field": "asc|desc"} objects.
func sortFields(list []interface{}) (fields []string, desc []bool, err error) {
	for _, item := range list {
		switch t := item.(type) {
		case string:
			fields = append(fields, t)
			desc = append(desc, false)
		case map[string]interface{}:
			if len(t) != 1 {
				return nil, nil, errBadRequest("Each sort field must be a single key object")
			}
			for field, dir := range t {
				switch dir {
				case "asc", "desc":
				default:
					return nil, nil, errBadRequest("Sort direction must be 'asc' or 'desc'")
				}
				fields = append(fields, field)
				desc = append(desc, dir == "desc")
			}
		default:
			return nil, nil, errBadRequest("Invalid sort field")
		}
	}
	return fields, desc, nil
}

type findRequest struct {
	Selector       map[string]interface{} `json:"selector"`
	Limit          *int                   `json:"limit"`
	Skip           int                    `json:"skip"`
	Sort           []interface{}          `json:"sort"`
	Fields         []string               `json:"fields"`
	UseIndex       interface{}            `json:"use_index"`
	Bookmark       string                 `json:"bookmark"`
	ExecutionStats bool                   `json:"execution_stats"`
	R              int                    `json:"r"`
	Stable         bool                   `json:"stable"`
	Update         interface{}            `json:"update"`
	Stale          string                 `json:"stale"`
}

func (s *Server) bindFind(r *http.Request) (*findRequest, error) {
	req := &findRequest{}
	if err := s.bind(r, req); err != nil {
		return nil, err
	}
	if req.Selector == nil {
		return nil, &couchError{status: http.StatusBadRequest, Err: "missing_required_key", Reason: "Missing required key: selector"}
	}
	if req.Limit != nil && *req.Limit < 0 {
		return nil, errBadRequest("limit must be a non-negative integer")
	}
	if req.Skip < 0 {
		return nil, errBadRequest("skip must be a non-negative integer")
	}
	return req, nil
}

func (req *findRequest) limit() int {
	if req.Limit == nil {
		return defaultFindLimit
	}
	return *req.Limit
}

// chooseIndex returns the index named by use_index, or the first index whose
// fields all appear in the selector. It returns nil for _all_docs.
func (req *findRequest) chooseIndex(db *database) *index {
	var want string
	switch t := req.UseIndex.(type) {
	case string:
		want = t
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		want = strings.Join(parts, "/")
	}
	for _, idx := range db.indexes {
		if want != "" {
			if want == idx.ddoc || want == strings.TrimPrefix(idx.ddoc, prefixDesign) ||
				want == idx.ddoc+"/"+idx.name || want == strings.TrimPrefix(idx.ddoc, prefixDesign)+"/"+idx.name {
				return idx
			}
			continue
		}
		covered := true
		for _, field := range idx.fields {
			if _, ok := req.Selector[field]; !ok {
				covered = false
				break
			}
		}
		if covered {
			return idx
		}
	}
	return nil
}

func (req *findRequest) warning(idx *index) string {
	switch {
	case req.UseIndex != nil && idx == nil:
		return prefixDesign + strings.TrimPrefix(toString(req.UseIndex), prefixDesign) +
			" was not used because it does not contain a valid index for this query. No matching index found, create an index to optimize query time."
	case idx == nil:
		return "No matching index found, create an index to optimize query time."
	}
	return ""
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, toString(p))
		}
		return strings.Join(parts, "/")
	}
	return ""
}

func encodeBookmark(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeBookmark(bookmark string) (int, error) {
	if bookmark == "" || bookmark == "nil" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(bookmark)
	if err != nil {
		return 0, &couchError{status: http.StatusBadRequest, Err: "invalid_bookmark", Reason: "Invalid bookmark value: " + bookmark}
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, &couchError{status: http.StatusBadRequest, Err: "invalid_bookmark", Reason: "Invalid bookmark value: " + bookmark}
	}
	return offset, nil
}

// execute returns every matching document, sorted.
func (req *findRequest) execute(db *database) ([]*document, int, error) {
	docs := db.liveDocs(false)
	matched := make([]*document, 0, len(docs))
	for _, doc := range docs {
		ok, err := matches(field{value: doc.toJSON(), exists: true}, req.Selector)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			matched = append(matched, doc)
		}
	}
	if len(req.Sort) > 0 {
		fields, desc, err := sortFields(req.Sort)
		if err != nil {
			return nil, 0, err
		}
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := field{value: matched[i].toJSON(), exists: true}, field{value: matched[j].toJSON(), exists: true}
			for n, name := range fields {
				c := collate.CompareObject(a.lookup(name).value, b.lookup(name).value)
				if desc[n] {
					c = -c
				}
				if c != 0 {
					return c < 0
				}
			}
			return false
		})
	}
	return matched, len(docs), nil
}

func (s *Server) find() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		req, err := s.bindFind(r)
		if err != nil {
			return err
		}
		offset, err := decodeBookmark(req.Bookmark)
		if err != nil {
			return err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		matched, examined, err := req.execute(db)
		if err != nil {
			return err
		}
		start := offset + req.Skip
		if start > len(matched) {
			start = len(matched)
		}
		end := start + req.limit()
		if end > len(matched) {
			end = len(matched)
		}
		docs := make([]map[string]interface{}, 0, end-start)
		for _, doc := range matched[start:end] {
			docs = append(docs, project(doc.toJSON(), req.Fields))
		}
		resp := map[string]interface{}{
			"docs":     docs,
			"bookmark": encodeBookmark(end),
		}
		if warning := req.warning(req.chooseIndex(db)); warning != "" {
			resp["warning"] = warning
		}
		if req.ExecutionStats {
			resp["execution_stats"] = map[string]interface{}{
				"total_keys_examined":        0,
				"total_docs_examined":        examined,
				"total_quorum_docs_examined": 0,
				"results_returned":           len(docs),
				"execution_time_ms":          0.0,
			}
		}
		return serveJSON(w, http.StatusOK, resp)
	})
}

func (s *Server) explain() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		req, err := s.bindFind(r)
		if err != nil {
			return err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		idx := allDocsIndex
		if chosen := req.chooseIndex(db); chosen != nil {
			idx = chosen.toJSON()
		}
		var fields interface{} = "all_fields"
		if len(req.Fields) > 0 {
			fields = req.Fields
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"dbname":   db.name,
			"index":    idx,
			"selector": req.Selector,
			"opts": map[string]interface{}{
				"use_index": []string{},
				"bookmark":  "nil",
				"limit":     req.limit(),
				"skip":      req.Skip,
				"sort":      map[string]interface{}{},
				"fields":    fields,
				"r":         []int{1},
				"conflicts": false,
			},
			"limit":  req.limit(),
			"skip":   req.Skip,
			"fields": fields,
			"range": map[string]interface{}{
				"start_key": nil,
				"end_key":   "\xef\xbf\xbd",
			},
		})
	})
}

func (s *Server) getIndexes() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		indexes := []map[string]interface{}{allDocsIndex}
		for _, idx := range db.indexes {
			indexes = append(indexes, idx.toJSON())
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"total_rows": len(indexes),
			"indexes":    indexes,
		})
	})
}

func (s *Server) createIndex() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var req struct {
			Index struct {
				Fields []interface{} `json:"fields"`
			} `json:"index"`
			DDoc string `json:"ddoc"`
			Name string `json:"name"`
			Type string `json:"type"`
		}
		if err := s.bind(r, &req); err != nil {
			return err
		}
		if len(req.Index.Fields) == 0 {
			return &couchError{status: http.StatusBadRequest, Err: "missing_required_key", Reason: "Missing required key: fields"}
		}
		if req.Type != "" && req.Type != "json" {
			return errBadRequest("Unsupported index type: " + req.Type)
		}
		fields, _, err := sortFields(req.Index.Fields)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		idx := &index{
			ddoc:   req.DDoc,
			name:   req.Name,
			fields: fields,
		}
		if idx.ddoc == "" {
			idx.ddoc = newID()
		}
		if !strings.HasPrefix(idx.ddoc, prefixDesign) {
			idx.ddoc = prefixDesign + idx.ddoc
		}
		if idx.name == "" {
			idx.name = newID()
		}
		result := "created"
		for _, existing := range db.indexes {
			if existing.ddoc == idx.ddoc && existing.name == idx.name {
				result = "exists"
				idx = existing
			}
		}
		if result == "created" {
			db.indexes = append(db.indexes, idx)
		}
		return serveJSON(w, http.StatusOK, map[string]string{
			"result": result,
			"id":     idx.ddoc,
			"name":   idx.name,
		})
	})
}

func (s *Server) deleteIndex() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		ddoc := prefixDesign + strings.TrimPrefix(param(r, "ddoc"), prefixDesign)
		name := param(r, "name")
		for i, idx := range db.indexes {
			if idx.ddoc == ddoc && idx.name == name {
				db.indexes = append(db.indexes[:i], db.indexes[i+1:]...)
				return serveJSON(w, http.StatusOK, map[string]bool{"ok": true})
			}
		}
		return &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "Index not found"}
	})
}

// field is a value looked up in a document, which may not exist.
type field struct {
	value  interface{}
	exists bool
}

// lookup resolves a dotted field path, such as "address.city".
func (f field) lookup(path string) field {
	if !f.exists {
		return f
	}
	parts := strings.Split(path, ".")
	keys := make([]interface{}, len(parts))
	for i, part := range parts {
		keys[i] = part
	}
	v, err := dyno.Get(f.value, keys...)
	if err != nil {
		return field{}
	}
	return field{value: v, exists: true}
}

// matches reports whether f satisfies cond, which is either an operator
// object, an object of sub-field conditions, or a value for implicit
// equality.
func matches(f field, cond interface{}) (bool, error) {
	c, ok := cond.(map[string]interface{})
	if !ok {
		return operator(f, "$eq", cond)
	}
	if len(c) == 0 && f.exists {
		if _, isObject := f.value.(map[string]interface{}); !isObject {
			return false, nil
		}
	}
	for key, arg := range c {
		var (
			ok  bool
			err error
		)
		switch {
		case key == "$and", key == "$or", key == "$nor":
			ok, err = combine(f, key, arg)
		case key == "$not":
			ok, err = matches(f, arg)
			ok = !ok
		case strings.HasPrefix(key, "$"):
			ok, err = operator(f, key, arg)
		default:
			ok, err = matches(f.lookup(key), arg)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func combine(f field, op string, arg interface{}) (bool, error) {
	list, ok := arg.([]interface{})
	if !ok {
		return false, invalidOperator(op, "array")
	}
	for _, cond := range list {
		ok, err := matches(f, cond)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$or" && ok:
			return true, nil
		case op == "$and" && !ok, op == "$nor" && ok:
			return false, nil
		}
	}
	return op != "$or", nil
}

func invalidOperator(op, want string) error {
	return &couchError{status: http.StatusBadRequest, Err: "invalid_operator", Reason: "Invalid operator value for " + op + ": expected " + want}
}

func operator(f field, op string, arg interface{}) (bool, error) {
	if op == "$exists" {
		want, ok := arg.(bool)
		if !ok {
			return false, invalidOperator(op, "boolean")
		}
		return f.exists == want, nil
	}
	switch op {
	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
		if !f.exists {
			return false, nil
		}
		c := collate.CompareObject(f.value, arg)
		switch op {
		case "$eq":
			return c == 0, nil
		case "$ne":
			return c != 0, nil
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		}
		return c <= 0, nil
	case "$in", "$nin":
		list, ok := arg.([]interface{})
		if !ok {
			return false, invalidOperator(op, "array")
		}
		if !f.exists {
			return false, nil
		}
		found := false
		for _, v := range list {
			if collate.CompareObject(f.value, v) == 0 {
				found = true
				break
			}
		}
		return found == (op == "$in"), nil
	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			return false, invalidOperator(op, "string")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, invalidOperator(op, "valid regular expression")
		}
		s, ok := f.value.(string)
		return f.exists && ok && re.MatchString(s), nil
	case "$size":
		n, ok := arg.(float64)
		if !ok {
			return false, invalidOperator(op, "integer")
		}
		list, ok := f.value.([]interface{})
		return f.exists && ok && float64(len(list)) == n, nil
	case "$all":
		want, ok := arg.([]interface{})
		if !ok {
			return false, invalidOperator(op, "array")
		}
		list, ok := f.value.([]interface{})
		if !f.exists || !ok {
			return false, nil
		}
		for _, w := range want {
			found := false
			for _, v := range list {
				if collate.CompareObject(v, w) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		}
		return true, nil
	case "$elemMatch":
		list, ok := f.value.([]interface{})
		if !f.exists || !ok {
			return false, nil
		}
		for _, v := range list {
			ok, err := matches(field{value: v, exists: true}, arg)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	return false, &couchError{status: http.StatusBadRequest, Err: "invalid_operator", Reason: "Invalid operator: " + op}
}

// project returns only the named fields of doc. Dotted paths select nested
// fields.
func project(doc map[string]interface{}, fields []string) map[string]interface{} {
	if len(fields) == 0 {
		return doc
	}
	out := map[string]interface{}{}
	for _, name := range fields {
		f := field{value: doc, exists: true}.lookup(name)
		if !f.exists {
			continue
		}
		parts := strings.Split(name, ".")
		target := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := target[part].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				target[part] = next
			}
			target = next
		}
		target[parts[len(parts)-1]] = f.value
	}
	return out
}
