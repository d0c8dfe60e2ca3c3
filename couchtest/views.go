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
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"gitlab.com/flimzy/httpe"

	"github.com/go-kivik/sofa/internal/collate"
)

// MapFunc is a view map function. It is called once for each live,
// non-design document, and may call emit any number of times. Keys and
// values are normalized through JSON, so emit(1, nil) produces the key 1.0.
type MapFunc func(doc map[string]interface{}, emit func(key, value interface{}))

// Built-in reduce functions supported by [Server.AddView].
const (
	ReduceCount = "_count"
	ReduceSum   = "_sum"
)

type view struct {
	mapFn  MapFunc
	reduce string
}

// AddView registers the view _design/ddoc/_view/name in the named database.
// An optional built-in reduce function, [ReduceCount] or [ReduceSum], may be
// given.
func (s *Server) AddView(dbName, ddoc, name string, m MapFunc, reduce ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		return errNoDB
	}
	v := &view{mapFn: m}
	if len(reduce) > 0 {
		switch reduce[0] {
		case ReduceCount, ReduceSum:
			v.reduce = reduce[0]
		default:
			return errBadRequest("unsupported reduce function " + reduce[0])
		}
	}
	db.views[ddoc+"/"+name] = v
	return nil
}

type viewRow struct {
	id    string
	key   interface{}
	value interface{}
	doc   *document
}

type rowJSON struct {
	ID    string      `json:"id,omitempty"`
	Key   interface{} `json:"key"`
	Value interface{} `json:"value,omitempty"`
	Doc   interface{} `json:"doc,omitempty"`
	Error string      `json:"error,omitempty"`
}

// normalize converts v to the generic form it takes after a JSON round
// trip.
func normalize(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out interface{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func (v *view) rows(db *database) []*viewRow {
	var rows []*viewRow
	for _, doc := range db.liveDocs(false) {
		doc := doc
		v.mapFn(doc.toJSON(), func(key, value interface{}) {
			rows = append(rows, &viewRow{
				id:    doc.id,
				key:   normalize(key),
				value: normalize(value),
				doc:   doc,
			})
		})
	}
	sortRows(rows, collate.CompareObject)
	return rows
}

func sortRows(rows []*viewRow, cmp func(a, b interface{}) int) {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := cmp(rows[i].key, rows[j].key); c != 0 {
			return c < 0
		}
		return rows[i].id < rows[j].id
	})
}

// compareRaw orders string keys by byte value, as _all_docs does.
func compareRaw(a, b interface{}) int {
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return collate.CompareObject(a, b)
	}
	return strings.Compare(as, bs)
}

type viewParams struct {
	keys         []interface{}
	hasKeys      bool
	startKey     interface{}
	hasStart     bool
	endKey       interface{}
	hasEnd       bool
	startDocID   string
	endDocID     string
	inclusiveEnd bool
	descending   bool
	skip         int
	limit        int
	includeDocs  bool
	updateSeq    bool
	reduce       bool
	group        bool
	groupLevel   int
}

func queryParseError(reason string) error {
	return &couchError{status: http.StatusBadRequest, Err: "query_parse_error", Reason: reason}
}

func jsonParam(query url.Values, names ...string) (interface{}, bool, error) {
	for _, name := range names {
		if raw, ok := query[name]; ok && len(raw) > 0 {
			var v interface{}
			if err := json.Unmarshal([]byte(raw[0]), &v); err != nil {
				return nil, false, queryParseError("Invalid value for JSON parameter " + name)
			}
			return v, true, nil
		}
	}
	return nil, false, nil
}

func boolParam(query url.Values, name string, def bool) (bool, error) {
	raw := query.Get(name)
	switch raw {
	case "":
		return def, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, queryParseError("Invalid boolean parameter: " + name + "=" + raw)
}

func intParam(query url.Values, name string, def int) (int, error) {
	raw := query.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, queryParseError("Invalid value for " + name + ": " + raw)
	}
	return n, nil
}

func (s *Server) parseViewParams(r *http.Request) (*viewParams, error) {
	query := r.URL.Query()
	p := &viewParams{limit: -1}
	var err error
	if r.Method == http.MethodPost {
		var body struct {
			Keys []interface{} `json:"keys"`
		}
		if err := s.bind(r, &body); err != nil {
			return nil, err
		}
		p.keys, p.hasKeys = body.Keys, body.Keys != nil
	}
	if keys, ok, err := jsonParam(query, "keys"); err != nil {
		return nil, err
	} else if ok {
		list, isList := keys.([]interface{})
		if !isList {
			return nil, queryParseError("`keys` member must be an array.")
		}
		p.keys, p.hasKeys = list, true
	}
	if p.startKey, p.hasStart, err = jsonParam(query, "startkey", "start_key"); err != nil {
		return nil, err
	}
	if p.endKey, p.hasEnd, err = jsonParam(query, "endkey", "end_key"); err != nil {
		return nil, err
	}
	if key, ok, err := jsonParam(query, "key"); err != nil {
		return nil, err
	} else if ok {
		p.startKey, p.hasStart = key, true
		p.endKey, p.hasEnd = key, true
	}
	p.startDocID = query.Get("startkey_docid")
	if p.startDocID == "" {
		p.startDocID = query.Get("start_key_doc_id")
	}
	p.endDocID = query.Get("endkey_docid")
	if p.endDocID == "" {
		p.endDocID = query.Get("end_key_doc_id")
	}
	if p.inclusiveEnd, err = boolParam(query, "inclusive_end", true); err != nil {
		return nil, err
	}
	if p.descending, err = boolParam(query, "descending", false); err != nil {
		return nil, err
	}
	if p.includeDocs, err = boolParam(query, "include_docs", false); err != nil {
		return nil, err
	}
	if p.updateSeq, err = boolParam(query, "update_seq", false); err != nil {
		return nil, err
	}
	if p.reduce, err = boolParam(query, "reduce", true); err != nil {
		return nil, err
	}
	if p.group, err = boolParam(query, "group", false); err != nil {
		return nil, err
	}
	if p.groupLevel, err = intParam(query, "group_level", 0); err != nil {
		return nil, err
	}
	if p.skip, err = intParam(query, "skip", 0); err != nil {
		return nil, err
	}
	if p.limit, err = intParam(query, "limit", -1); err != nil {
		return nil, err
	}
	if p.hasKeys && (p.hasStart || p.hasEnd) {
		return nil, queryParseError("`keys` is incompatible with `key`, `start_key` and `end_key`")
	}
	return p, nil
}

// selectRange applies the key range, direction, skip and limit to the sorted
// rows. It returns the selected rows and the offset of the first one.
func (p *viewParams) selectRange(rows []*viewRow, cmp func(a, b interface{}) int) ([]*viewRow, int) {
	dir := 1
	if p.descending {
		dir = -1
		reversed := make([]*viewRow, len(rows))
		for i, row := range rows {
			reversed[len(rows)-1-i] = row
		}
		rows = reversed
	}
	compare := func(row *viewRow, key interface{}, docID string) int {
		if c := cmp(row.key, key); c != 0 {
			return dir * c
		}
		if docID == "" {
			return 0
		}
		return dir * strings.Compare(row.id, docID)
	}
	start := 0
	if p.hasStart {
		for start < len(rows) && compare(rows[start], p.startKey, p.startDocID) < 0 {
			start++
		}
	}
	selected := make([]*viewRow, 0)
	for _, row := range rows[start:] {
		if p.hasEnd {
			c := compare(row, p.endKey, p.endDocID)
			if c > 0 || (c == 0 && !p.inclusiveEnd) {
				break
			}
		}
		selected = append(selected, row)
	}
	return p.page(selected), start + p.skip
}

func (p *viewParams) page(rows []*viewRow) []*viewRow {
	lo, hi := p.window(len(rows))
	return rows[lo:hi]
}

// window returns the bounds of the rows selected by skip and limit, out of n.
func (p *viewParams) window(n int) (lo, hi int) {
	lo, hi = p.skip, n
	if lo > n {
		lo = n
	}
	if p.limit >= 0 && lo+p.limit < hi {
		hi = lo + p.limit
	}
	return lo, hi
}

// selectKeys returns the rows matching each of the requested keys, in the
// order of the keys. If missing is true, keys with no rows yield an error
// row.
func (p *viewParams) selectKeys(rows []*viewRow, cmp func(a, b interface{}) int, missing bool) []*viewRow {
	selected := make([]*viewRow, 0, len(p.keys))
	for _, key := range p.keys {
		var found bool
		for _, row := range rows {
			if cmp(row.key, key) == 0 {
				selected = append(selected, row)
				found = true
			}
		}
		if !found && missing {
			selected = append(selected, &viewRow{key: key})
		}
	}
	return selected
}

func (p *viewParams) rowJSON(db *database, row *viewRow) rowJSON {
	if row.doc == nil {
		return rowJSON{Key: row.key, Error: "not_found"}
	}
	out := rowJSON{ID: row.id, Key: row.key, Value: row.value}
	if out.Value == nil {
		out.Value = json.RawMessage("null")
	}
	if p.includeDocs {
		doc := row.doc
		// Emitting {"_id": x} links the row to document x.
		if v, ok := row.value.(map[string]interface{}); ok {
			if id, ok := v["_id"].(string); ok {
				doc = db.docs[id]
			}
		}
		if doc != nil && !doc.deleted {
			out.Doc = doc.toJSON()
		} else {
			out.Doc = json.RawMessage("null")
		}
	}
	return out
}

func (s *Server) queryView() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		p, err := s.parseViewParams(r)
		if err != nil {
			return err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		v, ok := db.views[param(r, "docid")+"/"+param(r, "view")]
		if !ok {
			return &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "missing_named_view"}
		}
		rows := v.rows(db)
		if v.reduce != "" && p.reduce {
			if p.includeDocs {
				return queryParseError("`include_docs` is invalid for reduce")
			}
			return serveJSON(w, http.StatusOK, map[string]interface{}{
				"rows": p.reduceRows(v.reduce, rows),
			})
		}
		return s.serveRows(w, db, p, rows, len(rows), false, collate.CompareObject)
	})
}

// serveRows serves the selected rows of a view. missing is true for
// _all_docs, which reports requested keys that match no document.
func (s *Server) serveRows(w http.ResponseWriter, db *database, p *viewParams, rows []*viewRow, total int, missing bool, cmp func(a, b interface{}) int) error {
	var selected []*viewRow
	offset := 0
	if p.hasKeys {
		selected = p.page(p.selectKeys(rows, cmp, missing))
	} else {
		selected, offset = p.selectRange(rows, cmp)
	}
	if offset > total {
		offset = total
	}
	out := make([]rowJSON, len(selected))
	for i, row := range selected {
		out[i] = p.rowJSON(db, row)
	}
	resp := map[string]interface{}{
		"total_rows": total,
		"offset":     offset,
		"rows":       out,
	}
	if p.updateSeq {
		resp["update_seq"] = seqString(db.seq)
	}
	return serveJSON(w, http.StatusOK, resp)
}

// reduceRows applies the built-in reduce function to the rows in range.
func (p *viewParams) reduceRows(fn string, rows []*viewRow) []rowJSON {
	var inRange []*viewRow
	if p.hasKeys {
		inRange = p.selectKeys(rows, collate.CompareObject, false)
	} else {
		all := *p
		all.skip, all.limit = 0, -1
		inRange, _ = all.selectRange(rows, collate.CompareObject)
	}

	type group struct {
		key  interface{}
		rows []*viewRow
	}
	var groups []*group
	for _, row := range inRange {
		key := p.groupKey(row.key)
		if n := len(groups); n > 0 && collate.CompareObject(groups[n-1].key, key) == 0 {
			groups[n-1].rows = append(groups[n-1].rows, row)
			continue
		}
		groups = append(groups, &group{key: key, rows: []*viewRow{row}})
	}
	out := make([]rowJSON, 0, len(groups))
	for _, g := range groups {
		out = append(out, rowJSON{Key: g.key, Value: reduceValues(fn, g.rows)})
	}
	lo, hi := p.window(len(out))
	return out[lo:hi]
}

func (p *viewParams) groupKey(key interface{}) interface{} {
	switch {
	case p.group:
		return key
	case p.groupLevel > 0:
		if list, ok := key.([]interface{}); ok && len(list) > p.groupLevel {
			return list[:p.groupLevel]
		}
		return key
	}
	return nil
}

func reduceValues(fn string, rows []*viewRow) interface{} {
	if fn == ReduceCount {
		return len(rows)
	}
	var sum float64
	for _, row := range rows {
		if n, ok := row.value.(float64); ok {
			sum += n
		}
	}
	return sum
}

func (s *Server) allDocs() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		p, err := s.parseViewParams(r)
		if err != nil {
			return err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		var rows []*viewRow
		total := len(db.liveDocs(true))
		if p.hasKeys {
			// Deleted documents are reported when requested by key.
			for id, doc := range db.docs {
				if doc.local() {
					continue
				}
				value := map[string]interface{}{"rev": doc.rev}
				if doc.deleted {
					value["deleted"] = true
				}
				rows = append(rows, &viewRow{id: id, key: id, value: value, doc: doc})
			}
			sortRows(rows, compareRaw)
		} else {
			for _, doc := range db.liveDocs(true) {
				rows = append(rows, &viewRow{
					id:    doc.id,
					key:   doc.id,
					value: map[string]interface{}{"rev": doc.rev},
					doc:   doc,
				})
			}
		}
		return s.serveRows(w, db, p, rows, total, true, compareRaw)
	})
}
