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
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"gitlab.com/flimzy/testy"
)

const (
	testAdmin    = "admin"
	testPassword = "abc123"
)

func basicAuth(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// people fills the database "people" with four documents, and registers
// the views people/by_age and people/by_team.
func people(t *testing.T, s *Server) {
	t.Helper()
	if err := s.CreateDB("people"); err != nil {
		t.Fatal(err)
	}
	for _, doc := range []map[string]interface{}{
		{"_id": "alice", "name": "Alice", "age": 30, "team": "red"},
		{"_id": "bob", "name": "Bob", "age": 25, "team": "blue"},
		{"_id": "carol", "name": "Carol", "age": 35, "team": "red"},
		{"_id": "dave", "name": "Dave", "age": 40, "team": "blue"},
	} {
		if _, err := s.PutDoc("people", doc); err != nil {
			t.Fatal(err)
		}
	}
	byAge := func(doc map[string]interface{}, emit func(key, value interface{})) {
		emit(doc["age"], nil)
	}
	if err := s.AddView("people", "people", "by_age", byAge); err != nil {
		t.Fatal(err)
	}
	byTeam := func(doc map[string]interface{}, emit func(key, value interface{})) {
		emit(doc["team"], nil)
	}
	if err := s.AddView("people", "people", "by_team", byTeam, ReduceCount); err != nil {
		t.Fatal(err)
	}
}

type serverTest struct {
	name       string
	options    []Option
	init       func(t *testing.T, s *Server)
	method     string
	path       string
	headers    map[string]string
	body       string
	wantStatus int
	wantJSON   interface{}
	wantBodyRE string
	check      func(t *testing.T, s *Server, body []byte)
}

type serverTests []serverTest

func (tests serverTests) Run(t *testing.T) {
	t.Helper()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(tt.options...)
			if tt.init != nil {
				tt.init(t, s)
			}
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)

			res := rec.Result()
			body, err := io.ReadAll(res.Body)
			if err != nil {
				t.Fatal(err)
			}
			if res.StatusCode != tt.wantStatus {
				t.Errorf("Unexpected response status: %d %s\n%s", res.StatusCode, http.StatusText(res.StatusCode), body)
			}
			if tt.wantBodyRE != "" {
				if !regexp.MustCompile(tt.wantBodyRE).Match(body) {
					t.Errorf("Unexpected response body:\n%s", body)
				}
			}
			if tt.wantJSON != nil {
				if d := testy.DiffAsJSON(tt.wantJSON, bytes.NewReader(body)); d != nil {
					t.Error(d)
				}
			}
			if tt.check != nil {
				tt.check(t, s, body)
			}
		})
	}
}

func TestServer(t *testing.T) {
	t.Parallel()

	tests := serverTests{
		{
			name:       "root",
			method:     http.MethodGet,
			path:       "/",
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"couchdb":  "Welcome",
				"vendor":   map[string]string{"name": "sofa couchtest"},
				"version":  Version,
				"features": []string{"access-ready", "partitioned"},
			},
		},
		{
			name:       "all dbs",
			init:       people,
			method:     http.MethodGet,
			path:       "/_all_dbs",
			wantStatus: http.StatusOK,
			wantJSON:   []string{"_users", "people"},
		},
		{
			name:       "uuids",
			method:     http.MethodGet,
			path:       "/_uuids?count=3",
			wantStatus: http.StatusOK,
			wantBodyRE: `^\{"uuids":\["[0-9a-f]{32}","[0-9a-f]{32}","[0-9a-f]{32}"\]\}`,
		},
		{
			name:       "uuids, too many",
			method:     http.MethodGet,
			path:       "/_uuids?count=1001",
			wantStatus: http.StatusBadRequest,
			wantJSON: map[string]string{
				"error":  "bad_request",
				"reason": "count must not exceed 1000",
			},
		},
		{
			name:       "stats",
			method:     http.MethodGet,
			path:       "/_node/_local/_stats/couchdb/httpd_request_methods/GET",
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"value": 1,
				"type":  "counter",
				"desc":  "number of HTTP GET requests",
			},
		},
		{
			name:       "unknown stat",
			method:     http.MethodGet,
			path:       "/_node/_local/_stats/couchdb/bogus",
			wantStatus: http.StatusNotFound,
			wantJSON: map[string]string{
				"error":  "not_found",
				"reason": "Unknown stat couchdb/bogus",
			},
		},
		{
			name:       "config key",
			method:     http.MethodGet,
			path:       "/_node/_local/_config/uuids/max_count",
			wantStatus: http.StatusOK,
			wantJSON:   "1000",
		},
		{
			name:       "create db",
			method:     http.MethodPut,
			path:       "/newdb",
			wantStatus: http.StatusCreated,
			wantJSON:   map[string]bool{"ok": true},
			check: func(t *testing.T, s *Server, _ []byte) {
				t.Helper()
				if err := s.CreateDB("newdb"); err != errDBExists {
					t.Errorf("Expected the database to exist, got %v", err)
				}
			},
		},
		{
			name:       "create db, exists",
			init:       people,
			method:     http.MethodPut,
			path:       "/people",
			wantStatus: http.StatusPreconditionFailed,
			wantJSON: map[string]string{
				"error":  "file_exists",
				"reason": "The database could not be created, the file already exists.",
			},
		},
		{
			name:       "create db, illegal name",
			method:     http.MethodPut,
			path:       "/BadName",
			wantStatus: http.StatusBadRequest,
			wantBodyRE: `"error":"illegal_database_name"`,
		},
		{
			name:       "db info, missing",
			method:     http.MethodGet,
			path:       "/missing",
			wantStatus: http.StatusNotFound,
			wantJSON: map[string]string{
				"error":  "not_found",
				"reason": "Database does not exist.",
			},
		},
		{
			name:       "db info",
			init:       people,
			method:     http.MethodGet,
			path:       "/people",
			wantStatus: http.StatusOK,
			wantBodyRE: `"doc_count":4,"doc_del_count":0`,
		},
		{
			name:       "get doc",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/bob",
			wantStatus: http.StatusOK,
			wantBodyRE: `^\{"_id":"bob","_rev":"1-[0-9a-f]{32}","age":25,"name":"Bob","team":"blue"\}`,
		},
		{
			name:       "get doc, missing",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/zed",
			wantStatus: http.StatusNotFound,
			wantJSON: map[string]string{
				"error":  "not_found",
				"reason": "missing",
			},
		},
		{
			name:       "head doc, missing",
			init:       people,
			method:     http.MethodHead,
			path:       "/people/zed",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "put doc, conflict",
			init:       people,
			method:     http.MethodPut,
			path:       "/people/bob",
			body:       `{"name":"Robert"}`,
			wantStatus: http.StatusConflict,
			wantJSON: map[string]string{
				"error":  "conflict",
				"reason": "Document update conflict.",
			},
		},
		{
			name:       "post doc",
			init:       people,
			method:     http.MethodPost,
			path:       "/people",
			body:       `{"name":"Eve"}`,
			wantStatus: http.StatusCreated,
			wantBodyRE: `^\{"id":"[0-9a-f]{32}","ok":true,"rev":"1-[0-9a-f]{32}"\}`,
		},
		{
			name:       "bulk docs",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_bulk_docs",
			body:       `{"docs":[{"_id":"bob"},{"_id":"eve"}]}`,
			wantStatus: http.StatusCreated,
			wantBodyRE: `^\[\{"error":"conflict","id":"bob","reason":"Document update conflict."\},\{"id":"eve","ok":true,"rev":"1-[0-9a-f]{32}"\}\]`,
		},
		{
			name:       "all docs, missing key",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_all_docs",
			body:       `{"keys":["zed"]}`,
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"total_rows": 4,
				"offset":     0,
				"rows": []interface{}{
					map[string]string{"key": "zed", "error": "not_found"},
				},
			},
		},
		{
			name:       "all docs, range",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_all_docs?startkey=%22b%22&endkey=%22c%22",
			wantStatus: http.StatusOK,
			wantBodyRE: `^\{"offset":1,"rows":\[\{"id":"bob","key":"bob","value":\{"rev":"1-[0-9a-f]{32}"\}\}\],"total_rows":4\}`,
		},
		{
			name:       "view, range",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_design/people/_view/by_age?startkey=30&endkey=35",
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"total_rows": 4,
				"offset":     1,
				"rows": []interface{}{
					map[string]interface{}{"id": "alice", "key": 30, "value": nil},
					map[string]interface{}{"id": "carol", "key": 35, "value": nil},
				},
			},
		},
		{
			name:       "view, exclusive end",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_design/people/_view/by_age?endkey=30&inclusive_end=false",
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"total_rows": 4,
				"offset":     0,
				"rows": []interface{}{
					map[string]interface{}{"id": "bob", "key": 25, "value": nil},
				},
			},
		},
		{
			name:       "view, descending with limit",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_design/people/_view/by_age?descending=true&limit=2",
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"total_rows": 4,
				"offset":     0,
				"rows": []interface{}{
					map[string]interface{}{"id": "dave", "key": 40, "value": nil},
					map[string]interface{}{"id": "carol", "key": 35, "value": nil},
				},
			},
		},
		{
			name:       "view, skip",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_design/people/_view/by_age?skip=1&limit=1",
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"total_rows": 4,
				"offset":     1,
				"rows": []interface{}{
					map[string]interface{}{"id": "alice", "key": 30, "value": nil},
				},
			},
		},
		{
			name:       "view, keys",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_design/people/_view/by_age",
			body:       `{"keys":[40,25,99]}`,
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"total_rows": 4,
				"offset":     0,
				"rows": []interface{}{
					map[string]interface{}{"id": "dave", "key": 40, "value": nil},
					map[string]interface{}{"id": "bob", "key": 25, "value": nil},
				},
			},
		},
		{
			name:       "view, keys with startkey",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_design/people/_view/by_age?startkey=30",
			body:       `{"keys":[40,25]}`,
			wantStatus: http.StatusBadRequest,
			wantJSON: map[string]string{
				"error":  "query_parse_error",
				"reason": "`keys` is incompatible with `key`, `start_key` and `end_key`",
			},
		},
		{
			name:       "view, keys with skip and limit",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_design/people/_view/by_age?skip=1&limit=1",
			body:       `{"keys":[40,25,99]}`,
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"total_rows": 4,
				"offset":     0,
				"rows": []interface{}{
					map[string]interface{}{"id": "bob", "key": 25, "value": nil},
				},
			},
		},
		{
			name:       "view, invalid JSON key",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_design/people/_view/by_age?key=bob",
			wantStatus: http.StatusBadRequest,
			wantJSON: map[string]string{
				"error":  "query_parse_error",
				"reason": "Invalid value for JSON parameter key",
			},
		},
		{
			name:       "view, reduce",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_design/people/_view/by_team",
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"rows": []interface{}{
					map[string]interface{}{"key": nil, "value": 4},
				},
			},
		},
		{
			name:       "view, reduce grouped",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_design/people/_view/by_team?group=true",
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"rows": []interface{}{
					map[string]interface{}{"key": "blue", "value": 2},
					map[string]interface{}{"key": "red", "value": 2},
				},
			},
		},
		{
			name:       "view, missing",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_design/people/_view/bogus",
			wantStatus: http.StatusNotFound,
			wantJSON: map[string]string{
				"error":  "not_found",
				"reason": "missing_named_view",
			},
		},
		{
			name:       "find",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_find",
			body:       `{"selector":{"age":{"$gte":30}},"fields":["_id","name"],"sort":[{"age":"desc"}],"limit":2}`,
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"docs": []interface{}{
					map[string]string{"_id": "dave", "name": "Dave"},
					map[string]string{"_id": "carol", "name": "Carol"},
				},
				"bookmark": "Mg",
				"warning":  "No matching index found, create an index to optimize query time.",
			},
		},
		{
			name:       "find, next page",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_find",
			body:       `{"selector":{"age":{"$gte":30}},"fields":["_id"],"sort":[{"age":"desc"}],"limit":2,"bookmark":"Mg"}`,
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"docs": []interface{}{
					map[string]string{"_id": "alice"},
				},
				"bookmark": "Mw",
				"warning":  "No matching index found, create an index to optimize query time.",
			},
		},
		{
			name:       "find, combination operators",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_find",
			body:       `{"selector":{"$or":[{"name":{"$regex":"^A"}},{"team":"blue"}]},"fields":["_id"]}`,
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"docs": []interface{}{
					map[string]string{"_id": "alice"},
					map[string]string{"_id": "bob"},
					map[string]string{"_id": "dave"},
				},
				"bookmark": "Mw",
				"warning":  "No matching index found, create an index to optimize query time.",
			},
		},
		{
			name: "find, with index",
			init: func(t *testing.T, s *Server) {
				t.Helper()
				people(t, s)
				s.dbs["people"].indexes = append(s.dbs["people"].indexes, &index{ddoc: "_design/idx", name: "team", fields: []string{"team"}})
			},
			method:     http.MethodPost,
			path:       "/people/_find",
			body:       `{"selector":{"team":"red","age":{"$lt":35}},"fields":["_id"]}`,
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"docs": []interface{}{
					map[string]string{"_id": "alice"},
				},
				"bookmark": "MQ",
			},
		},
		{
			name:       "find, missing selector",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_find",
			body:       `{"limit":2}`,
			wantStatus: http.StatusBadRequest,
			wantJSON: map[string]string{
				"error":  "missing_required_key",
				"reason": "Missing required key: selector",
			},
		},
		{
			name:       "find, invalid operator",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_find",
			body:       `{"selector":{"age":{"$bogus":1}}}`,
			wantStatus: http.StatusBadRequest,
			wantJSON: map[string]string{
				"error":  "invalid_operator",
				"reason": "Invalid operator: $bogus",
			},
		},
		{
			name:       "create index",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_index",
			body:       `{"index":{"fields":["age"]},"ddoc":"ages","name":"by-age"}`,
			wantStatus: http.StatusOK,
			wantJSON: map[string]string{
				"result": "created",
				"id":     "_design/ages",
				"name":   "by-age",
			},
			check: func(t *testing.T, s *Server, _ []byte) {
				t.Helper()
				if got := len(s.dbs["people"].indexes); got != 1 {
					t.Errorf("Expected 1 index, got %d", got)
				}
			},
		},
		{
			name:       "delete index, missing",
			init:       people,
			method:     http.MethodDelete,
			path:       "/people/_index/ages/json/by-age",
			wantStatus: http.StatusNotFound,
			wantJSON: map[string]string{
				"error":  "not_found",
				"reason": "Index not found",
			},
		},
		{
			name:       "changes",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_changes",
			wantStatus: http.StatusOK,
			check:      checkChanges([]string{"alice", "bob", "carol", "dave"}, "4", 0),
		},
		{
			name:       "changes, limit",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_changes?limit=2",
			wantStatus: http.StatusOK,
			check:      checkChanges([]string{"alice", "bob"}, "2", 2),
		},
		{
			name:       "changes, since",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_changes?since=3",
			wantStatus: http.StatusOK,
			check:      checkChanges([]string{"dave"}, "4", 0),
		},
		{
			name:       "changes, doc ids",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_changes?filter=_doc_ids",
			body:       `{"doc_ids":["bob"]}`,
			wantStatus: http.StatusOK,
			check:      checkChanges([]string{"bob"}, "4", 0),
		},
		{
			name:       "changes, selector",
			init:       people,
			method:     http.MethodPost,
			path:       "/people/_changes?filter=_selector",
			body:       `{"selector":{"team":"red"}}`,
			wantStatus: http.StatusOK,
			check:      checkChanges([]string{"alice", "carol"}, "4", 0),
		},
		{
			name:       "changes, unknown filter",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_changes?filter=app/bogus",
			wantStatus: http.StatusNotFound,
			wantJSON: map[string]string{
				"error":  "not_found",
				"reason": "missing filter app/bogus",
			},
		},
		{
			name:       "continuous changes",
			init:       people,
			method:     http.MethodGet,
			path:       "/people/_changes?feed=continuous&since=2&timeout=10",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, _ *Server, body []byte) {
				t.Helper()
				var ids []string
				var lastSeq string
				scanner := bufio.NewScanner(bytes.NewReader(body))
				for scanner.Scan() {
					var change struct {
						ID      string `json:"id"`
						LastSeq string `json:"last_seq"`
					}
					if err := json.Unmarshal(scanner.Bytes(), &change); err != nil {
						t.Fatal(err)
					}
					if change.LastSeq != "" {
						lastSeq = change.LastSeq
						continue
					}
					ids = append(ids, change.ID)
				}
				if d := testy.DiffInterface([]string{"carol", "dave"}, ids); d != nil {
					t.Error(d)
				}
				if lastSeq != "4" {
					t.Errorf("Unexpected last_seq: %s", lastSeq)
				}
			},
		},
		{
			name:       "replicate",
			init:       people,
			method:     http.MethodPost,
			path:       "/_replicate",
			body:       `{"source":"people","target":"http://localhost:5984/backup","create_target":true,"doc_ids":["alice","bob"]}`,
			wantStatus: http.StatusOK,
			wantBodyRE: `"docs_written":2`,
			check: func(t *testing.T, s *Server, _ []byte) {
				t.Helper()
				backup, ok := s.dbs["backup"]
				if !ok {
					t.Fatal("target database not created")
				}
				if backup.docs["alice"].rev != s.dbs["people"].docs["alice"].rev {
					t.Error("Replicated revision does not match the source")
				}
			},
		},
		{
			name:       "unauthorized",
			options:    []Option{WithAdmin(testAdmin, testPassword)},
			method:     http.MethodGet,
			path:       "/_all_dbs",
			wantStatus: http.StatusUnauthorized,
			wantJSON: map[string]string{
				"error":  "unauthorized",
				"reason": "You are not authorized to access this db.",
			},
		},
		{
			name:       "basic auth",
			options:    []Option{WithAdmin(testAdmin, testPassword)},
			method:     http.MethodGet,
			path:       "/_all_dbs",
			headers:    map[string]string{"Authorization": basicAuth(testAdmin, testPassword)},
			wantStatus: http.StatusOK,
			wantJSON:   []string{"_users"},
		},
		{
			name:       "basic auth, wrong password",
			options:    []Option{WithAdmin(testAdmin, testPassword)},
			method:     http.MethodGet,
			path:       "/_all_dbs",
			headers:    map[string]string{"Authorization": basicAuth(testAdmin, "wrong")},
			wantStatus: http.StatusUnauthorized,
			wantJSON: map[string]string{
				"error":  "unauthorized",
				"reason": "Name or password is incorrect.",
			},
		},
		{
			name:       "session, form",
			options:    []Option{WithAdmin(testAdmin, testPassword)},
			method:     http.MethodPost,
			path:       "/_session",
			headers:    map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
			body:       "name=admin&password=abc123",
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"ok":    true,
				"name":  testAdmin,
				"roles": []string{"_admin"},
			},
		},
		{
			name:       "session, unsupported content type",
			method:     http.MethodPost,
			path:       "/_session",
			headers:    map[string]string{"Content-Type": "text/plain"},
			body:       "admin:abc123",
			wantStatus: http.StatusUnsupportedMediaType,
			wantBodyRE: `"error":"bad_content_type"`,
		},
		{
			name:    "user login",
			options: []Option{WithAdmin(testAdmin, testPassword)},
			init: func(t *testing.T, s *Server) {
				t.Helper()
				if _, err := s.PutDoc("_users", map[string]interface{}{
					"_id":      "org.couchdb.user:bob",
					"name":     "bob",
					"type":     "user",
					"roles":    []interface{}{"reader"},
					"password": "secret",
				}); err != nil {
					t.Fatal(err)
				}
			},
			method:     http.MethodPost,
			path:       "/_session",
			body:       `{"name":"bob","password":"secret"}`,
			wantStatus: http.StatusOK,
			wantJSON: map[string]interface{}{
				"ok":    true,
				"name":  "bob",
				"roles": []string{"reader"},
			},
			check: func(t *testing.T, s *Server, _ []byte) {
				t.Helper()
				user := s.dbs["_users"].docs["org.couchdb.user:bob"]
				if _, ok := user.body["password"]; ok {
					t.Error("Plain text password was stored")
				}
			},
		},
	}
	tests.Run(t)
}

func checkChanges(wantIDs []string, wantLastSeq string, wantPending int) func(*testing.T, *Server, []byte) {
	return func(t *testing.T, _ *Server, body []byte) {
		t.Helper()
		var result struct {
			Results []struct {
				Seq     string `json:"seq"`
				ID      string `json:"id"`
				Changes []struct {
					Rev string `json:"rev"`
				} `json:"changes"`
			} `json:"results"`
			LastSeq string `json:"last_seq"`
			Pending int    `json:"pending"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatal(err)
		}
		ids := make([]string, 0, len(result.Results))
		for _, r := range result.Results {
			ids = append(ids, r.ID)
			if len(r.Changes) != 1 {
				t.Errorf("Expected one revision for %s, got %d", r.ID, len(r.Changes))
			}
		}
		if d := testy.DiffInterface(wantIDs, ids); d != nil {
			t.Error(d)
		}
		if result.LastSeq != wantLastSeq {
			t.Errorf("Unexpected last_seq: %s", result.LastSeq)
		}
		if result.Pending != wantPending {
			t.Errorf("Unexpected pending: %d", result.Pending)
		}
	}
}
