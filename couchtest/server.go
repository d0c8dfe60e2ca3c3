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

// Package couchtest provides an in-memory server which speaks enough of the
// CouchDB HTTP API to test clients against. Views are Go functions,
// registered with [Server.AddView].
package couchtest

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/monoculum/formam/v3"
	"gitlab.com/flimzy/httpe"

	internal "github.com/go-kivik/sofa/internal"
)

// Version is the CouchDB version reported by the server.
const Version = "3.3.3"

func init() {
	chi.RegisterMethod("COPY")
}

// Server is an in-memory CouchDB server. It is safe for concurrent use.
type Server struct {
	mux         *chi.Mux
	formDecoder *formam.Decoder

	mu       sync.RWMutex
	dbs      map[string]*database
	admin    *credentials
	sessions map[string]string // session token -> user name
	requests []string
	methods  map[string]int
}

type credentials struct {
	name       string
	salt       string
	derivedKey string
}

// Option configures a Server.
type Option interface {
	apply(*Server)
}

type adminOption struct {
	name, password string
}

func (o adminOption) apply(s *Server) {
	salt := newID()
	s.admin = &credentials{
		name:       o.name,
		salt:       salt,
		derivedKey: derivedKey(o.password, salt, pbkdf2Iterations),
	}
}

// WithAdmin creates a server admin, and disables the "admin party": all
// requests except to /, /_up, /_uuids and /_session must be authenticated.
func WithAdmin(name, password string) Option {
	return adminOption{name: name, password: password}
}

// New returns a new server, with an empty _users database.
func New(options ...Option) *Server {
	s := &Server{
		mux: chi.NewMux(),
		formDecoder: formam.NewDecoder(&formam.DecoderOptions{
			TagName: "form",
		}),
		dbs:      map[string]*database{"_users": newDatabase("_users")},
		sessions: map[string]string{},
		methods:  map[string]int{},
	}
	for _, option := range options {
		option.apply(s)
	}
	s.routes(s.mux)
	return s
}

// Start starts a new server listening on a local port, which is stopped when
// the test completes.
func Start(tb testing.TB, options ...Option) (*Server, *httptest.Server) {
	tb.Helper()
	s := New(options...)
	ts := httptest.NewServer(s)
	tb.Cleanup(ts.Close)
	return s, ts
}

func (s *Server) routes(mux *chi.Mux) {
	mux.Use(
		s.record,
		middleware.GetHead,
		httpe.ToMiddleware(s.handleErrors),
	)
	mux.Get("/", httpe.ToHandler(s.root()).ServeHTTP)
	mux.Get("/_up", httpe.ToHandler(s.up()).ServeHTTP)
	mux.Get("/_uuids", httpe.ToHandler(s.uuids()).ServeHTTP)
	mux.Get("/_session", httpe.ToHandler(s.getSession()).ServeHTTP)
	mux.Post("/_session", httpe.ToHandler(s.postSession()).ServeHTTP)
	mux.Delete("/_session", httpe.ToHandler(s.deleteSession()).ServeHTTP)

	auth := mux.With(
		httpe.ToMiddleware(s.authMiddleware),
	)
	auth.Get("/_all_dbs", httpe.ToHandler(s.allDBs()).ServeHTTP)
	auth.Get("/_active_tasks", httpe.ToHandler(s.activeTasks()).ServeHTTP)
	auth.Post("/_replicate", httpe.ToHandler(s.replicate()).ServeHTTP)
	auth.Get("/_node/{node-name}/_stats", httpe.ToHandler(s.stats()).ServeHTTP)
	auth.Get("/_node/{node-name}/_stats/*", httpe.ToHandler(s.stats()).ServeHTTP)
	auth.Get("/_node/{node-name}/_config", httpe.ToHandler(s.allConfig()).ServeHTTP)
	auth.Get("/_node/{node-name}/_config/{section}", httpe.ToHandler(s.configSection()).ServeHTTP)
	auth.Get("/_node/{node-name}/_config/{section}/{key}", httpe.ToHandler(s.configKey()).ServeHTTP)

	// Databases
	auth.Get("/{db}", httpe.ToHandler(s.dbInfo()).ServeHTTP)
	auth.Put("/{db}", httpe.ToHandler(s.createDB()).ServeHTTP)
	auth.Delete("/{db}", httpe.ToHandler(s.deleteDB()).ServeHTTP)
	auth.Post("/{db}", httpe.ToHandler(s.postDoc()).ServeHTTP)
	auth.Get("/{db}/_all_docs", httpe.ToHandler(s.allDocs()).ServeHTTP)
	auth.Post("/{db}/_all_docs", httpe.ToHandler(s.allDocs()).ServeHTTP)
	auth.Post("/{db}/_bulk_docs", httpe.ToHandler(s.bulkDocs()).ServeHTTP)
	auth.Post("/{db}/_find", httpe.ToHandler(s.find()).ServeHTTP)
	auth.Post("/{db}/_explain", httpe.ToHandler(s.explain()).ServeHTTP)
	auth.Get("/{db}/_index", httpe.ToHandler(s.getIndexes()).ServeHTTP)
	auth.Post("/{db}/_index", httpe.ToHandler(s.createIndex()).ServeHTTP)
	auth.Delete("/{db}/_index/{ddoc}/json/{name}", httpe.ToHandler(s.deleteIndex()).ServeHTTP)
	auth.Get("/{db}/_changes", httpe.ToHandler(s.changes()).ServeHTTP)
	auth.Post("/{db}/_changes", httpe.ToHandler(s.changes()).ServeHTTP)
	auth.Post("/{db}/_compact", httpe.ToHandler(s.compact()).ServeHTTP)
	auth.Post("/{db}/_compact/{ddoc}", httpe.ToHandler(s.compact()).ServeHTTP)
	auth.Post("/{db}/_view_cleanup", httpe.ToHandler(s.compact()).ServeHTTP)
	auth.Get("/{db}/_security", httpe.ToHandler(s.getSecurity()).ServeHTTP)
	auth.Put("/{db}/_security", httpe.ToHandler(s.putSecurity()).ServeHTTP)
	auth.Post("/{db}/_purge", httpe.ToHandler(s.purge()).ServeHTTP)

	// Documents
	for _, prefix := range []string{"/{db}/_design/", "/{db}/_local/", "/{db}/"} {
		pattern := prefix + "{docid}"
		auth.Get(pattern, httpe.ToHandler(s.getDoc(prefix)).ServeHTTP)
		auth.Put(pattern, httpe.ToHandler(s.putDoc(prefix)).ServeHTTP)
		auth.Delete(pattern, httpe.ToHandler(s.deleteDoc(prefix)).ServeHTTP)
		auth.Method("COPY", pattern, httpe.ToHandler(s.copyDoc(prefix)))
	}
	for _, prefix := range []string{"/{db}/_design/", "/{db}/"} {
		pattern := prefix + "{docid}/{attname}"
		auth.Get(pattern, httpe.ToHandler(s.getAttachment(prefix)).ServeHTTP)
		auth.Put(pattern, httpe.ToHandler(s.putAttachment(prefix)).ServeHTTP)
		auth.Delete(pattern, httpe.ToHandler(s.deleteAttachment(prefix)).ServeHTTP)
	}

	// Views
	auth.Get("/{db}/_design/{docid}/_view/{view}", httpe.ToHandler(s.queryView()).ServeHTTP)
	auth.Post("/{db}/_design/{docid}/_view/{view}", httpe.ToHandler(s.queryView()).ServeHTTP)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// record logs each request, for [Server.Requests] and the request method
// statistics.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.RequestURI())
		s.methods[r.Method]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Requests returns the requests received so far, as "METHOD /path?query".
func (s *Server) Requests() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.requests...)
}

// ResetRequests clears the request log.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	s.requests = nil
	s.mu.Unlock()
}

type couchError struct {
	status int
	Err    string `json:"error"`
	Reason string `json:"reason"`
}

func (e *couchError) Error() string {
	return e.Reason
}

func (e *couchError) HTTPStatus() int {
	return e.status
}

func (s *Server) handleErrors(next httpe.HandlerWithError) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		if err := next.ServeHTTPWithError(w, r); err != nil {
			status := internal.HTTPStatus(err)
			ce := &couchError{}
			if !errors.As(err, &ce) {
				ce.Err = strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
				ce.Reason = err.Error()
			}
			return serveJSON(w, status, ce)
		}
		return nil
	})
}

func serveJSON(w http.ResponseWriter, status int, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = io.Copy(w, bytes.NewReader(append(body, '\n')))
	return err
}

// bind decodes the request body into v, which may be JSON or a form.
func (s *Server) bind(r *http.Request, v interface{}) error {
	defer r.Body.Close() // nolint:errcheck
	body := io.Reader(r.Body)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return errBadRequest("invalid gzip body")
		}
		defer gz.Close() // nolint:errcheck
		body = gz
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		if err := json.NewDecoder(body).Decode(v); err != nil {
			return &couchError{status: http.StatusBadRequest, Err: "bad_request", Reason: "invalid UTF-8 JSON"}
		}
		return nil
	case "application/x-www-form-urlencoded":
		raw, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		form, err := url.ParseQuery(string(raw))
		if err != nil {
			return errBadRequest(err.Error())
		}
		return s.formDecoder.Decode(form, v)
	default:
		return &couchError{status: http.StatusUnsupportedMediaType, Err: "bad_content_type", Reason: "Content-Type must be 'application/x-www-form-urlencoded' or 'application/json'"}
	}
}

// db returns the named database, from the {db} URL parameter.
func (s *Server) db(r *http.Request) (*database, error) {
	name := param(r, "db")
	db, ok := s.dbs[name]
	if !ok {
		return nil, errNoDB
	}
	return db, nil
}
