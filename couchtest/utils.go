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
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/icza/dyno"
	"gitlab.com/flimzy/httpe"
)

const uuidMaxCount = 1000

// param returns the unescaped URL parameter.
func param(r *http.Request, name string) string {
	value := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}

func (s *Server) root() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, _ *http.Request) error {
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"couchdb": "Welcome",
			"vendor": map[string]string{
				"name": "sofa couchtest",
			},
			"version":  Version,
			"features": []string{"access-ready", "partitioned"},
		})
	})
}

func (s *Server) up() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, _ *http.Request) error {
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
		})
	})
}

func (s *Server) uuids() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		count := 1
		if p := r.URL.Query().Get("count"); p != "" {
			var err error
			count, err = strconv.Atoi(p)
			if err != nil || count < 1 {
				return errBadRequest("count must be a positive integer")
			}
		}
		if count > uuidMaxCount {
			return errBadRequest("count must not exceed " + strconv.Itoa(uuidMaxCount))
		}
		uuids := make([]string, count)
		for i := range uuids {
			uuids[i] = newID()
		}
		return serveJSON(w, http.StatusOK, map[string][]string{"uuids": uuids})
	})
}

func (s *Server) allDBs() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, _ *http.Request) error {
		s.mu.RLock()
		dbs := make([]string, 0, len(s.dbs))
		for name := range s.dbs {
			dbs = append(dbs, name)
		}
		s.mu.RUnlock()
		sort.Strings(dbs)
		return serveJSON(w, http.StatusOK, dbs)
	})
}

func (s *Server) activeTasks() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, _ *http.Request) error {
		return serveJSON(w, http.StatusOK, []interface{}{})
	})
}

// stats serves the request method counters, the only statistics kept.
// Sub-paths select a group or metric.
func (s *Server) stats() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.RLock()
		methods := make(map[string]interface{}, len(s.methods))
		for method, count := range s.methods {
			methods[method] = map[string]interface{}{
				"value": count,
				"type":  "counter",
				"desc":  "number of HTTP " + method + " requests",
			}
		}
		s.mu.RUnlock()
		var stats interface{} = map[string]interface{}{
			"couchdb": map[string]interface{}{
				"httpd_request_methods": methods,
			},
		}
		if sub := strings.Trim(chi.URLParam(r, "*"), "/"); sub != "" {
			path := make([]interface{}, 0)
			for _, part := range strings.Split(sub, "/") {
				path = append(path, part)
			}
			var err error
			if stats, err = dyno.Get(stats, path...); err != nil {
				return &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "Unknown stat " + sub}
			}
		}
		return serveJSON(w, http.StatusOK, stats)
	})
}

var config = map[string]map[string]string{
	"couchdb": {
		"max_document_size": "8000000",
		"uuid":              "00000000000000000000000000000000",
	},
	"chttpd": {
		"port":               "5984",
		"bind_address":       "127.0.0.1",
		"require_valid_user": "false",
	},
	"uuids": {
		"algorithm": "random",
		"max_count": strconv.Itoa(uuidMaxCount),
	},
}

func (s *Server) allConfig() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, _ *http.Request) error {
		return serveJSON(w, http.StatusOK, config)
	})
}

func (s *Server) configSection() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		section := config[param(r, "section")]
		if section == nil {
			section = map[string]string{}
		}
		return serveJSON(w, http.StatusOK, section)
	})
}

func (s *Server) configKey() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		value, ok := config[param(r, "section")][param(r, "key")]
		if !ok {
			return &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "unknown_config_value"}
		}
		return serveJSON(w, http.StatusOK, value)
	})
}
