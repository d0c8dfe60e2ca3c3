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
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"gitlab.com/flimzy/httpe"
)

// CreateDB creates a database directly, without a request.
func (s *Server) CreateDB(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createDatabase(name)
}

func (s *Server) createDatabase(name string) error {
	if !validDBName.MatchString(name) {
		return &couchError{status: http.StatusBadRequest, Err: "illegal_database_name", Reason: "Name: '" + name + "'. Only lowercase characters (a-z), digits (0-9), and any of the characters _, $, (, ), +, -, and / are allowed. Must begin with a letter."}
	}
	if _, ok := s.dbs[name]; ok {
		return errDBExists
	}
	s.dbs[name] = newDatabase(name)
	return nil
}

// PutDoc stores doc in the named database directly, without a request, and
// returns the new revision. The document must have an _id; to update a
// document it must have the current _rev.
func (s *Server) PutDoc(dbName string, doc map[string]interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[dbName]
	if !ok {
		return "", errNoDB
	}
	body, _ := normalize(doc).(map[string]interface{})
	id, _ := body["_id"].(string)
	stored, err := db.putDoc(id, body, true)
	if err != nil {
		return "", err
	}
	return stored.rev, nil
}

func (s *Server) dbInfo() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		live, deleted := db.docCounts()
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"db_name":         db.name,
			"doc_count":       live,
			"doc_del_count":   deleted,
			"update_seq":      seqString(db.seq),
			"purge_seq":       seqString(db.purgeSeq),
			"compact_running": false,
			"sizes": map[string]int{
				"file":     0,
				"external": 0,
				"active":   0,
			},
			"instance_start_time": "0",
		})
	})
}

func (s *Server) createDB() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.createDatabase(param(r, "db")); err != nil {
			return err
		}
		return serveJSON(w, http.StatusCreated, map[string]bool{"ok": true})
	})
}

func (s *Server) deleteDB() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		delete(s.dbs, db.name)
		close(db.notify)
		return serveJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
}

func serveRev(w http.ResponseWriter, status int, doc *document) error {
	w.Header().Set("ETag", `"`+doc.rev+`"`)
	return serveJSON(w, status, map[string]interface{}{
		"ok":  true,
		"id":  doc.id,
		"rev": doc.rev,
	})
}

func (s *Server) postDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var body map[string]interface{}
		if err := s.bind(r, &body); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		id, _ := body["_id"].(string)
		if id == "" {
			id = newID()
		}
		doc, err := db.putDoc(id, body, true)
		if err != nil {
			return err
		}
		return serveRev(w, http.StatusCreated, doc)
	})
}

func docID(prefix string, r *http.Request) string {
	id := param(r, "docid")
	switch {
	case strings.HasSuffix(prefix, "/_design/"):
		return prefixDesign + id
	case strings.HasSuffix(prefix, "/_local/"):
		return prefixLocal + id
	}
	return id
}

func (s *Server) getDoc(prefix string) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		doc, ok := db.docs[docID(prefix, r)]
		if !ok {
			return errMissing
		}
		query := r.URL.Query()
		if rev := query.Get("rev"); rev != "" && rev != doc.rev {
			return errMissing
		}
		if doc.deleted && query.Get("rev") == "" {
			return errDeleted
		}
		out := doc.toJSON()
		if query.Get("revs_info") == "true" {
			info := []map[string]string{{"rev": doc.rev, "status": "available"}}
			for _, rev := range doc.history {
				info = append(info, map[string]string{"rev": rev, "status": "missing"})
			}
			out["_revs_info"] = info
		}
		w.Header().Set("ETag", `"`+doc.rev+`"`)
		return serveJSON(w, http.StatusOK, out)
	})
}

func (s *Server) putDoc(prefix string) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var body map[string]interface{}
		if err := s.bind(r, &body); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		if rev := r.URL.Query().Get("rev"); rev != "" {
			body["_rev"] = rev
		}
		doc, err := db.putDoc(docID(prefix, r), body, r.URL.Query().Get("new_edits") != "false")
		if err != nil {
			return err
		}
		return serveRev(w, http.StatusCreated, doc)
	})
}

func (s *Server) deleteDoc(prefix string) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		rev := r.URL.Query().Get("rev")
		if rev == "" {
			rev = strings.Trim(r.Header.Get("If-Match"), `"`)
		}
		doc, err := db.deleteDoc(docID(prefix, r), rev)
		if err != nil {
			return err
		}
		return serveRev(w, http.StatusOK, doc)
	})
}

// copyDoc copies a document to the ID in the Destination header, which may
// carry the target's current revision as "id?rev=x".
func (s *Server) copyDoc(prefix string) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		dest := r.Header.Get("Destination")
		if dest == "" {
			return errBadRequest("Destination header is mandatory for COPY.")
		}
		targetID, targetRev := dest, ""
		if i := strings.Index(dest, "?"); i >= 0 {
			targetID = dest[:i]
			q, _ := url.ParseQuery(dest[i+1:])
			targetRev = q.Get("rev")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		source, ok := db.docs[docID(prefix, r)]
		if !ok || source.deleted {
			return errMissing
		}
		body := make(map[string]interface{}, len(source.body)+1)
		for k, v := range source.body {
			body[k] = v
		}
		if targetRev != "" {
			body["_rev"] = targetRev
		} else if existing, ok := db.docs[targetID]; ok && existing.deleted {
			body["_rev"] = existing.rev
		}
		doc, err := db.putDoc(targetID, body, true)
		if err != nil {
			return err
		}
		doc.attachments = source.attachments
		return serveRev(w, http.StatusCreated, doc)
	})
}

func (s *Server) getAttachment(prefix string) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		doc, ok := db.docs[docID(prefix, r)]
		if !ok || doc.deleted {
			return errMissing
		}
		att, ok := doc.attachments[param(r, "attname")]
		if !ok {
			return &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "Document is missing attachment"}
		}
		w.Header().Set("Content-Type", att.contentType)
		w.Header().Set("Content-MD5", att.digest())
		w.Header().Set("Content-Length", strconv.Itoa(len(att.data)))
		w.Header().Set("ETag", `"`+att.digest()+`"`)
		w.WriteHeader(http.StatusOK)
		_, err = w.Write(att.data)
		return err
	})
}

func (s *Server) putAttachment(prefix string) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		id := docID(prefix, r)
		body := map[string]interface{}{}
		if rev := r.URL.Query().Get("rev"); rev != "" {
			body["_rev"] = rev
		}
		existing, ok := db.docs[id]
		if ok && !existing.deleted {
			for k, v := range existing.body {
				body[k] = v
			}
		}
		doc, err := db.putDoc(id, body, true)
		if err != nil {
			return err
		}
		attachments := make(map[string]*attachment, len(doc.attachments)+1)
		for name, att := range doc.attachments {
			attachments[name] = att
		}
		attachments[param(r, "attname")] = &attachment{
			contentType: r.Header.Get("Content-Type"),
			data:        data,
			revpos:      doc.gen(),
		}
		doc.attachments = attachments
		return serveRev(w, http.StatusCreated, doc)
	})
}

func (s *Server) deleteAttachment(prefix string) httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		id := docID(prefix, r)
		existing, ok := db.docs[id]
		if !ok || existing.deleted {
			return errMissing
		}
		name := param(r, "attname")
		if _, ok := existing.attachments[name]; !ok {
			return &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "Document is missing attachment"}
		}
		body := map[string]interface{}{"_rev": r.URL.Query().Get("rev")}
		for k, v := range existing.body {
			body[k] = v
		}
		doc, err := db.putDoc(id, body, true)
		if err != nil {
			return err
		}
		attachments := make(map[string]*attachment, len(doc.attachments))
		for n, att := range doc.attachments {
			if n != name {
				attachments[n] = att
			}
		}
		doc.attachments = attachments
		return serveRev(w, http.StatusOK, doc)
	})
}

func (s *Server) bulkDocs() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var req struct {
			Docs     []map[string]interface{} `json:"docs"`
			NewEdits *bool                    `json:"new_edits"`
		}
		if err := s.bind(r, &req); err != nil {
			return err
		}
		newEdits := req.NewEdits == nil || *req.NewEdits
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		results := make([]map[string]interface{}, 0, len(req.Docs))
		for _, body := range req.Docs {
			id, _ := body["_id"].(string)
			if id == "" {
				id = newID()
			}
			doc, err := db.putDoc(id, body, newEdits)
			if err != nil {
				ce, _ := err.(*couchError)
				results = append(results, map[string]interface{}{
					"id":     id,
					"error":  ce.Err,
					"reason": ce.Reason,
				})
				continue
			}
			results = append(results, map[string]interface{}{
				"ok":  true,
				"id":  doc.id,
				"rev": doc.rev,
			})
		}
		return serveJSON(w, http.StatusCreated, results)
	})
}

func (s *Server) purge() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var req map[string][]string
		if err := s.bind(r, &req); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		purged := make(map[string][]string, len(req))
		for id, revs := range req {
			purged[id] = []string{}
			doc, ok := db.docs[id]
			if !ok {
				continue
			}
			for _, rev := range revs {
				if rev == doc.rev {
					delete(db.docs, id)
					purged[id] = append(purged[id], rev)
					db.purgeSeq++
				}
			}
		}
		return serveJSON(w, http.StatusCreated, map[string]interface{}{
			"purge_seq": nil,
			"purged":    purged,
		})
	})
}

// compact serves _compact and _view_cleanup, which have nothing to do.
func (s *Server) compact() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if _, err := s.db(r); err != nil {
			return err
		}
		return serveJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
	})
}

func (s *Server) getSecurity() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusOK, db.security)
	})
}

func (s *Server) putSecurity() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var security map[string]interface{}
		if err := s.bind(r, &security); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		db.security = security
		return serveJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
}

// replicate copies the documents of one local database to another. Source
// and target may be database names or URLs; only the last path element of a
// URL is used.
func (s *Server) replicate() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var req struct {
			Source       string   `json:"source"`
			Target       string   `json:"target"`
			CreateTarget bool     `json:"create_target"`
			DocIDs       []string `json:"doc_ids"`
		}
		if err := s.bind(r, &req); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		source, ok := s.dbs[localDBName(req.Source)]
		if !ok {
			return &couchError{status: http.StatusNotFound, Err: "db_not_found", Reason: "could not open " + req.Source}
		}
		targetName := localDBName(req.Target)
		if _, ok := s.dbs[targetName]; !ok && req.CreateTarget {
			if err := s.createDatabase(targetName); err != nil {
				return err
			}
		}
		target, ok := s.dbs[targetName]
		if !ok {
			return &couchError{status: http.StatusNotFound, Err: "db_not_found", Reason: "could not open " + req.Target}
		}
		wanted := map[string]bool{}
		for _, id := range req.DocIDs {
			wanted[id] = true
		}
		ids := make([]string, 0, len(source.docs))
		for id, doc := range source.docs {
			if !doc.local() && (len(wanted) == 0 || wanted[id]) {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		var written int
		for _, id := range ids {
			doc := source.docs[id]
			if existing, ok := target.docs[id]; ok && existing.rev == doc.rev {
				continue
			}
			body := doc.toJSON()
			delete(body, "_attachments")
			copied, err := target.putDoc(id, body, false)
			if err != nil {
				return err
			}
			copied.attachments = doc.attachments
			copied.history = doc.history
			written++
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok":              true,
			"session_id":      newID(),
			"source_last_seq": seqString(source.seq),
			"docs_written":    written,
			"history": []map[string]interface{}{
				{"docs_written": written, "docs_read": len(ids)},
			},
		})
	})
}

func localDBName(nameOrURL string) string {
	u, err := url.Parse(nameOrURL)
	if err != nil || u.Scheme == "" {
		return nameOrURL
	}
	parts := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	name, _ := url.PathUnescape(parts[len(parts)-1])
	return name
}

func seqString(seq int64) string {
	return strconv.FormatInt(seq, 10)
}
