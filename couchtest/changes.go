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
	"sort"
	"strconv"
	"strings"
	"time"

	"gitlab.com/flimzy/httpe"
)

const defaultChangesTimeout = 60 * time.Second

type changeJSON struct {
	Seq     string              `json:"seq"`
	ID      string              `json:"id"`
	Changes []map[string]string `json:"changes"`
	Deleted bool                `json:"deleted,omitempty"`
	Doc     interface{}         `json:"doc,omitempty"`
}

type changesParams struct {
	feed        string
	since       string
	limit       int
	descending  bool
	includeDocs bool
	filter      string
	docIDs      map[string]bool
	selector    map[string]interface{}
	heartbeat   time.Duration
	timeout     time.Duration
}

func (s *Server) parseChangesParams(r *http.Request) (*changesParams, error) {
	query := r.URL.Query()
	p := &changesParams{
		feed:    query.Get("feed"),
		since:   query.Get("since"),
		filter:  query.Get("filter"),
		timeout: defaultChangesTimeout,
	}
	switch p.feed {
	case "":
		p.feed = "normal"
	case "normal", "longpoll", "continuous":
	default:
		return nil, errBadRequest("Supported `feed` types: normal, continuous, longpoll")
	}
	var err error
	if p.limit, err = intParam(query, "limit", -1); err != nil {
		return nil, err
	}
	if p.descending, err = boolParam(query, "descending", false); err != nil {
		return nil, err
	}
	if p.includeDocs, err = boolParam(query, "include_docs", false); err != nil {
		return nil, err
	}
	if raw := query.Get("heartbeat"); raw != "" {
		if raw == "true" {
			p.heartbeat = defaultChangesTimeout
		} else {
			ms, err := intParam(query, "heartbeat", 0)
			if err != nil {
				return nil, err
			}
			p.heartbeat = time.Duration(ms) * time.Millisecond
		}
	}
	if raw := query.Get("timeout"); raw != "" {
		ms, err := intParam(query, "timeout", 0)
		if err != nil {
			return nil, err
		}
		p.timeout = time.Duration(ms) * time.Millisecond
	}
	var body struct {
		DocIDs   []string               `json:"doc_ids"`
		Selector map[string]interface{} `json:"selector"`
	}
	if r.Method == http.MethodPost {
		if err := s.bind(r, &body); err != nil {
			return nil, err
		}
	}
	if raw := query.Get("doc_ids"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &body.DocIDs); err != nil {
			return nil, queryParseError("Invalid value for doc_ids")
		}
	}
	switch p.filter {
	case "":
	case "_doc_ids":
		if body.DocIDs == nil {
			return nil, errBadRequest("Filter _doc_ids requires doc_ids")
		}
		p.docIDs = make(map[string]bool, len(body.DocIDs))
		for _, id := range body.DocIDs {
			p.docIDs[id] = true
		}
	case "_selector":
		if body.Selector == nil {
			return nil, errBadRequest("Selector must be specified in POST payload")
		}
		p.selector = body.Selector
	case "_design":
	default:
		return nil, &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "missing filter " + p.filter}
	}
	return p, nil
}

// sinceSeq parses the since parameter, which may be "now" or a sequence ID
// with an opaque suffix, such as "12-g1AAAA".
func (p *changesParams) sinceSeq(db *database) (int64, error) {
	switch p.since {
	case "", "0":
		return 0, nil
	case "now":
		return db.seq, nil
	}
	n, err := strconv.ParseInt(strings.SplitN(p.since, "-", 2)[0], 10, 64) // nolint:gomnd
	if err != nil || n < 0 {
		return 0, errBadRequest("Malformed sequence supplied in 'since' parameter.")
	}
	return n, nil
}

func (p *changesParams) include(doc *document) (bool, error) {
	if doc.local() {
		return false, nil
	}
	switch p.filter {
	case "_doc_ids":
		return p.docIDs[doc.id], nil
	case "_design":
		return doc.design(), nil
	case "_selector":
		if doc.deleted {
			return false, nil
		}
		return matches(field{value: doc.toJSON(), exists: true}, p.selector)
	}
	return true, nil
}

// changesSince returns the changes after seq, with the number of changes not
// returned because of the limit.
func (db *database) changesSince(seq int64, p *changesParams, limit int) ([]changeJSON, int, error) {
	docs := make([]*document, 0)
	for _, doc := range db.docs {
		if doc.seq <= seq {
			continue
		}
		ok, err := p.include(doc)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if p.descending {
			return docs[i].seq > docs[j].seq
		}
		return docs[i].seq < docs[j].seq
	})
	pending := 0
	if limit >= 0 && limit < len(docs) {
		pending = len(docs) - limit
		docs = docs[:limit]
	}
	changes := make([]changeJSON, len(docs))
	for i, doc := range docs {
		changes[i] = changeJSON{
			Seq:     seqString(doc.seq),
			ID:      doc.id,
			Changes: []map[string]string{{"rev": doc.rev}},
			Deleted: doc.deleted,
		}
		if p.includeDocs {
			changes[i].Doc = doc.toJSON()
		}
	}
	return changes, pending, nil
}

func (s *Server) changes() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		p, err := s.parseChangesParams(r)
		if err != nil {
			return err
		}
		if p.feed == "continuous" {
			return s.continuousChanges(w, r, p)
		}
		deadline := time.NewTimer(p.timeout)
		defer deadline.Stop()
		for {
			s.mu.RLock()
			db, err := s.db(r)
			if err != nil {
				s.mu.RUnlock()
				return err
			}
			since, err := p.sinceSeq(db)
			if err != nil {
				s.mu.RUnlock()
				return err
			}
			changes, pending, err := db.changesSince(since, p, p.limit)
			lastSeq, notify := db.seq, db.notify
			s.mu.RUnlock()
			if err != nil {
				return err
			}
			if pending > 0 && len(changes) > 0 && !p.descending {
				lastSeq, _ = strconv.ParseInt(changes[len(changes)-1].Seq, 10, 64)
			}
			if p.feed == "normal" || len(changes) > 0 {
				return serveJSON(w, http.StatusOK, map[string]interface{}{
					"results":  changes,
					"last_seq": seqString(lastSeq),
					"pending":  pending,
				})
			}
			if p.since == "now" {
				p.since = seqString(lastSeq)
			}
			select {
			case <-notify:
			case <-deadline.C:
				p.feed = "normal"
			case <-r.Context().Done():
				return nil
			}
		}
	})
}

// continuousChanges streams one change per line, until the limit is reached,
// the timeout passes with no changes, or the client goes away.
func (s *Server) continuousChanges(w http.ResponseWriter, r *http.Request, p *changesParams) error {
	s.mu.RLock()
	db, err := s.db(r)
	if err != nil {
		s.mu.RUnlock()
		return err
	}
	seq, err := p.sinceSeq(db)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	var heartbeat <-chan time.Time
	if p.heartbeat > 0 {
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}
	timeout := time.NewTimer(p.timeout)
	defer timeout.Stop()
	remaining := p.limit
	for {
		s.mu.RLock()
		changes, _, err := db.changesSince(seq, p, remaining)
		notify := db.notify
		_, exists := s.dbs[db.name]
		if len(changes) == 0 {
			seq = db.seq
		}
		s.mu.RUnlock()
		if err != nil {
			return enc.Encode(map[string]string{"error": "bad_request", "reason": err.Error()})
		}
		for _, change := range changes {
			if err := enc.Encode(change); err != nil {
				return nil
			}
			seq, _ = strconv.ParseInt(change.Seq, 10, 64)
		}
		flush()
		if remaining >= 0 {
			remaining -= len(changes)
		}
		if remaining == 0 || !exists {
			return enc.Encode(map[string]string{"last_seq": seqString(seq)})
		}
		if len(changes) > 0 {
			if !timeout.Stop() {
				<-timeout.C
			}
			timeout.Reset(p.timeout)
		}
	wait:
		for {
			select {
			case <-notify:
				break wait
			case <-heartbeat:
				if _, err := w.Write([]byte("\n")); err != nil {
					return nil
				}
				flush()
			case <-timeout.C:
				err := enc.Encode(map[string]string{"last_seq": seqString(seq)})
				flush()
				return err
			case <-r.Context().Done():
				return nil
			}
		}
	}
}
