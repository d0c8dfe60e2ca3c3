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
	"crypto/md5" // nolint:gosec
	"crypto/sha1" // nolint:gosec
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

const (
	prefixDesign = "_design/"
	prefixLocal  = "_local/"
	userPrefix   = "org.couchdb.user:"

	pbkdf2KeyLength  = 20
	pbkdf2Iterations = 10
)

var validDBName = regexp.MustCompile(`^[a-z][a-z0-9_$()+/-]*$`)

type attachment struct {
	contentType string
	data        []byte
	revpos      int
}

func (a *attachment) digest() string {
	sum := md5.Sum(a.data) // nolint:gosec
	return base64.StdEncoding.EncodeToString(sum[:])
}

type document struct {
	id          string
	rev         string
	history     []string // earlier revisions, newest first
	deleted     bool
	seq         int64
	body        map[string]interface{}
	attachments map[string]*attachment
}

func (d *document) local() bool {
	return strings.HasPrefix(d.id, prefixLocal)
}

func (d *document) design() bool {
	return strings.HasPrefix(d.id, prefixDesign)
}

func (d *document) gen() int {
	n, _ := strconv.Atoi(strings.SplitN(d.rev, "-", 2)[0]) // nolint:gomnd
	return n
}

// toJSON returns the document as it is served, including _id, _rev and
// attachment stubs.
func (d *document) toJSON() map[string]interface{} {
	out := make(map[string]interface{}, len(d.body)+3) // nolint:gomnd
	for k, v := range d.body {
		out[k] = v
	}
	out["_id"] = d.id
	out["_rev"] = d.rev
	if d.deleted {
		out["_deleted"] = true
	}
	if len(d.attachments) > 0 {
		stubs := make(map[string]interface{}, len(d.attachments))
		for name, att := range d.attachments {
			stubs[name] = map[string]interface{}{
				"content_type": att.contentType,
				"length":       len(att.data),
				"digest":       "md5-" + att.digest(),
				"revpos":       att.revpos,
				"stub":         true,
			}
		}
		out["_attachments"] = stubs
	}
	return out
}

type database struct {
	name     string
	docs     map[string]*document
	seq      int64
	purgeSeq int64
	views    map[string]*view
	indexes  []*index
	security map[string]interface{}
	// notify is closed and replaced on every update.
	notify chan struct{}
}

func newDatabase(name string) *database {
	return &database{
		name:     name,
		docs:     map[string]*document{},
		views:    map[string]*view{},
		security: map[string]interface{}{},
		notify:   make(chan struct{}),
	}
}

func (db *database) changed(doc *document) {
	db.seq++
	doc.seq = db.seq
	close(db.notify)
	db.notify = make(chan struct{})
}

// liveDocs returns the documents which are not deleted and not local, sorted
// by ID.
func (db *database) liveDocs(includeDesign bool) []*document {
	docs := make([]*document, 0, len(db.docs))
	for _, doc := range db.docs {
		if doc.deleted || doc.local() || (!includeDesign && doc.design()) {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].id < docs[j].id })
	return docs
}

func (db *database) docCounts() (live, deleted int) {
	for _, doc := range db.docs {
		switch {
		case doc.local():
		case doc.deleted:
			deleted++
		default:
			live++
		}
	}
	return live, deleted
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newRev(gen int) string {
	return fmt.Sprintf("%d-%s", gen, newID())
}

var (
	errConflict = &couchError{status: http.StatusConflict, Err: "conflict", Reason: "Document update conflict."}
	errMissing  = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "missing"}
	errDeleted  = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "deleted"}
	errNoDB     = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "Database does not exist."}
	errDBExists = &couchError{status: http.StatusPreconditionFailed, Err: "file_exists", Reason: "The database could not be created, the file already exists."}
)

func errBadRequest(reason string) error {
	return &couchError{status: http.StatusBadRequest, Err: "bad_request", Reason: reason}
}

// putDoc stores body as the new revision of the document id. If newEdits is
// false, the revision in body is stored as-is, without a conflict check.
func (db *database) putDoc(id string, body map[string]interface{}, newEdits bool) (*document, error) {
	if id == "" {
		return nil, errBadRequest("Document id must not be empty")
	}
	if strings.HasPrefix(id, "_") && !strings.HasPrefix(id, prefixDesign) && !strings.HasPrefix(id, prefixLocal) {
		return nil, errBadRequest("Only reserved document ids may start with underscore.")
	}
	rev, _ := body["_rev"].(string)
	existing := db.docs[id]
	switch {
	case !newEdits:
		if rev == "" {
			return nil, errBadRequest("Document rev must be specified when new_edits is false")
		}
	case existing != nil && !existing.deleted:
		if rev != existing.rev {
			return nil, errConflict
		}
	case existing != nil:
		if rev != "" && rev != existing.rev {
			return nil, errConflict
		}
	case rev != "":
		return nil, errConflict
	}
	doc := &document{id: id, body: map[string]interface{}{}}
	for k, v := range body {
		if !strings.HasPrefix(k, "_") {
			doc.body[k] = v
		}
	}
	doc.deleted, _ = body["_deleted"].(bool)
	gen := 1
	if existing != nil {
		gen = existing.gen() + 1
		doc.history = append([]string{existing.rev}, existing.history...)
		if !doc.deleted {
			doc.attachments = existing.attachments
		}
	}
	switch {
	case !newEdits:
		doc.rev = rev
	case doc.local():
		doc.rev = fmt.Sprintf("0-%d", gen)
	default:
		doc.rev = newRev(gen)
	}
	if db.name == "_users" && !doc.deleted {
		hashPassword(doc.body)
	}
	db.docs[id] = doc
	if !doc.local() {
		db.changed(doc)
	}
	return doc, nil
}

func (db *database) deleteDoc(id, rev string) (*document, error) {
	existing, ok := db.docs[id]
	if !ok {
		return nil, errMissing
	}
	if existing.deleted {
		return nil, errDeleted
	}
	if rev != existing.rev {
		return nil, errConflict
	}
	return db.putDoc(id, map[string]interface{}{"_rev": rev, "_deleted": true}, true)
}

// hashPassword replaces a plain text password in a user document with a
// PBKDF2 derived key, as CouchDB does.
func hashPassword(user map[string]interface{}) {
	password, ok := user["password"].(string)
	if !ok {
		return
	}
	delete(user, "password")
	salt := newID()
	user["password_scheme"] = "pbkdf2"
	user["iterations"] = float64(pbkdf2Iterations)
	user["salt"] = salt
	user["derived_key"] = derivedKey(password, salt, pbkdf2Iterations)
}

func derivedKey(password, salt string, iterations int) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(password), []byte(salt), iterations, pbkdf2KeyLength, sha1.New))
}

// checkUser validates a password against a user document.
func checkUser(user map[string]interface{}, password string) bool {
	if scheme, _ := user["password_scheme"].(string); scheme != "pbkdf2" {
		return false
	}
	salt, _ := user["salt"].(string)
	iterations, _ := user["iterations"].(float64)
	key, _ := user["derived_key"].(string)
	return derivedKey(password, salt, int(iterations)) == key
}
