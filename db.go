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
	"context"
	"net/http"
	"net/url"

	"github.com/go-kivik/sofa/chttp"
)

// DB is a handle to a database. It is safe for concurrent use.
type DB struct {
	client *Client
	name   string
}

// Name returns the database name.
func (db *DB) Name() string {
	return db.name
}

// Client returns the client the database belongs to.
func (db *DB) Client() *Client {
	return db.client
}

func (db *DB) path(p string) string {
	if p == "" {
		return url.PathEscape(db.name)
	}
	return url.PathEscape(db.name) + "/" + p
}

// DBInfo is the metadata of a database.
type DBInfo struct {
	Name         string     `json:"db_name"`
	DocCount     int64      `json:"doc_count"`
	DeletedCount int64      `json:"doc_del_count"`
	UpdateSeq    SequenceID `json:"update_seq"`
	PurgeSeq     SequenceID `json:"purge_seq"`
	Sizes        struct {
		File     int64 `json:"file"`
		External int64 `json:"external"`
		Active   int64 `json:"active"`
	} `json:"sizes"`
	CompactRunning bool `json:"compact_running"`
}

// Info returns the database metadata.
func (db *DB) Info(ctx context.Context) (*DBInfo, error) {
	var info DBInfo
	if err := db.client.client.DoJSON(ctx, http.MethodGet, db.path(""), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Compact starts compaction of the database.
func (db *DB) Compact(ctx context.Context) error {
	_, err := db.client.client.DoError(ctx, http.MethodPost, db.path("_compact"), nil)
	return err
}

// CompactView starts compaction of the views of a design document.
func (db *DB) CompactView(ctx context.Context, ddoc string) error {
	if ddoc == "" {
		return missingArg("ddoc")
	}
	_, err := db.client.client.DoError(ctx, http.MethodPost, db.path("_compact/"+url.PathEscape(ddoc)), nil)
	return err
}

// ViewCleanup removes index files which are no longer used by any design
// document.
func (db *DB) ViewCleanup(ctx context.Context) error {
	_, err := db.client.client.DoError(ctx, http.MethodPost, db.path("_view_cleanup"), nil)
	return err
}

// Members is a list of users and roles.
type Members struct {
	Names []string `json:"names,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Security is a database security object.
type Security struct {
	Admins  Members `json:"admins"`
	Members Members `json:"members"`
}

// Security returns the database security object.
func (db *DB) Security(ctx context.Context) (*Security, error) {
	var sec Security
	if err := db.client.client.DoJSON(ctx, http.MethodGet, db.path("_security"), nil, &sec); err != nil {
		return nil, err
	}
	return &sec, nil
}

// SetSecurity replaces the database security object.
func (db *DB) SetSecurity(ctx context.Context, security *Security) error {
	if security == nil {
		return missingArg("security")
	}
	opts := &chttp.Options{GetBody: chttp.BodyEncoder(security)}
	_, err := db.client.client.DoError(ctx, http.MethodPut, db.path("_security"), opts)
	return err
}

// PurgeResult is the response to a purge request.
type PurgeResult struct {
	Seq    SequenceID          `json:"purge_seq"`
	Purged map[string][]string `json:"purged"`
}

// Purge permanently removes the given revisions, keyed by document ID.
func (db *DB) Purge(ctx context.Context, docRevs map[string][]string) (*PurgeResult, error) {
	opts := &chttp.Options{
		GetBody: chttp.BodyEncoder(docRevs),
		Header:  http.Header{chttp.HeaderIdempotencyKey: []string{}},
	}
	var result PurgeResult
	if err := db.client.client.DoJSON(ctx, http.MethodPost, db.path("_purge"), opts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// QueryPlan is the plan the server would use to execute a query.
type QueryPlan struct {
	DBName   string                 `json:"dbname"`
	Index    map[string]interface{} `json:"index"`
	Selector map[string]interface{} `json:"selector"`
	Options  map[string]interface{} `json:"opts"`
	Limit    int64                  `json:"limit"`
	Skip     int64                  `json:"skip"`
	Fields   interface{}            `json:"fields"`
	Range    map[string]interface{} `json:"range"`
}

// Explain returns the plan for query.
func (db *DB) Explain(ctx context.Context, query *Query) (*QueryPlan, error) {
	if query == nil {
		return nil, missingArg("query")
	}
	opts := &chttp.Options{
		GetBody: chttp.BodyEncoder(query),
		Header:  http.Header{chttp.HeaderIdempotencyKey: []string{}},
	}
	var plan QueryPlan
	if err := db.client.client.DoJSON(ctx, http.MethodPost, db.path("_explain"), opts, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}
