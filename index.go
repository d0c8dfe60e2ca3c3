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
	"strings"

	"github.com/go-kivik/sofa/chttp"
)

// Index is a Mango index.
type Index struct {
	DesignDoc  string      `json:"ddoc"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Definition interface{} `json:"def"`
}

// IndexResult is the response to an index creation.
type IndexResult struct {
	// Result is "created" or "exists".
	Result string `json:"result"`
	ID     string `json:"id"`
	Name   string `json:"name"`
}

// CreateIndex creates a Mango index. ddoc and name may be empty, in which case
// the server generates them. index is the index definition, such as
// map[string]interface{}{"fields": []string{"type"}}.
func (db *DB) CreateIndex(ctx context.Context, ddoc, name string, index interface{}) (*IndexResult, error) {
	if index == nil {
		return nil, missingArg("index")
	}
	body := map[string]interface{}{"index": index}
	if ddoc != "" {
		body["ddoc"] = ddoc
	}
	if name != "" {
		body["name"] = name
	}
	opts := &chttp.Options{
		GetBody: chttp.BodyEncoder(body),
		Header:  http.Header{chttp.HeaderIdempotencyKey: []string{}},
	}
	var result IndexResult
	if err := db.client.client.DoJSON(ctx, http.MethodPost, db.path("_index"), opts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetIndexes returns the indexes of the database.
func (db *DB) GetIndexes(ctx context.Context) ([]Index, error) {
	var result struct {
		Indexes []Index `json:"indexes"`
	}
	if err := db.client.client.DoJSON(ctx, http.MethodGet, db.path("_index"), nil, &result); err != nil {
		return nil, err
	}
	return result.Indexes, nil
}

// DeleteIndex deletes a Mango index.
func (db *DB) DeleteIndex(ctx context.Context, ddoc, name string) error {
	if ddoc == "" {
		return missingArg("ddoc")
	}
	if name == "" {
		return missingArg("name")
	}
	ddoc = strings.TrimPrefix(ddoc, "_design/")
	path := "_index/" + url.PathEscape(ddoc) + "/json/" + url.PathEscape(name)
	_, err := db.client.client.DoError(ctx, http.MethodDelete, db.path(path), nil)
	return err
}
