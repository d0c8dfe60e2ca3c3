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
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"gitlab.com/flimzy/testy"
)

func TestBulkDocs(t *testing.T) {
	t.Parallel()
	_, db := animals(t, 2)
	ctx := context.Background()
	rev := mustRev(t, db, "a00")

	results, err := db.BulkDocs(ctx, []interface{}{
		map[string]interface{}{"_id": "new", "class": "fish"},
		map[string]interface{}{"_id": "a00", "_rev": rev, "class": "dodo"},
		map[string]interface{}{"_id": "a01", "class": "conflicted"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("Unexpected results: %v", results)
	}
	for _, r := range results[:2] {
		if r.Err != nil || r.Rev == "" {
			t.Errorf("Unexpected failure of %s: %v", r.ID, r.Err)
		}
	}
	if results[2].ID != "a01" || !errors.Is(results[2].Err, ErrConflict) {
		t.Errorf("Expected a conflict for a01, got %+v", results[2])
	}

	_, err = db.BulkDocs(ctx, nil)
	testy.StatusError(t, "docs required", http.StatusBadRequest, err)
}

func TestBulkDocsExpectationFailed(t *testing.T) {
	var body map[string]interface{}
	c := newCustomClient(t, func(req *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return nil, err
		}
		return jsonResponse(http.StatusExpectationFailed, `[
			{"id":"a","rev":"1-a"},
			{"id":"b","error":"forbidden","reason":"only admins may do that"}
		]`), nil
	})
	results, err := c.DB("db").BulkDocs(context.Background(), []interface{}{
		map[string]string{"_id": "a"},
		map[string]string{"_id": "b"},
	}, Param("new_edits", false))
	if err != nil {
		t.Fatal(err)
	}
	if body["new_edits"] != false {
		t.Errorf("Unexpected request body: %v", body)
	}
	if results[0].Rev != "1-a" || results[0].Err != nil {
		t.Errorf("Unexpected result: %+v", results[0])
	}
	testy.StatusError(t, "only admins may do that", http.StatusForbidden, results[1].Err)
}

func TestBulkDocsRequestFailed(t *testing.T) {
	c := newTestClient(t, jsonResponse(http.StatusBadRequest, `{"error":"bad_request","reason":"Missing JSON list of 'docs'"}`), nil)
	_, err := c.DB("db").BulkDocs(context.Background(), []interface{}{map[string]string{}})
	testy.StatusError(t, "Missing JSON list of 'docs'", http.StatusBadRequest, err)
}
