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
	"net/http"

	"github.com/go-kivik/sofa/chttp"
	internal "github.com/go-kivik/sofa/internal"
)

// BulkResult is the outcome of one document of a bulk update. Exactly one of
// Rev and Err is set.
type BulkResult struct {
	ID  string
	Rev string
	Err error
}

type bulkDocResult BulkResult

func (r *bulkDocResult) UnmarshalJSON(p []byte) error {
	var target struct {
		ID     string `json:"id"`
		Rev    string `json:"rev"`
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(p, &target); err != nil {
		return err
	}
	r.ID = target.ID
	r.Rev = target.Rev
	r.Err = nil
	if target.Error != "" {
		r.Err = internal.FromName(target.Error, target.Reason)
	}
	return nil
}

// BulkDocs creates, updates or deletes docs in a single request. The result
// for each document is reported separately, in the order of docs; the
// failure of one document does not affect the others. An error is returned
// only if the request as a whole failed. Options, such as
// Param("new_edits", false), are included in the request body.
func (db *DB) BulkDocs(ctx context.Context, docs []interface{}, opts ...Option) ([]BulkResult, error) {
	if len(docs) == 0 {
		return nil, missingArg("docs")
	}
	body := params(opts)
	body["docs"] = docs
	reqOpts := chttp.NewOptions(opts...)
	reqOpts.GetBody = chttp.BodyEncoder(body)
	reqOpts.Header = http.Header{chttp.HeaderIdempotencyKey: []string{}}

	resp, err := db.client.client.DoReq(ctx, http.MethodPost, db.path("_bulk_docs"), reqOpts)
	if err != nil {
		return nil, err
	}
	defer chttp.CloseBody(resp.Body)
	// 417 Expectation Failed means one or more documents were rejected. The
	// body still lists the outcome of each one.
	if resp.StatusCode != http.StatusExpectationFailed {
		if err := chttp.ResponseError(resp); err != nil {
			return nil, err
		}
	}
	var temp []bulkDocResult
	if err := chttp.DecodeJSON(resp, &temp); err != nil {
		return nil, err
	}
	results := make([]BulkResult, len(temp))
	for i, r := range temp {
		results[i] = BulkResult(r)
	}
	return results, nil
}
