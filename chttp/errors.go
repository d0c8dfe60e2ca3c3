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

package chttp

import (
	"io"
	"net/http"

	internal "github.com/go-kivik/sofa/internal"
)

// maxErrorBody caps the amount of an error response read for classification.
const maxErrorBody = 1 << 20

// ResponseError returns an error from an *http.Response if the status code
// is not 2xx. Error bodies are classified by [internal.Classify]; the replies
// to HEAD requests, which carry no body, are classified by status alone.
func ResponseError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 { // nolint:gomnd
		return nil
	}
	if resp.Body != nil {
		defer CloseBody(resp.Body)
	}
	if resp.Body == nil || (resp.Request != nil && resp.Request.Method == http.MethodHead) {
		return internal.FromStatus(resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &internal.Error{Kind: internal.KindTransport, Status: http.StatusBadGateway, Err: err}
	}
	return internal.Classify(resp.StatusCode, body)
}
