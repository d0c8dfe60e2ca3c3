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

package cmd

import (
	"encoding/json"
)

// parseKey interprets a view key given on the command line. Valid JSON is
// sent as-is; anything else is taken to be a string. An empty value means no
// key.
func parseKey(val string) interface{} {
	if val == "" {
		return nil
	}
	if json.Valid([]byte(val)) {
		return json.RawMessage(val)
	}
	return val
}
