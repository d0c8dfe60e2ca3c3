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
	"encoding/json"
	"net/url"
)

// jsonParams are always JSON encoded, so that the server can tell the string
// "5" from the number 5.
var jsonParams = map[string]bool{
	"key":       true,
	"startkey":  true,
	"start_key": true,
	"endkey":    true,
	"end_key":   true,
}

// EncodeViewOptions encodes opts as view query parameters. The rules are:
//
//   - key, startkey and endkey (and their start_key and end_key aliases) are
//     always JSON encoded.
//   - a [json.RawMessage] is considered already encoded, and sent as-is.
//   - other strings are sent as-is.
//   - all other values are JSON encoded.
//   - nil values are omitted.
//
// An encoding failure is reported as a configuration error.
func EncodeViewOptions(opts map[string]interface{}) (url.Values, error) {
	values := make(url.Values, len(opts))
	for name, value := range opts {
		if value == nil {
			continue
		}
		encoded, err := encodeViewOption(name, value)
		if err != nil {
			return nil, configError("invalid value for %s: %w", name, err)
		}
		values.Set(name, encoded)
	}
	return values, nil
}

func encodeViewOption(name string, value interface{}) (string, error) {
	switch v := value.(type) {
	case json.RawMessage:
		return string(v), nil
	case string:
		if !jsonParams[name] {
			return v, nil
		}
	}
	encoded, err := json.Marshal(value)
	return string(encoded), err
}
