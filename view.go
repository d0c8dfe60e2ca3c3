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
	"net/url"
	"strings"
)

// viewPath converts a view name to a path relative to the database. A name
// of the form "ddoc/view" refers to the view in _design/ddoc. Names beginning
// with an underscore, such as _all_docs, are used verbatim.
func viewPath(name string) (string, error) {
	if strings.HasPrefix(name, "_") {
		return name, nil
	}
	parts := strings.SplitN(name, "/", 2) // nolint:gomnd
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", configError("invalid view name %q, expected ddoc/view", name)
	}
	return "_design/" + url.PathEscape(parts[0]) + "/_view/" + url.PathEscape(parts[1]), nil
}

// ViewResults is a configured view request. Range and key restrictions
// return new ViewResults, leaving the receiver unchanged.
type ViewResults struct {
	db      *DB
	name    string
	options map[string]interface{}
	cfg     rsConfig
}

// View returns the view with the given name, which is either "ddoc/view" or
// a special view such as "_all_docs". Options may include view parameters,
// and [WrapRows]. No request is made until the results are fetched.
func (db *DB) View(name string, opts ...Option) *ViewResults {
	return &ViewResults{
		db:      db,
		name:    name,
		options: params(opts),
		cfg:     newRSConfig(opts),
	}
}

func (v *ViewResults) with(fn func(map[string]interface{})) *ViewResults {
	options := make(map[string]interface{}, len(v.options))
	for k, val := range v.options {
		options[k] = val
	}
	fn(options)
	return &ViewResults{
		db:      v.db,
		name:    v.name,
		options: options,
		cfg:     v.cfg,
	}
}

// Slice restricts the results to the range from start to end, inclusive. A
// nil bound leaves that end of the range open. To bound a range with a
// literal JSON null, pass json.RawMessage("null"). For a half-open range,
// add Param("inclusive_end", false).
func (v *ViewResults) Slice(start, end interface{}) *ViewResults {
	return v.with(func(o map[string]interface{}) {
		delete(o, "key")
		delete(o, "startkey")
		delete(o, "endkey")
		if start != nil {
			o["startkey"] = start
		}
		if end != nil {
			o["endkey"] = end
		}
	})
}

// Key restricts the results to rows with exactly the given key. More than
// one row may share a key. A nil key matches rows with a null key.
func (v *ViewResults) Key(key interface{}) *ViewResults {
	return v.with(func(o map[string]interface{}) {
		delete(o, "startkey")
		delete(o, "endkey")
		if key == nil {
			key = json.RawMessage("null")
		}
		o["key"] = key
	})
}

// Options returns a copy of the view parameters.
func (v *ViewResults) Options() map[string]interface{} {
	return v.with(func(map[string]interface{}) {}).options
}

// Fetch requests a single page of view rows.
func (v *ViewResults) Fetch(ctx context.Context) (*Page, error) {
	path, err := viewPath(v.name)
	if err != nil {
		return nil, err
	}
	return v.db.client.fetchViewPage(ctx, v.db.path(path), v.options)
}

// Rows fetches the view rows, and returns them as a ResultSet.
func (v *ViewResults) Rows(ctx context.Context) (*ResultSet, error) {
	fetch := func(ctx context.Context, _ string) (*Page, error) {
		return v.Fetch(ctx)
	}
	pageSize := DefaultPageSize
	if limit, ok := toInt(v.options["limit"]); ok {
		pageSize = limit
	}
	return newResultSet(ctx, v.db.client, fetch, pageSize, v.cfg)
}

// AllDocs returns the rows of the _all_docs view.
func (db *DB) AllDocs(ctx context.Context, opts ...Option) (*ResultSet, error) {
	return db.View("_all_docs", opts...).Rows(ctx)
}
