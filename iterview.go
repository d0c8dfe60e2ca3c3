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
)

// BatchIterator reads the rows of a view in batches of a fixed size. Each
// request asks for one row more than the batch size. The extra row is not
// returned with the batch; its key and document ID are used as startkey and
// startkey_docid for the next request.
//
// CouchDB does not accept startkey together with keys, so when a keys option
// is given the batches advance with skip instead.
//
// Each batch is a separate request, so documents created, updated or deleted
// during iteration may cause rows to be repeated or missed.
type BatchIterator struct {
	cursor

	ctx       context.Context
	db        *DB
	path      string
	options   map[string]interface{}
	batch     int
	remaining int // -1 for no limit
	byKeys    bool
	skip      int

	buf      []Row
	done     bool
	requests int
	err      error
}

// IterView returns an iterator over the rows of the named view, fetched batch
// rows at a time. A limit option caps the total number of rows returned.
// A batch size or limit less than 1 is a configuration error. No request is
// made until the first call to Next.
func (db *DB) IterView(ctx context.Context, name string, batch int, opts ...Option) (*BatchIterator, error) {
	if batch <= 0 {
		return nil, configError("batch size must be positive, got %d", batch)
	}
	path, err := viewPath(name)
	if err != nil {
		return nil, err
	}
	options := params(opts)
	remaining := -1
	if limit, ok := options["limit"]; ok {
		n, ok := toInt(limit)
		if !ok || n <= 0 {
			return nil, configError("limit must be a positive integer, got %v", limit)
		}
		remaining = n
		delete(options, "limit")
	}
	_, byKeys := options["keys"]
	skip := 0
	if byKeys {
		if v, ok := options["skip"]; ok {
			n, ok := toInt(v)
			if !ok || n < 0 {
				return nil, configError("skip must be a non-negative integer, got %v", v)
			}
			skip = n
		}
	}
	return &BatchIterator{
		cursor:    cursor{wrap: newRSConfig(opts).wrap},
		ctx:       ctx,
		db:        db,
		path:      db.path(path),
		options:   options,
		batch:     batch,
		remaining: remaining,
		byKeys:    byKeys,
		skip:      skip,
	}, nil
}

func (it *BatchIterator) fetch() error {
	loopLimit := it.batch
	if it.remaining >= 0 && it.remaining < loopLimit {
		loopLimit = it.remaining
	}
	it.options["limit"] = loopLimit + 1
	if it.byKeys {
		it.options["skip"] = it.skip
	}
	page, err := it.db.client.fetchViewPage(it.ctx, it.path, it.options)
	if err != nil {
		return err
	}
	it.requests++
	it.page = page
	rows := page.Rows
	switch {
	case len(rows) > loopLimit && it.byKeys:
		it.skip += loopLimit
		rows = rows[:loopLimit]
	case len(rows) > loopLimit:
		next := rows[loopLimit]
		key := next.Key
		if len(key) == 0 {
			key = json.RawMessage("null")
		}
		it.options["startkey"] = key
		if next.ID != "" {
			it.options["startkey_docid"] = next.ID
		}
		it.options["skip"] = 0
		rows = rows[:loopLimit]
	default:
		it.done = true
	}
	if it.remaining >= 0 {
		it.remaining -= len(rows)
		if it.remaining <= 0 {
			it.done = true
		}
	}
	it.db.client.log.Debugf("batch %d: %d rows, done=%t", it.requests, len(rows), it.done)
	it.buf = rows
	return nil
}

// Next prepares the next row for reading, fetching the next batch when
// needed. It returns false when the rows are exhausted, or an error
// occurred.
func (it *BatchIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for len(it.buf) == 0 {
		if it.done {
			return false
		}
		if err := it.fetch(); err != nil {
			it.err = err
			return false
		}
	}
	row := it.buf[0]
	it.buf = it.buf[1:]
	if err := it.setRow(row); err != nil {
		it.err = err
		return false
	}
	return true
}

// Err returns the error, if any, that was encountered during iteration.
func (it *BatchIterator) Err() error {
	return it.err
}

// Requests returns the number of requests made so far.
func (it *BatchIterator) Requests() int {
	return it.requests
}

// Close stops the iteration.
func (it *BatchIterator) Close() error {
	it.done = true
	it.buf = nil
	return nil
}
