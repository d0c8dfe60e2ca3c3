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

	"github.com/go-kivik/sofa/log"
)

// possible states of a result set
const (
	// stateEmpty is the state before the first page is fetched.
	stateEmpty = iota
	// stateBuffered means rows are available, either buffered or on a page
	// which has not been fetched yet.
	stateBuffered
	// stateExhausted means the last row has been read.
	stateExhausted
	// stateClosed means the result set was closed by the caller.
	stateClosed
)

// cursor holds the current row of a result set, and the metadata of the most
// recently fetched page.
type cursor struct {
	wrap func(Row) (interface{}, error)
	row  Row
	item interface{}
	page *Page
}

func (c *cursor) setRow(row Row) error {
	c.row = row
	if c.wrap == nil {
		c.item = row
		return nil
	}
	item, err := c.wrap(row)
	if err != nil {
		return err
	}
	c.item = item
	return nil
}

// Row returns the current row.
func (c *cursor) Row() Row { return c.row }

// ID returns the document ID of the current row.
func (c *cursor) ID() string { return c.row.ID }

// Key returns the raw JSON key of the current row.
func (c *cursor) Key() string { return string(c.row.Key) }

// ScanKey unmarshals the key of the current row into dest.
func (c *cursor) ScanKey(dest interface{}) error { return c.row.ScanKey(dest) }

// ScanValue unmarshals the value of the current row into dest.
func (c *cursor) ScanValue(dest interface{}) error { return c.row.ScanValue(dest) }

// ScanDoc unmarshals the document of the current row into dest.
func (c *cursor) ScanDoc(dest interface{}) error { return c.row.ScanDoc(dest) }

// Item returns the current row, as converted by the function passed to
// [WrapRows], or the [Row] itself if no function was set.
func (c *cursor) Item() interface{} { return c.item }

// Bookmark returns the bookmark of the most recently fetched page.
func (c *cursor) Bookmark() string {
	if c.page == nil {
		return ""
	}
	return c.page.Bookmark
}

// TotalRows returns the total number of rows in the view, as reported with
// the most recently fetched page, or -1 if it was not reported.
func (c *cursor) TotalRows() int64 {
	if c.page == nil || c.page.TotalRows == nil {
		return -1
	}
	return *c.page.TotalRows
}

// Offset returns the offset of the most recently fetched page.
func (c *cursor) Offset() int64 {
	if c.page == nil {
		return 0
	}
	return c.page.Offset
}

// UpdateSeq returns the update sequence of the most recently fetched page,
// if it was requested.
func (c *cursor) UpdateSeq() string {
	if c.page == nil {
		return ""
	}
	return string(c.page.UpdateSeq)
}

// Warning returns the warning sent with the most recently fetched page.
func (c *cursor) Warning() string {
	if c.page == nil {
		return ""
	}
	return c.page.Warning
}

// ExecutionStats returns the execution statistics of the most recently
// fetched page, if they were requested.
func (c *cursor) ExecutionStats() map[string]interface{} {
	if c.page == nil {
		return nil
	}
	return c.page.ExecutionStats
}

// pager fetches the page which follows bookmark. An empty bookmark requests
// the first page.
type pager func(ctx context.Context, bookmark string) (*Page, error)

// ResultSet is a lazy sequence of rows, fetched a page at a time. Call Next
// to advance to each row:
//
//	rs, err := db.Find(ctx, query)
//	if err != nil {
//		return err
//	}
//	defer rs.Close()
//	for rs.Next() {
//		var doc MyDoc
//		if err := rs.ScanDoc(&doc); err != nil {
//			return err
//		}
//	}
//	return rs.Err()
//
// When the buffered rows are consumed, and the last page was full and came
// with a bookmark, the next page is fetched. A page with fewer rows than the
// page size is taken to be the last one. A full last page therefore costs
// one more request, which returns no rows.
//
// A ResultSet is not safe for concurrent use, and cannot be restarted.
type ResultSet struct {
	cursor

	ctx          context.Context
	fetch        pager
	pageSize     int
	autoPaginate bool
	log          log.Logger

	state       int
	buf         []Row
	hasNextPage bool
	pages       int
	err         error
}

// newResultSet returns a ResultSet, after fetching its first page.
func newResultSet(ctx context.Context, c *Client, fetch pager, pageSize int, cfg rsConfig) (*ResultSet, error) {
	rs := &ResultSet{
		cursor:       cursor{wrap: cfg.wrap},
		ctx:          ctx,
		fetch:        fetch,
		pageSize:     pageSize,
		autoPaginate: cfg.autoPaginate,
		log:          c.log,
	}
	if err := rs.nextPage(""); err != nil {
		return nil, err
	}
	return rs, nil
}

func (rs *ResultSet) nextPage(bookmark string) error {
	page, err := rs.fetch(rs.ctx, bookmark)
	if err != nil {
		return err
	}
	rs.pages++
	rs.page = page
	rs.buf = append(rs.buf, page.Rows...)
	rs.hasNextPage = page.Bookmark != "" && len(page.Rows) == rs.pageSize
	if len(rs.buf) > 0 || rs.hasNextPage {
		rs.state = stateBuffered
	} else {
		rs.state = stateExhausted
	}
	return nil
}

// Next prepares the next row for reading. It returns false when there are no
// more rows, or if an error occurred, which is then available from
// [ResultSet.Err].
func (rs *ResultSet) Next() bool {
	if rs.state != stateBuffered || rs.err != nil {
		return false
	}
	if len(rs.buf) == 0 {
		if !rs.autoPaginate || !rs.hasNextPage {
			rs.state = stateExhausted
			return false
		}
		rs.log.Debugf("fetching page %d with bookmark %q", rs.pages+1, rs.page.Bookmark)
		if err := rs.nextPage(rs.page.Bookmark); err != nil {
			rs.err = err
			return false
		}
		if len(rs.buf) == 0 {
			rs.state = stateExhausted
			return false
		}
	}
	row := rs.buf[0]
	rs.buf = rs.buf[1:]
	if err := rs.setRow(row); err != nil {
		rs.err = err
		return false
	}
	return true
}

// Err returns the error, if any, that was encountered during iteration.
func (rs *ResultSet) Err() error {
	return rs.err
}

// HasNextPage reports whether another page is expected after the most
// recently fetched one.
func (rs *ResultSet) HasNextPage() bool {
	return rs.hasNextPage
}

// Pages returns the number of pages fetched so far.
func (rs *ResultSet) Pages() int {
	return rs.pages
}

// Close discards any buffered rows. Calling Next after Close returns false.
func (rs *ResultSet) Close() error {
	rs.state = stateClosed
	rs.buf = nil
	return nil
}

// Find is a configured query, which may be executed one page at a time, or
// iterated as a [ResultSet].
type Find struct {
	db    *DB
	query *Query
	cfg   rsConfig
}

// NewFind returns a configured query against db. The options may include
// [AutoPaginate] and [WrapRows].
func (db *DB) NewFind(query *Query, opts ...Option) *Find {
	return &Find{
		db:    db,
		query: query,
		cfg:   newRSConfig(opts),
	}
}

// Execute fetches a single page of results. If bookmark is non-empty, it
// replaces the bookmark of the query.
func (f *Find) Execute(ctx context.Context, bookmark string) (*Page, error) {
	if f.query == nil {
		return nil, missingArg("query")
	}
	q := f.query
	if bookmark != "" {
		q = q.Clone()
		if err := q.Set("bookmark", bookmark); err != nil {
			return nil, err
		}
	}
	return f.db.client.fetchFindPage(ctx, f.db.path("_find"), q)
}

// Iterate returns a new ResultSet, having fetched the first page. Every call
// starts from the beginning of the query.
func (f *Find) Iterate(ctx context.Context) (*ResultSet, error) {
	if f.query == nil {
		return nil, missingArg("query")
	}
	return newResultSet(ctx, f.db.client, f.Execute, f.query.PageSize(), f.cfg)
}

// Find executes query, and returns the results.
func (db *DB) Find(ctx context.Context, query *Query, opts ...Option) (*ResultSet, error) {
	return db.NewFind(query, opts...).Iterate(ctx)
}
