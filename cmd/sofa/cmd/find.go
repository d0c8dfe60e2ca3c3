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
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-kivik/sofa"
	"github.com/go-kivik/sofa/cmd/sofa/errors"
)

const matchAll = `{"_id":{"$gt":null}}`

type find struct {
	*root
	selector string
	limit    int
	fields   []string
	sort     []string
	useIndex string
	bookmark string
	all      bool
	parallel int
}

func findCmd(r *root) *cobra.Command {
	c := &find{
		root: r,
	}

	cmd := &cobra.Command{
		Use:   "find <db> [<db>...]",
		Short: "Run a Mango query",
		Long: `Run a Mango query against one or more databases.

By default, a single page of results is returned, along with the bookmark
needed to fetch the next one. With --all, every page is fetched. When more
than one database is named, they are queried concurrently.`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.RunE,
	}

	f := cmd.Flags()
	f.StringVarP(&c.selector, "selector", "s", matchAll, "Query selector, as JSON")
	f.IntVarP(&c.limit, "limit", "l", 0, "Page size")
	f.StringSliceVar(&c.fields, "fields", nil, "Fields to return")
	f.StringSliceVar(&c.sort, "sort", nil, "Sort fields, as field or field:desc")
	f.StringVar(&c.useIndex, "use-index", "", "Index to use, as ddoc or ddoc/name")
	f.StringVar(&c.bookmark, "bookmark", "", "Resume from a bookmark")
	f.BoolVarP(&c.all, "all", "a", false, "Fetch every page")
	f.IntVar(&c.parallel, "parallel", 4, "Maximum number of databases queried at once") //nolint:gomnd
	return cmd
}

type findResult struct {
	DB          string            `json:"db,omitempty"`
	Docs        []json.RawMessage `json:"docs"`
	Bookmark    string            `json:"bookmark,omitempty"`
	HasNextPage bool              `json:"has_next_page"`
	Pages       int               `json:"pages"`
	Warning     string            `json:"warning,omitempty"`
}

func parseSort(fields []string) ([]sofa.SortField, error) {
	sort := make([]sofa.SortField, 0, len(fields))
	for _, field := range fields {
		name, dir, _ := strings.Cut(field, ":")
		switch strings.ToLower(dir) {
		case "", "asc":
			sort = append(sort, sofa.Asc(name))
		case "desc":
			sort = append(sort, sofa.Desc(name))
		default:
			return nil, errors.Codef(errors.ErrUsage, "invalid sort direction %q for %s", dir, name)
		}
	}
	return sort, nil
}

func (c *find) query() (*sofa.Query, error) {
	var selector map[string]interface{}
	if err := json.Unmarshal([]byte(c.selector), &selector); err != nil {
		return nil, errors.Code(errors.ErrData, fmt.Errorf("invalid selector: %w", err))
	}
	var extra []sofa.Option
	if c.limit > 0 {
		extra = append(extra, sofa.Limit(c.limit))
	}
	if len(c.fields) > 0 {
		extra = append(extra, sofa.Fields(c.fields...))
	}
	if len(c.sort) > 0 {
		sort, err := parseSort(c.sort)
		if err != nil {
			return nil, err
		}
		extra = append(extra, sofa.Sort(sort...))
	}
	if c.useIndex != "" {
		extra = append(extra, sofa.UseIndex(c.useIndex))
	}
	if c.bookmark != "" {
		extra = append(extra, sofa.Bookmark(c.bookmark))
	}
	return sofa.NewQuery(selector, c.opts(extra...)...)
}

func (c *find) RunE(cmd *cobra.Command, args []string) error {
	query, err := c.query()
	if err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		result, err := c.findOne(cmd.Context(), client.DB(args[0]), query)
		if err != nil {
			return err
		}
		return c.fmt.OutputValue(result)
	}

	results := make([]*findResult, len(args))
	g, ctx := errgroup.WithContext(cmd.Context())
	if c.parallel > 0 {
		g.SetLimit(c.parallel)
	}
	for i, name := range args {
		i, name := i, name
		g.Go(func() error {
			result, err := c.findOne(ctx, client.DB(name), query)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			result.DB = name
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return c.fmt.OutputValue(results)
}

func (c *find) findOne(ctx context.Context, db *sofa.DB, query *sofa.Query) (*findResult, error) {
	f := db.NewFind(query, sofa.AutoPaginate(c.all))
	var rs *sofa.ResultSet
	err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		rs, err = f.Iterate(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer rs.Close() // nolint:errcheck
	result := &findResult{Docs: []json.RawMessage{}}
	for rs.Next() {
		result.Docs = append(result.Docs, rs.Row().Doc)
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	result.Bookmark = rs.Bookmark()
	result.HasNextPage = rs.HasNextPage()
	result.Pages = rs.Pages()
	result.Warning = rs.Warning()
	c.log.Debugf("[find] %s: %d docs in %d pages", db.Name(), len(result.Docs), result.Pages)
	return result, nil
}
