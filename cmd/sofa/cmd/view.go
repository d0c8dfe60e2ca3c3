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

	"github.com/spf13/cobra"

	"github.com/go-kivik/sofa"
)

type view struct {
	*root
	key         string
	startKey    string
	endKey      string
	limit       int
	skip        int
	includeDocs bool
	descending  bool
	reduce      bool
	group       bool
}

func viewCmd(r *root) *cobra.Command {
	c := &view{
		root: r,
	}

	cmd := &cobra.Command{
		Use:   "view <db> <ddoc/view>",
		Short: "Query a view",
		Long: `Query a view, or one of the special views _all_docs and _design_docs.

Keys are given as JSON. A value which is not valid JSON is sent as a string.`,
		Args: cobra.ExactArgs(2), //nolint:gomnd
		RunE: c.RunE,
	}

	f := cmd.Flags()
	f.StringVarP(&c.key, "key", "k", "", "Return only rows with this key")
	f.StringVar(&c.startKey, "start-key", "", "Return rows starting with this key")
	f.StringVar(&c.endKey, "end-key", "", "Return rows up to and including this key")
	f.IntVarP(&c.limit, "limit", "l", 0, "Maximum number of rows to return")
	f.IntVar(&c.skip, "skip", 0, "Number of rows to skip")
	f.BoolVar(&c.includeDocs, "include-docs", false, "Include the document with each row")
	f.BoolVar(&c.descending, "descending", false, "Return rows in descending order")
	f.BoolVar(&c.reduce, "reduce", true, "Use the reduce function, if there is one")
	f.BoolVar(&c.group, "group", false, "Group reduce results by key")
	return cmd
}

type viewResult struct {
	TotalRows *int64     `json:"total_rows,omitempty"`
	Offset    int64      `json:"offset"`
	Rows      []sofa.Row `json:"rows"`
}

func (c *view) results(cmd *cobra.Command, db *sofa.DB, name string) *sofa.ViewResults {
	var extra []sofa.Option
	if c.limit > 0 {
		extra = append(extra, sofa.Limit(c.limit))
	}
	if c.skip > 0 {
		extra = append(extra, sofa.Skip(c.skip))
	}
	if c.includeDocs {
		extra = append(extra, sofa.IncludeDocs())
	}
	if c.descending {
		extra = append(extra, sofa.Descending())
	}
	if cmd.Flags().Changed("reduce") {
		extra = append(extra, sofa.Param("reduce", c.reduce))
	}
	if c.group {
		extra = append(extra, sofa.Param("group", true))
	}
	v := db.View(name, c.opts(extra...)...)
	switch {
	case cmd.Flags().Changed("key"):
		if c.key == "" {
			return v.Key(json.RawMessage(`""`))
		}
		return v.Key(parseKey(c.key))
	case c.startKey != "" || c.endKey != "":
		return v.Slice(parseKey(c.startKey), parseKey(c.endKey))
	}
	return v
}

func (c *view) RunE(cmd *cobra.Command, args []string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	v := c.results(cmd, client.DB(args[0]), args[1])
	var page *sofa.Page
	err = c.retry(cmd.Context(), func(ctx context.Context) error {
		var err error
		page, err = v.Fetch(ctx)
		return err
	})
	if err != nil {
		return err
	}
	rows := page.Rows
	if rows == nil {
		rows = []sofa.Row{}
	}
	return c.fmt.OutputValue(viewResult{
		TotalRows: page.TotalRows,
		Offset:    page.Offset,
		Rows:      rows,
	})
}
