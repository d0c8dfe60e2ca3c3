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
	"github.com/spf13/cobra"

	"github.com/go-kivik/sofa"
)

type iterView struct {
	*root
	batch       int
	limit       int
	startKey    string
	endKey      string
	includeDocs bool
}

func iterViewCmd(r *root) *cobra.Command {
	c := &iterView{
		root: r,
	}

	cmd := &cobra.Command{
		Use:   "iterview <db> <ddoc/view>",
		Short: "Stream the rows of a view in batches",
		Long: `Stream the rows of a view, fetched a batch at a time. Each row is written
as a separate document, as soon as it is read.`,
		Args: cobra.ExactArgs(2), //nolint:gomnd
		RunE: c.RunE,
	}

	f := cmd.Flags()
	f.IntVarP(&c.batch, "batch", "b", 100, "Number of rows fetched per request") //nolint:gomnd
	f.IntVarP(&c.limit, "limit", "l", 0, "Maximum number of rows to return")
	f.StringVar(&c.startKey, "start-key", "", "Return rows starting with this key")
	f.StringVar(&c.endKey, "end-key", "", "Return rows up to and including this key")
	f.BoolVar(&c.includeDocs, "include-docs", false, "Include the document with each row")
	return cmd
}

func (c *iterView) RunE(cmd *cobra.Command, args []string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	var extra []sofa.Option
	if cmd.Flags().Changed("limit") {
		extra = append(extra, sofa.Limit(c.limit))
	}
	if c.includeDocs {
		extra = append(extra, sofa.IncludeDocs())
	}
	if key := parseKey(c.startKey); key != nil {
		extra = append(extra, sofa.Param("startkey", key))
	}
	if key := parseKey(c.endKey); key != nil {
		extra = append(extra, sofa.Param("endkey", key))
	}
	it, err := client.DB(args[0]).IterView(cmd.Context(), args[1], c.batch, c.opts(extra...)...)
	if err != nil {
		return err
	}
	defer it.Close() // nolint:errcheck
	var count int
	for it.Next() {
		if err := c.fmt.OutputValue(it.Row()); err != nil {
			return err
		}
		count++
	}
	if err := it.Err(); err != nil {
		return err
	}
	c.log.Debugf("[iterview] %d rows in %d requests", count, it.Requests())
	return nil
}
