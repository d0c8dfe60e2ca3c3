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

	"github.com/spf13/cobra"

	"github.com/go-kivik/sofa"
)

type get struct {
	*root
	rev string
}

func getCmd(r *root) *cobra.Command {
	c := &get{
		root: r,
	}

	cmd := &cobra.Command{
		Use:   "get <db> <docid>",
		Short: "Fetch a document",
		Args:  cobra.ExactArgs(2), //nolint:gomnd
		RunE:  c.RunE,
	}
	cmd.Flags().StringVar(&c.rev, "rev", "", "Fetch a specific revision")
	return cmd
}

func (c *get) RunE(cmd *cobra.Command, args []string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	db := client.DB(args[0])
	var extra []sofa.Option
	if c.rev != "" {
		extra = append(extra, sofa.Param("rev", c.rev))
	}
	var doc sofa.Document
	err = c.retry(cmd.Context(), func(ctx context.Context) error {
		var err error
		doc, err = db.GetDocument(ctx, args[1], c.opts(extra...)...)
		return err
	})
	if err != nil {
		return err
	}
	return c.fmt.OutputValue(doc)
}
