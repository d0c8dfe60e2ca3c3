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

	"github.com/spf13/cobra"

	"github.com/go-kivik/sofa"
	"github.com/go-kivik/sofa/cmd/sofa/errors"
)

type changes struct {
	*root
	feed        string
	since       string
	limit       int
	timeout     int
	heartbeat   int
	includeDocs bool
	docIDs      []string
	selector    string
}

func changesCmd(r *root) *cobra.Command {
	c := &changes{
		root: r,
	}

	cmd := &cobra.Command{
		Use:   "changes <db>",
		Short: "Read a database's changes feed",
		Long: `Read a database's changes feed.

Normal and longpoll feeds are written as a single document. A continuous feed
is written one change at a time, until the server ends the feed.`,
		Args: cobra.ExactArgs(1),
		RunE: c.RunE,
	}

	f := cmd.Flags()
	f.StringVar(&c.feed, "feed", "normal", "Feed type: normal, longpoll or continuous")
	f.StringVar(&c.since, "since", "", "Start with changes after this sequence, or \"now\"")
	f.IntVarP(&c.limit, "limit", "l", 0, "Maximum number of changes to return")
	f.IntVar(&c.timeout, "timeout", 0, "Milliseconds to wait for changes before the feed ends")
	f.IntVar(&c.heartbeat, "heartbeat", 0, "Milliseconds between heartbeats on an idle feed")
	f.BoolVar(&c.includeDocs, "include-docs", false, "Include the document with each change")
	f.StringSliceVar(&c.docIDs, "doc-ids", nil, "Only report changes to these documents")
	f.StringVarP(&c.selector, "selector", "s", "", "Only report changes to documents matching this selector, given as JSON")
	return cmd
}

func (c *changes) options() ([]sofa.Option, error) {
	var extra []sofa.Option
	if c.since != "" {
		extra = append(extra, sofa.Param("since", c.since))
	}
	if c.limit > 0 {
		extra = append(extra, sofa.Limit(c.limit))
	}
	if c.timeout > 0 {
		extra = append(extra, sofa.Param("timeout", c.timeout))
	}
	if c.heartbeat > 0 {
		extra = append(extra, sofa.Param("heartbeat", c.heartbeat))
	}
	if c.includeDocs {
		extra = append(extra, sofa.IncludeDocs())
	}
	if len(c.docIDs) > 0 {
		extra = append(extra, sofa.Param("doc_ids", c.docIDs))
	}
	if c.selector != "" {
		var selector map[string]interface{}
		if err := json.Unmarshal([]byte(c.selector), &selector); err != nil {
			return nil, errors.Code(errors.ErrData, fmt.Errorf("invalid selector: %w", err))
		}
		extra = append(extra, sofa.Param("selector", selector))
	}
	return c.opts(extra...), nil
}

func (c *changes) RunE(cmd *cobra.Command, args []string) error {
	opts, err := c.options()
	if err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}
	db := client.DB(args[0])
	if c.feed == "continuous" {
		return c.follow(cmd.Context(), db, opts)
	}
	opts = append(opts, sofa.Param("feed", c.feed))
	var resp *sofa.ChangesResponse
	err = c.retry(cmd.Context(), func(ctx context.Context) error {
		var err error
		resp, err = db.Changes(ctx, opts...)
		return err
	})
	if err != nil {
		return err
	}
	if resp.Results == nil {
		resp.Results = []sofa.ChangeEvent{}
	}
	return c.fmt.OutputValue(resp)
}

func (c *changes) follow(ctx context.Context, db *sofa.DB, opts []sofa.Option) error {
	var feed *sofa.ChangesFeed
	err := c.retry(ctx, func(ctx context.Context) error {
		var err error
		feed, err = db.ChangesFeed(ctx, opts...)
		return err
	})
	if err != nil {
		return err
	}
	defer feed.Close() // nolint:errcheck
	for feed.Next() {
		change := feed.Change()
		if change.IsLastSeq() {
			c.log.Debugf("[changes] last_seq: %s", change.LastSeq)
		}
		if err := c.fmt.OutputValue(change); err != nil {
			return err
		}
	}
	return feed.Err()
}
