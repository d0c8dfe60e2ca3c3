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
	"github.com/go-kivik/sofa/chttp"
)

type version struct {
	*root
}

func versionCmd(r *root) *cobra.Command {
	c := &version{
		root: r,
	}

	return &cobra.Command{
		Use:   "version",
		Short: "Display client and server versions",
		Args:  cobra.NoArgs,
		RunE:  c.RunE,
	}
}

func (c *version) RunE(cmd *cobra.Command, _ []string) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	var info *sofa.ServerInfo
	err = c.retry(cmd.Context(), func(ctx context.Context) error {
		var err error
		info, err = client.Info(ctx)
		return err
	})
	if err != nil {
		return err
	}
	return c.fmt.OutputValue(map[string]interface{}{
		"client": chttp.Version,
		"server": info,
	})
}
