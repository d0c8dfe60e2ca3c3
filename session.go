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
	"net/http"

	"github.com/go-kivik/sofa/chttp"
)

// Session describes the authenticated user.
type Session struct {
	Name                   string
	Roles                  []string
	AuthenticationMethod   string
	AuthenticationDB       string
	AuthenticationHandlers []string
}

// Login starts a cookie session with the given credentials.
func (c *Client) Login(ctx context.Context, name, password string) error {
	if name == "" {
		return missingArg("name")
	}
	return c.client.Login(ctx, name, password)
}

// Logout ends the current cookie session.
func (c *Client) Logout(ctx context.Context) error {
	return c.client.Logout(ctx)
}

// Session returns the current session. An unauthenticated session has an
// empty Name.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	var result struct {
		UserCtx struct {
			Name  string   `json:"name"`
			Roles []string `json:"roles"`
		} `json:"userCtx"`
		Info struct {
			Authenticated          string   `json:"authenticated"`
			AuthenticationDB       string   `json:"authentication_db"`
			AuthenticationHandlers []string `json:"authentication_handlers"`
		} `json:"info"`
	}
	if err := c.client.DoJSON(ctx, http.MethodGet, "/_session", nil, &result); err != nil {
		return nil, err
	}
	return &Session{
		Name:                   result.UserCtx.Name,
		Roles:                  result.UserCtx.Roles,
		AuthenticationMethod:   result.Info.Authenticated,
		AuthenticationDB:       result.Info.AuthenticationDB,
		AuthenticationHandlers: result.Info.AuthenticationHandlers,
	}, nil
}

const usersDB = "_users"

func userDocID(name string) string {
	return "org.couchdb.user:" + name
}

// AddUser creates a user in the _users database, and returns the revision of
// the user document.
func (c *Client) AddUser(ctx context.Context, name, password string, roles ...string) (string, error) {
	if name == "" {
		return "", missingArg("name")
	}
	if password == "" {
		return "", missingArg("password")
	}
	if roles == nil {
		roles = []string{}
	}
	user := map[string]interface{}{
		"_id":      userDocID(name),
		"name":     name,
		"password": password,
		"roles":    roles,
		"type":     "user",
	}
	return c.DB(usersDB).Put(ctx, userDocID(name), user, chttp.OptionFullCommit())
}

// RemoveUser deletes a user from the _users database.
func (c *Client) RemoveUser(ctx context.Context, name string) error {
	if name == "" {
		return missingArg("name")
	}
	_, err := c.DB(usersDB).Delete(ctx, userDocID(name), "")
	return err
}
