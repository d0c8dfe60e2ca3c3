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
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-kivik/sofa/chttp"
	internal "github.com/go-kivik/sofa/internal"
	"github.com/go-kivik/sofa/log"
)

// Client is a connection to a CouchDB server. It is safe for concurrent use.
type Client struct {
	client *chttp.Client
	log    log.Logger

	mu      sync.Mutex
	version *[3]int
}

// New returns a client for the server at dsn. Credentials included in the
// DSN are used for cookie authentication. The DSN is never read from the
// environment; that is left to the application.
func New(dsn string, opts ...Option) (*Client, error) {
	httpClient := &http.Client{}
	for _, opt := range opts {
		if opt != nil {
			opt.Apply(httpClient)
		}
	}
	cl, err := chttp.New(httpClient, dsn, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		client: cl,
		log:    cl.Logger(),
	}, nil
}

// DSN returns the server URL, without credentials.
func (c *Client) DSN() string {
	return c.client.DSN()
}

// ServerInfo is the server's welcome message.
type ServerInfo struct {
	CouchDB  string            `json:"couchdb"`
	Version  string            `json:"version"`
	UUID     string            `json:"uuid,omitempty"`
	Vendor   map[string]string `json:"vendor,omitempty"`
	Features []string          `json:"features,omitempty"`
}

// Info returns the server's welcome message.
func (c *Client) Info(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.client.DoJSON(ctx, http.MethodGet, "/", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Version returns the server version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return "", err
	}
	return info.Version, nil
}

// VersionInfo returns the major, minor and patch parts of the server version.
// The result is cached after the first successful call.
func (c *Client) VersionInfo(ctx context.Context) ([3]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != nil {
		return *c.version, nil
	}
	version, err := c.Version(ctx)
	if err != nil {
		return [3]int{}, err
	}
	var parts [3]int
	for i, part := range strings.SplitN(version, ".", 3) { // nolint:gomnd
		n, err := strconv.Atoi(strings.SplitN(part, "-", 2)[0]) // nolint:gomnd
		if err != nil {
			return [3]int{}, &internal.Error{Kind: internal.KindMalformedResponse, Status: http.StatusBadGateway, Message: "invalid server version " + version, Err: err}
		}
		parts[i] = n
	}
	c.version = &parts
	return parts, nil
}

// Ping reports whether the server is reachable.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	_, err := c.client.DoError(ctx, http.MethodHead, "/", nil)
	if err != nil {
		if internal.KindOf(err) == internal.KindTransport {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AllDBs returns the names of all databases.
func (c *Client) AllDBs(ctx context.Context, opts ...Option) ([]string, error) {
	reqOpts, err := requestOptions(opts)
	if err != nil {
		return nil, err
	}
	var dbs []string
	err = c.client.DoJSON(ctx, http.MethodGet, "/_all_dbs", reqOpts, &dbs)
	return dbs, err
}

// DBExists reports whether the named database exists.
func (c *Client) DBExists(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, missingArg("name")
	}
	_, err := c.client.DoError(ctx, http.MethodHead, url.PathEscape(name), nil)
	if internal.KindOf(err) == internal.KindNotFound {
		return false, nil
	}
	return err == nil, err
}

// CreateDB creates the named database, and returns a handle to it.
func (c *Client) CreateDB(ctx context.Context, name string, opts ...Option) (*DB, error) {
	if name == "" {
		return nil, missingArg("name")
	}
	reqOpts, err := requestOptions(opts)
	if err != nil {
		return nil, err
	}
	if _, err := c.client.DoError(ctx, http.MethodPut, url.PathEscape(name), reqOpts); err != nil {
		return nil, err
	}
	return c.DB(name), nil
}

// DestroyDB deletes the named database.
func (c *Client) DestroyDB(ctx context.Context, name string) error {
	if name == "" {
		return missingArg("name")
	}
	_, err := c.client.DoError(ctx, http.MethodDelete, url.PathEscape(name), nil)
	return err
}

// DB returns a handle to the named database. No request is made.
func (c *Client) DB(name string) *DB {
	return &DB{client: c, name: name}
}

// UUIDs returns count UUIDs generated by the server.
func (c *Client) UUIDs(ctx context.Context, count int) ([]string, error) {
	if count < 1 {
		return nil, configError("count must be positive, got %d", count)
	}
	var result struct {
		UUIDs []string `json:"uuids"`
	}
	opts := &chttp.Options{Query: url.Values{"count": []string{strconv.Itoa(count)}}}
	if err := c.client.DoJSON(ctx, http.MethodGet, "/_uuids", opts, &result); err != nil {
		return nil, err
	}
	return result.UUIDs, nil
}

// ActiveTasks returns the tasks running on the server.
func (c *Client) ActiveTasks(ctx context.Context) ([]map[string]interface{}, error) {
	var tasks []map[string]interface{}
	err := c.client.DoJSON(ctx, http.MethodGet, "/_active_tasks", nil, &tasks)
	return tasks, err
}

// Stats returns the statistics of the local node. If path is given, only the
// named group or metric is returned, e.g. Stats(ctx, "couchdb", "request_time").
func (c *Client) Stats(ctx context.Context, path ...string) (map[string]interface{}, error) {
	p := "/_node/_local/_stats"
	for _, part := range path {
		p += "/" + url.PathEscape(part)
	}
	var stats map[string]interface{}
	err := c.client.DoJSON(ctx, http.MethodGet, p, nil, &stats)
	return stats, err
}

// Config returns the configuration of node. Use "_local" for the node the
// client is connected to.
func (c *Client) Config(ctx context.Context, node string) (map[string]map[string]string, error) {
	var conf map[string]map[string]string
	err := c.client.DoJSON(ctx, http.MethodGet, "/_node/"+url.PathEscape(node)+"/_config", nil, &conf)
	return conf, err
}

// ConfigValue returns a single configuration value of node.
func (c *Client) ConfigValue(ctx context.Context, node, section, key string) (string, error) {
	var value string
	path := "/_node/" + url.PathEscape(node) + "/_config/" + url.PathEscape(section) + "/" + url.PathEscape(key)
	err := c.client.DoJSON(ctx, http.MethodGet, path, nil, &value)
	return value, err
}

// ReplicationResult is the response to a one-off replication.
type ReplicationResult struct {
	OK            bool                     `json:"ok"`
	SessionID     string                   `json:"session_id"`
	SourceLastSeq SequenceID               `json:"source_last_seq"`
	History       []map[string]interface{} `json:"history"`
	DocsWritten   int64                    `json:"docs_written"`
}

// Replicate replicates source to target. Options such as
// Param("create_target", true), Param("continuous", true) or
// Param("doc_ids", ids) are included in the request body.
func (c *Client) Replicate(ctx context.Context, source, target string, opts ...Option) (*ReplicationResult, error) {
	if source == "" {
		return nil, missingArg("source")
	}
	if target == "" {
		return nil, missingArg("target")
	}
	body := params(opts)
	body["source"] = source
	body["target"] = target
	reqOpts := chttp.NewOptions(opts...)
	reqOpts.GetBody = chttp.BodyEncoder(body)
	var result ReplicationResult
	if err := c.client.DoJSON(ctx, http.MethodPost, "/_replicate", reqOpts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func missingArg(arg string) error {
	return configError("%s required", arg)
}
