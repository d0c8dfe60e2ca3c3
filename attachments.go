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
	"io"
	"net/http"
	"net/url"

	"github.com/go-kivik/sofa/chttp"
)

// Attachment is a file attached to a document. The caller must close the
// content.
type Attachment struct {
	io.ReadCloser
	Filename    string
	ContentType string
	// Digest is the value of the server's Content-MD5 header, if any.
	Digest string
	Size   int64
}

func attachmentPath(docID, filename string) string {
	return chttp.EncodeDocID(docID) + "/" + url.PathEscape(filename)
}

// PutAttachment stores content as an attachment to a document, and returns
// the new document revision. rev may be empty only if the document does not
// exist yet.
func (db *DB) PutAttachment(ctx context.Context, docID, rev, filename, contentType string, content io.Reader) (string, error) {
	switch {
	case docID == "":
		return "", missingArg("docID")
	case filename == "":
		return "", missingArg("filename")
	case content == nil:
		return "", missingArg("content")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := &chttp.Options{
		ContentType: contentType,
		Body:        io.NopCloser(content),
		NoGzip:      true,
	}
	if rev != "" {
		opts.Query = url.Values{"rev": []string{rev}}
	}
	var result docResult
	if err := db.client.client.DoJSON(ctx, http.MethodPut, db.path(attachmentPath(docID, filename)), opts, &result); err != nil {
		return "", err
	}
	return result.Rev, nil
}

// GetAttachment fetches an attachment. The caller must close it.
func (db *DB) GetAttachment(ctx context.Context, docID, filename string) (*Attachment, error) {
	if docID == "" {
		return nil, missingArg("docID")
	}
	if filename == "" {
		return nil, missingArg("filename")
	}
	opts := &chttp.Options{Accept: "*/*"}
	resp, err := db.client.client.DoReq(ctx, http.MethodGet, db.path(attachmentPath(docID, filename)), opts)
	if err != nil {
		return nil, err
	}
	if err := chttp.ResponseError(resp); err != nil {
		return nil, err
	}
	return &Attachment{
		ReadCloser:  resp.Body,
		Filename:    filename,
		ContentType: resp.Header.Get("Content-Type"),
		Digest:      resp.Header.Get("Content-MD5"),
		Size:        resp.ContentLength,
	}, nil
}

// DeleteAttachment removes an attachment, and returns the new document
// revision.
func (db *DB) DeleteAttachment(ctx context.Context, docID, rev, filename string) (string, error) {
	switch {
	case docID == "":
		return "", missingArg("docID")
	case rev == "":
		return "", missingArg("rev")
	case filename == "":
		return "", missingArg("filename")
	}
	opts := &chttp.Options{Query: url.Values{"rev": []string{rev}}}
	var result docResult
	if err := db.client.client.DoJSON(ctx, http.MethodDelete, db.path(attachmentPath(docID, filename)), opts, &result); err != nil {
		return "", err
	}
	return result.Rev, nil
}
