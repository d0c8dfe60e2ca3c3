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

// Package internal holds the error type shared by the sofa packages, and the
// logic to classify CouchDB error responses.
package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of error. A Kind is itself an error, so that it may
// be used as an [errors.Is] target.
type Kind int

// Error kinds.
const (
	KindGeneric Kind = iota
	KindNotFound
	KindConflict
	KindUnauthorized
	KindMalformedResponse
	KindConfiguration
	KindTransport
)

var kindNames = map[Kind]string{
	KindGeneric:           "generic",
	KindNotFound:          "not found",
	KindConflict:          "conflict",
	KindUnauthorized:      "unauthorized",
	KindMalformedResponse: "malformed response",
	KindConfiguration:     "configuration error",
	KindTransport:         "transport error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) Error() string {
	return "sofa: " + k.String()
}

// status returns the HTTP status conventionally associated with k.
func (k Kind) status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConfiguration:
		return http.StatusBadRequest
	case KindMalformedResponse, KindTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Error represents an error returned by a CouchDB server, or produced locally
// while talking to one.
type Error struct {
	// Kind is the classification of the error.
	Kind Kind

	// Status is the HTTP status code of the response, or a status code
	// appropriate to a locally generated error. If zero, a status is derived
	// from Kind.
	Status int

	// Name is the value of the `error` field of a CouchDB error response.
	Name string

	// Reason is the value of the `reason` field of a CouchDB error response.
	Reason string

	// Message is an optional client-side description of the error.
	Message string

	// Err is the wrapped error, if any.
	Err error
}

var _ interface {
	error
	HTTPStatus() int
	Unwrap() error
} = &Error{}

func (e *Error) Error() string {
	var msg string
	switch {
	case e.Err != nil:
		msg = e.Err.Error()
	case e.Reason != "":
		msg = e.Reason
	case e.Name != "":
		msg = e.Name
	default:
		msg = http.StatusText(e.HTTPStatus())
	}
	if e.Message == "" {
		return msg
	}
	return e.Message + ": " + msg
}

// Format implements [fmt.Formatter]. The `%+v` verb includes the HTTP status.
func (e *Error) Format(f fmt.State, c rune) {
	const partsLen = 3
	parts := make([]string, 0, partsLen)
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	full := c == 'v' && f.Flag('+')
	status := e.HTTPStatus()
	if full {
		parts = append(parts, fmt.Sprintf("%d / %s", status, http.StatusText(status)))
	}
	switch {
	case e.Err != nil:
		parts = append(parts, e.Err.Error())
	case e.Reason != "":
		parts = append(parts, e.Reason)
	case e.Name != "":
		parts = append(parts, e.Name)
	case !full:
		parts = append(parts, http.StatusText(status))
	}
	for i, part := range parts {
		if i > 0 {
			_, _ = f.Write([]byte(": "))
		}
		_, _ = f.Write([]byte(part))
	}
}

// HTTPStatus returns the HTTP status code associated with the error.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.status()
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, KindNotFound) and similar checks.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// NewError returns a new error of the given kind. args are passed to
// fmt.Sprint to form the error text.
func NewError(kind Kind, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: errors.New(fmt.Sprint(args...))}
}

// Errorf returns a new error of the given kind. The arguments are passed to
// fmt.Errorf, so %w may be used to wrap another error.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// names maps CouchDB error names and reasons to a Kind. Both fields are
// consulted, since CouchDB commonly sends a free-text reason with a well-known
// error name, e.g. {"error":"not_found","reason":"missing"}.
var names = map[string]Kind{
	"conflict":     KindConflict,
	"unauthorized": KindUnauthorized,
	"not_found":    KindNotFound,
}

func lookup(name, reason string) Kind {
	if kind, ok := names[reason]; ok {
		return kind
	}
	if kind, ok := names[name]; ok {
		return kind
	}
	return KindGeneric
}

// Classify converts a failed HTTP response into an *Error. body may be empty
// or malformed; Classify never fails.
func Classify(status int, body []byte) *Error {
	var payload struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return &Error{
			Kind:   KindMalformedResponse,
			Status: status,
			Name:   "json",
			Reason: fmt.Sprintf("invalid JSON in response body (status %d)", status),
		}
	}
	return &Error{
		Kind:   lookup(payload.Error, payload.Reason),
		Status: status,
		Name:   payload.Error,
		Reason: payload.Reason,
	}
}

// FromStatus classifies a response which has no body, such as the reply to a
// HEAD request.
func FromStatus(status int) *Error {
	var kind Kind
	switch status {
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusConflict:
		kind = KindConflict
	case http.StatusUnauthorized:
		kind = KindUnauthorized
	}
	return &Error{Kind: kind, Status: status}
}

// FromName builds an error from an error/reason pair embedded in a larger
// response, such as a bulk update result or a view row.
func FromName(name, reason string) *Error {
	kind := lookup(name, reason)
	status := kind.status()
	if name == "forbidden" {
		status = http.StatusForbidden
	}
	return &Error{Kind: kind, Status: status, Name: name, Reason: reason}
}

// HTTPStatus returns the HTTP status code embedded in err, 500 if none is
// found, or 0 for a nil error.
func HTTPStatus(err error) int {
	if err == nil {
		return 0
	}
	var coder interface {
		HTTPStatus() int
	}
	if errors.As(err, &coder) {
		return coder.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// KindOf returns the Kind of err, or KindGeneric if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}
