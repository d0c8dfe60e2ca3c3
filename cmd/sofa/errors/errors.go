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

// Package errors maps sofa errors to process exit codes.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-kivik/sofa"
)

// Exit codes. The local failures follow sysexits(3); HTTP 4xx responses map
// to their status minus 390, so a 404 exits with 14.
const (
	// ErrUsage is a bad command line or configuration.
	ErrUsage = 2
	// ErrUnknown is an HTTP error status with no more specific code.
	ErrUnknown = 3
	// ErrInternalServerError is an HTTP 500.
	ErrInternalServerError = 4

	ErrBadRequest         = 10
	ErrUnauthorized       = 11
	ErrForbidden          = 13
	ErrNotFound           = 14
	ErrConflict           = 19
	ErrPreconditionFailed = 22

	// ErrData is invalid user input, such as a malformed selector.
	ErrData = 65
	// ErrNoInput is a config file which cannot be read.
	ErrNoInput = 66
	// ErrUnavailable is a server which cannot be reached.
	ErrUnavailable = 69
	// ErrIO is a failure to write output.
	ErrIO = 74
	// ErrProtocol is a response which is not valid JSON.
	ErrProtocol = 76
)

const httpOffset = 390

// exitError carries an exit code alongside the error.
type exitError struct {
	err  error
	code int
}

func (e *exitError) Error() string   { return e.err.Error() }
func (e *exitError) Unwrap() error   { return e.err }
func (e *exitError) ExitStatus() int { return e.code }

// Code returns an error carrying the exit code. A single error argument is
// wrapped, a single nil argument gives nil, and anything else is passed to
// fmt.Sprint to form the message.
func Code(code int, args ...interface{}) error {
	if len(args) == 1 {
		switch t := args[0].(type) {
		case nil:
			return nil
		case error:
			return &exitError{err: t, code: code}
		}
	}
	return &exitError{err: errors.New(fmt.Sprint(args...)), code: code}
}

// Codef is like Code, with the message formatted by fmt.Errorf.
func Codef(code int, format string, args ...interface{}) error {
	return &exitError{err: fmt.Errorf(format, args...), code: code}
}

// InspectErrorCode returns the exit code for err, or 0 if there is none.
// An explicit code wins; otherwise the error kind, the standard library
// error type, and finally the HTTP status are consulted, in that order.
func InspectErrorCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	switch sofa.KindOf(err) {
	case sofa.ErrTransport:
		return ErrUnavailable
	case sofa.ErrMalformedResponse:
		return ErrProtocol
	case sofa.ErrConfiguration:
		return ErrUsage
	}
	var (
		netErr    net.Error
		syntaxErr *json.SyntaxError
		coder     interface{ HTTPStatus() int }
	)
	switch {
	case errors.As(err, &netErr):
		return ErrUnavailable
	case errors.As(err, &syntaxErr):
		return ErrProtocol
	case errors.As(err, &coder):
		return statusCode(coder.HTTPStatus())
	}
	return 0
}

func statusCode(status int) int {
	switch {
	case status == http.StatusInternalServerError:
		return ErrInternalServerError
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return status - httpOffset
	}
	return ErrUnknown
}
