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
	internal "github.com/go-kivik/sofa/internal"
)

// Error represents an error returned by the server, or produced locally while
// talking to it. It satisfies the error interface, and also exposes the HTTP
// status code with its HTTPStatus method.
type Error = internal.Error

// Kind identifies a class of error. Each Kind is also an error value, so that
// it can be used as an [errors.Is] target:
//
//	if errors.Is(err, sofa.ErrNotFound) {
//		// handle missing document
//	}
type Kind = internal.Kind

// Error kinds.
const (
	ErrGeneric           = internal.KindGeneric
	ErrNotFound          = internal.KindNotFound
	ErrConflict          = internal.KindConflict
	ErrUnauthorized      = internal.KindUnauthorized
	ErrMalformedResponse = internal.KindMalformedResponse
	ErrConfiguration     = internal.KindConfiguration
	ErrTransport         = internal.KindTransport
)

// HTTPStatus returns the HTTP status code embedded in the error, or 500
// (internal server error), if there was no specified status code. If err is
// nil, HTTPStatus returns 0.
func HTTPStatus(err error) int {
	return internal.HTTPStatus(err)
}

// KindOf returns the kind of err, or [ErrGeneric] if err was not produced by
// this package.
func KindOf(err error) Kind {
	return internal.KindOf(err)
}

func configError(format string, args ...interface{}) error {
	return internal.Errorf(internal.KindConfiguration, format, args...)
}
