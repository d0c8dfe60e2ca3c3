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

// Package output renders command results in the format selected on the
// command line.
package output

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/pflag"

	"github.com/go-kivik/sofa/cmd/sofa/errors"
)

// Format renders a single JSON document read from r.
type Format interface {
	Output(w io.Writer, r io.Reader) error
}

// FormatArg is implemented by formats which accept an argument, given on the
// command line as --format name=arg.
type FormatArg interface {
	Arg(string) error
	Required() bool
}

// Formatter holds the registered formats and the one selected by --format.
type Formatter struct {
	mu       sync.Mutex
	formats  map[string]Format
	selected string
	out      io.Writer
}

// New returns a Formatter with no formats, writing to stdout.
func New() *Formatter {
	return &Formatter{
		formats: map[string]Format{},
		out:     os.Stdout,
	}
}

// Register adds a format under name. The first format registered is the
// default. Registering a name twice panics.
func (f *Formatter) Register(name string, format Format) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.formats[name]; ok {
		panic(name + " already registered")
	}
	f.formats[name] = format
	if f.selected == "" {
		f.selected = name
	}
}

// options describes each registered format for the --format help text.
func (f *Formatter) options() []string {
	if len(f.formats) == 0 {
		panic("no formatters registered")
	}
	opts := make([]string, 0, len(f.formats))
	for name, format := range f.formats {
		argFmt, ok := format.(FormatArg)
		switch {
		case !ok:
			opts = append(opts, name)
		case argFmt.Required():
			opts = append(opts, name+"=...")
		default:
			opts = append(opts, name+"[=...]")
		}
	}
	sort.Strings(opts)
	return opts
}

// SetOut redirects output to w.
func (f *Formatter) SetOut(w io.Writer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = w
}

// ConfigFlags adds the --format flag to fs.
func (f *Formatter) ConfigFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&f.selected, "format", "f", f.selected, "Output format. One of: "+strings.Join(f.options(), "|"))
}

// Validate returns a usage error if the selected format is unknown, or its
// argument is missing or rejected.
func (f *Formatter) Validate() error {
	_, err := f.resolve()
	return err
}

func (f *Formatter) resolve() (Format, error) {
	name, arg, hasArg := strings.Cut(f.selected, "=")
	format, ok := f.formats[name]
	if !ok {
		return nil, errors.Codef(errors.ErrUsage, "unrecognized output format option: %s", name)
	}
	argFmt, takesArg := format.(FormatArg)
	switch {
	case !takesArg && hasArg:
		return nil, errors.Codef(errors.ErrUsage, "format %s takes no arguments", name)
	case takesArg && hasArg:
		if err := argFmt.Arg(arg); err != nil {
			return nil, errors.Code(errors.ErrUsage, err)
		}
	case takesArg && argFmt.Required():
		return nil, errors.Codef(errors.ErrUsage, "format %s requires an argument", name)
	}
	return format, nil
}

// OutputValue renders i, marshaled as JSON, followed by a newline if the
// format did not end with one.
func (f *Formatter) OutputValue(i interface{}) error {
	format, err := f.resolve()
	if err != nil {
		return err
	}
	doc, err := json.Marshal(i)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := format.Output(&buf, bytes.NewReader(doc)); err != nil {
		return err
	}
	if b := buf.Bytes(); len(b) == 0 || b[len(b)-1] != '\n' {
		buf.WriteByte('\n')
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := buf.WriteTo(f.out); err != nil {
		return errors.Code(errors.ErrIO, err)
	}
	return nil
}
