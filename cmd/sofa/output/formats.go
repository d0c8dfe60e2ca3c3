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

package output

import (
	"bytes"
	"encoding/json"
	"io"
	"text/template"
)

type jsonFormat struct {
	indent string
}

var _ FormatArg = &jsonFormat{}

// JSON returns a formatter which re-indents JSON output. The optional
// argument sets the indentation string; an empty argument produces compact
// output.
func JSON() Format {
	return &jsonFormat{indent: "\t"}
}

func (*jsonFormat) Required() bool { return false }

func (f *jsonFormat) Arg(arg string) error {
	f.indent = arg
	return nil
}

func (f *jsonFormat) Output(w io.Writer, r io.Reader) error {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return err
	}
	var buf bytes.Buffer
	var err error
	if f.indent == "" {
		err = json.Compact(&buf, raw)
	} else {
		err = json.Indent(&buf, raw, "", f.indent)
	}
	if err != nil {
		return err
	}
	_, err = buf.WriteTo(w)
	return err
}

type rawFormat struct{}

// Raw returns a formatter which passes output through unaltered.
func Raw() Format {
	return rawFormat{}
}

func (rawFormat) Output(w io.Writer, r io.Reader) error {
	_, err := io.Copy(w, r)
	return err
}

type tmplFormat struct {
	tmpl *template.Template
}

var _ FormatArg = &tmplFormat{}

// Template returns a go-template formatter.
func Template() Format {
	return &tmplFormat{}
}

func (*tmplFormat) Required() bool { return true }

func (f *tmplFormat) Arg(arg string) error {
	var err error
	f.tmpl, err = template.New("").Parse(arg)
	return err
}

func (f *tmplFormat) Output(w io.Writer, r io.Reader) error {
	var obj interface{}
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return err
	}
	return f.tmpl.Execute(w, obj)
}
