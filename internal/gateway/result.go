package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Null is how SQL NULL is rendered in text form.
const Null = "NULL"

// Value is a column value in PostgreSQL's text form, or SQL NULL.
type Value struct {
	Text string
	Null bool
}

// Text returns a non-null value.
func Text(s string) Value { return Value{Text: s} }

// String renders the value, with NULL as the literal "NULL".
func (v Value) String() string {
	if v.Null {
		return Null
	}
	return v.Text
}

// Column is one named value in a row.
type Column struct {
	Name  string
	Value Value
}

// Row is an ordered list of columns with unique names.
type Row []Column

// Set assigns name in r. An existing column keeps its position and takes
// the new value, so the last duplicate in a result set wins.
func (r Row) Set(name string, v Value) Row {
	for i := range r {
		if r[i].Name == name {
			r[i].Value = v
			return r
		}
	}
	return append(r, Column{Name: name, Value: v})
}

// Get returns the value of name.
func (r Row) Get(name string) (Value, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Value, true
		}
	}
	return Value{}, false
}

// Result is either a set of rows or a failure message.
type Result struct {
	Rows []Row

	// Command is the command tag reported by the engine, e.g. "INSERT 0 1".
	Command string

	// Err is set when the statement or connection failed.
	Err string
}

// Failure builds a failed Result from err.
func Failure(err error) Result {
	return Result{Err: err.Error()}
}

// Failed reports whether r carries an error instead of rows.
func (r Result) Failed() bool {
	return r.Err != ""
}

// String returns the pipe (v1) encoding.
func (r Result) String() string {
	return encodePipe(r)
}

// Format selects a wire encoding.
type Format string

const (
	FormatPipe Format = "pipe"
	FormatJSON Format = "json"
)

// ParseFormat maps a name to a Format. The empty string selects pipe.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatPipe:
		return FormatPipe, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Encode serialises r in format f.
func Encode(r Result, f Format) (string, error) {
	switch f {
	case FormatPipe, "":
		return encodePipe(r), nil
	case FormatJSON:
		b, err := r.MarshalJSON()
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// encodePipe writes key|value for every column of every row, all joined by
// "|". Row boundaries are not marked, so only a single row splits back
// unambiguously; FormatJSON keeps them. A failed Result encodes as its
// error text.
func encodePipe(r Result) string {
	if r.Failed() {
		return r.Err
	}
	var b strings.Builder
	for _, row := range r.Rows {
		for _, col := range row {
			if b.Len() > 0 {
				b.WriteByte('|')
			}
			b.WriteString(col.Name)
			b.WriteByte('|')
			b.WriteString(col.Value.String())
		}
	}
	return b.String()
}

// MarshalJSON encodes r in the json (v2) format, keeping column order.
func (r Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"rows":[`)
	for i, row := range r.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, col := range row {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONString(&buf, col.Name); err != nil {
				return nil, err
			}
			buf.WriteByte(':')
			if col.Value.Null {
				buf.WriteString("null")
			} else if err := writeJSONString(&buf, col.Value.Text); err != nil {
				return nil, err
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	if r.Command != "" {
		buf.WriteString(`,"command":`)
		if err := writeJSONString(&buf, r.Command); err != nil {
			return nil, err
		}
	}
	if r.Failed() {
		buf.WriteString(`,"error":`)
		if err := writeJSONString(&buf, r.Err); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// UnmarshalJSON decodes the json (v2) format, keeping column order.
func (r *Result) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	*r = Result{}

	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return err
		}
		switch key {
		case "rows":
			rows, err := decodeRows(dec)
			if err != nil {
				return err
			}
			r.Rows = rows
		case "command":
			if err := dec.Decode(&r.Command); err != nil {
				return err
			}
		case "error":
			if err := dec.Decode(&r.Err); err != nil {
				return err
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return err
			}
		}
	}
	return expectDelim(dec, '}')
}

func decodeRows(dec *json.Decoder) ([]Row, error) {
	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}
	rows := []Row{}
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		var row Row
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			name, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("decoding row: unexpected key %v", tok)
			}
			var text *string
			if err := dec.Decode(&text); err != nil {
				return nil, err
			}
			if text == nil {
				row = row.Set(name, Value{Null: true})
			} else {
				row = row.Set(name, Text(*text))
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, expectDelim(dec, ']')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return errors.New("decoding result: unexpected token " + fmt.Sprint(tok))
	}
	return nil
}
