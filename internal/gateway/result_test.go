package gateway

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_PipeSingleRow(t *testing.T) {
	r := Result{Rows: []Row{{{Name: "id", Value: Text("1")}, {Name: "name", Value: Text("ann")}}}}

	assert.Equal(t, "id|1|name|ann", r.String())
}

func TestResult_PipeMultiRowHasNoDelimiter(t *testing.T) {
	r := Result{Rows: []Row{
		{{Name: "n", Value: Text("1")}},
		{{Name: "n", Value: Text("2")}},
	}}

	assert.Equal(t, "n|1|n|2", r.String())
}

func TestResult_PipeSingleRowSplitsBack(t *testing.T) {
	r := Result{Rows: []Row{{
		{Name: "id", Value: Text("7")},
		{Name: "email", Value: Text("ann@example.com")},
		{Name: "deleted_at", Value: Value{Null: true}},
	}}}

	parts := strings.Split(r.String(), "|")
	require.Len(t, parts, 2*len(r.Rows[0]))

	var decoded Row
	for i := 0; i < len(parts); i += 2 {
		v := Text(parts[i+1])
		if parts[i+1] == Null {
			v = Value{Null: true}
		}
		decoded = decoded.Set(parts[i], v)
	}
	assert.Equal(t, r.Rows[0], decoded)
}

func TestResult_PipeCannotTellRowsApart(t *testing.T) {
	oneRow := Result{Rows: []Row{{
		{Name: "a", Value: Text("1")},
		{Name: "b", Value: Text("2")},
	}}}
	twoRows := Result{Rows: []Row{
		{{Name: "a", Value: Text("1")}},
		{{Name: "b", Value: Text("2")}},
	}}

	assert.Equal(t, "a|1|b|2", oneRow.String())
	assert.Equal(t, oneRow.String(), twoRows.String())

	// JSON keeps the row boundary.
	one, err := Encode(oneRow, FormatJSON)
	require.NoError(t, err)
	two, err := Encode(twoRows, FormatJSON)
	require.NoError(t, err)
	assert.NotEqual(t, one, two)
}

func TestResult_PipeEmpty(t *testing.T) {
	assert.Equal(t, "", Result{Rows: []Row{}, Command: "CREATE TABLE"}.String())
}

func TestResult_PipeNull(t *testing.T) {
	r := Result{Rows: []Row{{{Name: "v", Value: Value{Null: true}}}}}

	assert.Equal(t, "v|NULL", r.String())
}

func TestResult_FailureIsErrorText(t *testing.T) {
	r := Failure(errors.New(`ERROR: syntax error at or near "SELEC" (SQLSTATE 42601)`))

	assert.True(t, r.Failed())
	assert.Equal(t, `ERROR: syntax error at or near "SELEC" (SQLSTATE 42601)`, r.String())
}

func TestRow_SetLastDuplicateWins(t *testing.T) {
	var row Row
	row = row.Set("a", Text("1"))
	row = row.Set("b", Text("2"))
	row = row.Set("a", Text("3"))

	require.Len(t, row, 2)
	assert.Equal(t, "a", row[0].Name)
	v, ok := row.Get("a")
	require.True(t, ok)
	assert.Equal(t, "3", v.Text)

	_, ok = row.Get("missing")
	assert.False(t, ok)
}

func TestEncode_JSONKeepsColumnOrder(t *testing.T) {
	r := Result{
		Rows: []Row{
			{{Name: "z", Value: Text("1")}, {Name: "a", Value: Value{Null: true}}},
			{{Name: "z", Value: Text("a|b")}, {Name: "a", Value: Text(`"q"`)}},
		},
		Command: "SELECT 2",
	}

	out, err := Encode(r, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t,
		`{"rows":[{"z":"1","a":null},{"z":"a|b","a":"\"q\""}],"command":"SELECT 2"}`, out)

	var back Result
	require.NoError(t, json.Unmarshal([]byte(out), &back))
	assert.Equal(t, r, back)
}

func TestEncode_JSONFailure(t *testing.T) {
	out, err := Encode(Failure(errors.New("boom")), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, `{"rows":[],"error":"boom"}`, out)

	var back Result
	require.NoError(t, json.Unmarshal([]byte(out), &back))
	assert.True(t, back.Failed())
	assert.Equal(t, "boom", back.Err)
	assert.Empty(t, back.Rows)
}

func TestEncode_UnknownFormat(t *testing.T) {
	_, err := Encode(Result{}, Format("csv"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatPipe},
		{in: "pipe", want: FormatPipe},
		{in: " JSON ", want: FormatJSON},
		{in: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResult_UnmarshalRejectsGarbage(t *testing.T) {
	var r Result
	assert.Error(t, json.Unmarshal([]byte(`{"rows":{}}`), &r))
	assert.Error(t, json.Unmarshal([]byte(`[]`), &r))
}
