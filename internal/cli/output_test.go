package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestOutputFormatter_JSON(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: buf}
		require.NoError(t, f.Success(map[string]int{"tables": 2}))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Nil(t, resp.Error)
		assert.Equal(t, map[string]any{"tables": float64(2)}, resp.Data)
	})

	t.Run("error with details", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: buf}
		require.NoError(t, f.Error(CodeCycle, "cycle detected", []string{"a", "b"}))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "E005", resp.Error.Code)
		assert.Equal(t, "cycle detected", resp.Error.Message)
		assert.Equal(t, []any{"a", "b"}, resp.Error.Details)
	})
}

func TestOutputFormatter_YAML(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "yaml", Writer: buf}
		require.NoError(t, f.Success(OrderResult{Source: "app.db", InsertOrder: []string{"customers", "orders"}}))

		var resp struct {
			Status string      `yaml:"status"`
			Data   OrderResult `yaml:"data"`
		}
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, []string{"customers", "orders"}, resp.Data.InsertOrder)
	})

	t.Run("error", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "yaml", Writer: buf}
		require.NoError(t, f.Error(CodeTransfer, "transfer failed", nil))
		assert.Contains(t, buf.String(), "status: error")
		assert.Contains(t, buf.String(), "code: E004")
	})
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}
			require.NoError(t, f.Error(CodeConfig, "failed to load config", "converge.yaml"))

			assert.Contains(t, buf.String(), "Error [E001]: failed to load config")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details: converge.yaml")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

type rendered struct{}

func (rendered) RenderText(w io.Writer) error {
	_, err := io.WriteString(w, "custom rendering\n")
	return err
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success("Wrote converge.yaml"))
	require.NoError(t, f.Success(rendered{}))
	assert.Equal(t, "Wrote converge.yaml\ncustom rendering\n", buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}

	quiet := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag}
	quiet.VerboseLog("loading %s", "customers.table")
	assert.Empty(t, diag.String())

	loud := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}
	loud.VerboseLog("loading %s", "customers.table")
	assert.Equal(t, "loading customers.table\n", diag.String())
	assert.Empty(t, out.String(), "diagnostics stay out of structured output")

	fallback := &OutputFormatter{Format: "text", Writer: out, Verbose: true}
	assert.Same(t, out, fallback.GetErrWriter())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad config", io.EOF)))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "pass failed")))
	assert.Equal(t, ExitFailure, GetExitCode(io.EOF))

	err := WrapExitError(ExitCommandError, "open store", io.EOF)
	assert.Equal(t, "open store: EOF", err.Error())
	assert.ErrorIs(t, err, io.EOF)
}
