package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// execute runs root with args and captures stdout and stderr.
func execute(t *testing.T, root *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// isolate points the environment-driven config at a scratch dictionary dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("BIOANNOT_DICTIONARY_DIR", dir)
	return dir
}

func TestNewRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "bioannot", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"annotate", "dictionary", "manual", "migrate", "organism"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}

	for _, flag := range []string{"config", "log-level", "output", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
}

func TestRoot_RejectsUnknownOutputFormat(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, NewRootCommand(), "dictionary", "status", "-o", "yaml")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestRoot_MissingConfigFile(t *testing.T) {
	_, _, err := execute(t, NewRootCommand(), "dictionary", "status", "--config", "/nonexistent/bioannot.yaml")
	assert.Error(t, err)
}

func TestGetCLIContext_Missing(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	_, err := GetCLIContext(cmd)
	assert.Error(t, err)
}

type fakeTable struct{}

func (fakeTable) TableHeaders() []string { return []string{"A", "LONGER"} }
func (fakeTable) TableRows() [][]string  { return [][]string{{"value", "x"}, {"y"}} }

func TestPrintResult_Formats(t *testing.T) {
	run := func(format string, data interface{}) string {
		var out bytes.Buffer
		cmd := &cobra.Command{}
		cmd.SetOut(&out)
		cmd.SetContext(context.WithValue(context.Background(), cliContextKey{}, &CLIContext{OutputFormat: format}))
		require.NoError(t, PrintResult(cmd, data))
		return out.String()
	}

	assert.Equal(t, "A      LONGER\n-----  ------\nvalue  x\ny\n", run("text", fakeTable{}))
	assert.Equal(t, "hello\n", run("text", "hello"))

	var decoded map[string]int
	require.NoError(t, json.Unmarshal([]byte(run("json", map[string]int{"n": 1})), &decoded))
	assert.Equal(t, 1, decoded["n"])
}

func TestFormatTable_NoHeaders(t *testing.T) {
	assert.Empty(t, FormatTable(nil, [][]string{{"a"}}))
}

func TestPrintError(t *testing.T) {
	var errOut bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetErr(&errOut)

	PrintError(cmd, nil)
	assert.Empty(t, errOut.String())

	PrintError(cmd, errors.New(errors.CodeInternal, "boom"))
	assert.Contains(t, errOut.String(), "Error: ")
	assert.Contains(t, errOut.String(), "boom")
}
