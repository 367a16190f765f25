package cli

import (
	"bytes"
	"context"
	"testing"

	"docintel/app/bootstrap"
	"docintel/config"
	"docintel/types"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	build := func(ctx context.Context, cfg *config.Config, log *zap.Logger) (*bootstrap.App, error) {
		t.Fatal("app should not be built")
		return nil, nil
	}
	root := NewRootCommand(build)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestCommandsValidateInput(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"extract"}, "--key is required"},
		{[]string{"ingest", "--key", "  "}, "--key is required"},
		{[]string{"ask", "   "}, "question must not be empty"},
		{[]string{"ask"}, "accepts 1 arg"},
		{[]string{"serve", "extra"}, "unknown command"},
	}
	for _, tt := range tests {
		_, err := run(t, tt.args...)
		require.Error(t, err, tt.args)
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestRootLists(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "extract", "ask", "ingest", "--config"} {
		assert.Contains(t, out, name)
	}
}

func TestPrintAnswer(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	err := printAnswer(cmd, &types.Answer{
		Text:     "The burn rate was $50,000 per month.",
		Sources:  []types.RetrievalHit{{ID: "q1.pdf", Score: 0.912}},
		Grounded: false,
		Overlap:  0.4,
	}, false)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "The burn rate was $50,000 per month.\n")
	assert.Contains(t, out, "  [1] q1.pdf (0.912)\n")
	assert.Contains(t, out, "only 40% of the answer's terms")
}

func TestPrintAnswerJSON(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	require.NoError(t, printAnswer(cmd, &types.Answer{Text: "ok", Grounded: true, Overlap: 1}, true))
	assert.Contains(t, buf.String(), `"answer": "ok"`)
	assert.Contains(t, buf.String(), `"grounded": true`)
}
