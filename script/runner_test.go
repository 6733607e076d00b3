package script

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tests run scripts through sh so no database interpreter is needed

func newShellRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	base := []Option{
		WithCommand("sh"),
		WithFs(afero.NewOsFs(), t.TempDir()),
	}
	return NewRunner(nil, append(base, opts...)...)
}

func TestRunner_Success(t *testing.T) {
	r := newShellRunner(t)

	res, err := r.Run(context.Background(), Input{
		FileName: "hello.js",
		Script:   "echo hello",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestRunner_InjectsConnectionURL(t *testing.T) {
	r := newShellRunner(t)

	res, err := r.Run(context.Background(), Input{
		Script: "printf '%s' \"$DB_CONNECTION_URL\"",
		Env:    map[string]string{ConnectionURLEnv: "mongodb://localhost:27017/app"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mongodb://localhost:27017/app", res.Stdout)
}

func TestRunner_RuntimeError(t *testing.T) {
	r := newShellRunner(t)

	res, err := r.Run(context.Background(), Input{
		Script: "echo broken >&2; exit 3",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "broken\n", res.Stderr)
}

func TestRunner_Timeout(t *testing.T) {
	r := newShellRunner(t, WithTimeout(50*time.Millisecond))

	res, err := r.Run(context.Background(), Input{
		Script: "sleep 2",
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
}

func TestRunner_MissingInterpreter(t *testing.T) {
	r := NewRunner(nil,
		WithCommand("definitely-not-a-real-binary"),
		WithFs(afero.NewOsFs(), t.TempDir()))

	_, err := r.Run(context.Background(), Input{Script: "echo hi"})
	require.Error(t, err)
}
