package cli

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/source"
)

func TestEmitAppendsCanonicalAction(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, "ScreenOn\n", e.must("emit", "screen_on", "--signals", e.signals))
	assert.Equal(t, "NotificationPosted\n", e.must("emit", "notification.posted", "--signals", e.signals,
		"--package", "com.example.chat", "--title", "Hi", "--text", "lunch?"))

	f, err := os.Open(e.signals)
	require.NoError(t, err)
	defer f.Close()

	var got []model.RawSignal
	err = source.ReadSignals(context.Background(), f, quietLogger(), func(_ context.Context, raw model.RawSignal) error {
		got = append(got, raw)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, source.ActionScreenOn, got[0].Action)
	assert.True(t, got[0].Timestamp.Equal(epoch))
	assert.Equal(t, source.ActionNotificationPosted, got[1].Action)
	assert.Equal(t, "com.example.chat", got[1].Package)
	assert.Equal(t, "lunch?", got[1].Text)
}

func TestEmitRejectsUnknownSignal(t *testing.T) {
	e := newEnv(t)
	out, _, err := e.exec("--format", "json", "emit", "airplane_mode", "--signals", e.signals)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeInvalidInput, errorResponse(t, out).Code)
	assert.NoFileExists(t, e.signals)
}

func TestEmitNotificationNeedsPackage(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.exec("emit", "NotificationRemoved", "--signals", e.signals)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.NoFileExists(t, e.signals)
}
