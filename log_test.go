package bendload

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger()
	l.SetOutput(&buf)

	require.NoError(t, l.SetLogLevel("error"))
	l.Info("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	l.Error("visible")
	assert.Contains(t, buf.String(), "visible")

	require.NoError(t, l.SetLogLevel("debug"))
	l.Debugf("formatted %d", 42)
	assert.Contains(t, buf.String(), "formatted 42")

	assert.Error(t, l.SetLogLevel("loud"))
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger()
	l.SetOutput(&buf)

	ctx := context.WithValue(context.Background(), LogQueryIDKey, "qid-7")
	l.WithContext(ctx).Infoln("uploading", "batch.csv")

	out := buf.String()
	assert.Contains(t, out, "qid-7")
	assert.Contains(t, out, "uploading batch.csv")
}
