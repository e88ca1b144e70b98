package bendload

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0666)
}

func TestFileSourceReopensPerAttempt(t *testing.T) {
	path := t.TempDir() + "/data.csv"
	require.NoError(t, writeFile(path, "1,2\n3,4\n"))

	src, err := NewFileSource(path)
	require.NoError(t, err)
	assert.True(t, src.Reusable())
	assert.Equal(t, int64(8), src.Size())

	for i := 0; i < 2; i++ {
		rc, err := src.Open()
		require.NoError(t, err)
		buf, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "1,2\n3,4\n", string(buf))
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(t.TempDir() + "/nope.csv")
	assert.Error(t, err)
}

func TestReaderSourceIsSingleUse(t *testing.T) {
	src := NewReaderSource(strings.NewReader("payload"), 7)
	assert.False(t, src.Reusable())
	assert.Equal(t, int64(7), src.Size())

	rc, err := src.Open()
	require.NoError(t, err)
	buf, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))

	_, err = src.Open()
	assert.Error(t, err)
}

func TestReaderSourceUnknownSize(t *testing.T) {
	src := NewReaderSource(strings.NewReader("x"), SizeUnknown)
	assert.Equal(t, SizeUnknown, src.Size())
}
