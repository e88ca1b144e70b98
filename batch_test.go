package bendload

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stageMock struct {
	mu          sync.Mutex
	sqls        []string
	attachments []*StageAttachmentConfig
	uploads     []string
	uploadFail  bool

	insertErr *QueryError
	removeErr *QueryError
}

func (m *stageMock) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(queryPath, func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		m.mu.Lock()
		m.sqls = append(m.sqls, req.SQL)
		m.attachments = append(m.attachments, req.StageAttachment)
		m.mu.Unlock()

		resp := finishedResponse(nil)
		switch {
		case strings.HasPrefix(req.SQL, "REMOVE"):
			resp.Error = m.removeErr
		case req.StageAttachment != nil:
			resp.Error = m.insertErr
		}
		writeJSON(w, resp)
	})
	mux.HandleFunc(uploadToStagePath, func(w http.ResponseWriter, r *http.Request) {
		if m.uploadFail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		mr := multipart.NewReader(r.Body, params["boundary"])
		part, err := mr.NextPart()
		require.NoError(t, err)
		buf, err := io.ReadAll(part)
		require.NoError(t, err)

		m.mu.Lock()
		m.uploads = append(m.uploads, string(buf))
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (m *stageMock) recordedSQLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sqls))
	copy(out, m.sqls)
	return out
}

func newBatchTestClient(t *testing.T, m *stageMock) *APIClient {
	ts := httptest.NewServer(m.handler(t))
	t.Cleanup(ts.Close)
	c, _ := newTestClient(t, ts)
	c.PresignedURLDisabled = true
	return c
}

func TestExecuteBatchHappyPath(t *testing.T) {
	m := &stageMock{}
	c := newBatchTestClient(t, m)

	batch := c.PrepareBatch("INSERT INTO t VALUES (?, ?)")
	require.True(t, batch.IsInsertShape())
	require.Equal(t, 2, batch.NumPlaceholders())

	require.NoError(t, batch.BindValue(0, "1"))
	require.NoError(t, batch.BindValue(1, "2"))
	require.NoError(t, batch.AddRow())
	require.NoError(t, batch.Bind(int64(3), int64(4)))
	require.NoError(t, batch.AddRow())

	counts, err := batch.ExecuteBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, counts)

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.uploads, 1)
	assert.Equal(t, "1,2\n3,4\n", m.uploads[0])

	// insert with attachment, then exactly one REMOVE for the same object
	require.Len(t, m.sqls, 2)
	assert.Equal(t, "INSERT INTO t VALUES (?, ?)", m.sqls[0])
	require.NotNil(t, m.attachments[0])
	assert.Regexp(t, `^@~/\d{4}/\d{1,2}/\d{1,2}/\d{1,2}/\d{1,2}/\d{1,2}/[0-9a-f-]{36}/.+\.csv$`, m.attachments[0].Location)
	assert.Equal(t, "CSV", m.attachments[0].FileFormatOptions["type"])
	assert.Equal(t, "true", m.attachments[0].CopyOptions["purge"])
	assert.Equal(t, "REMOVE "+m.attachments[0].Location, m.sqls[1])
	assert.Nil(t, m.attachments[1])
}

func TestExecuteBatchEmptyDoesNotUpload(t *testing.T) {
	m := &stageMock{}
	c := newBatchTestClient(t, m)

	batch := c.PrepareBatch("INSERT INTO t VALUES (?, ?)")
	counts, err := batch.ExecuteBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.uploads)
	require.Len(t, m.sqls, 1)
	assert.Equal(t, "INSERT INTO t VALUES (?, ?)", m.sqls[0])
	assert.Nil(t, m.attachments[0])
}

func TestExecuteBatchInertStatement(t *testing.T) {
	m := &stageMock{}
	c := newBatchTestClient(t, m)

	batch := c.PrepareBatch("UPDATE t SET a = 1")
	assert.False(t, batch.IsInsertShape())
	// binding degrades to a no-op on an inert accumulator
	require.NoError(t, batch.BindValue(0, "x"))
	require.NoError(t, batch.AddRow())

	counts, err := batch.ExecuteBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.uploads)
	assert.Equal(t, []string{"UPDATE t SET a = 1"}, m.sqls)
}

func TestExecuteBatchInsertFailureStillCleansUp(t *testing.T) {
	m := &stageMock{insertErr: &QueryError{Code: 1064, Message: "bad insert"}}
	c := newBatchTestClient(t, m)

	batch := c.PrepareBatch("INSERT INTO t VALUES (?)")
	require.NoError(t, batch.BindValue(0, "1"))
	require.NoError(t, batch.AddRow())

	_, err := batch.ExecuteBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert with stage failed")

	sqls := m.recordedSQLs()
	require.Len(t, sqls, 2)
	assert.True(t, strings.HasPrefix(sqls[1], "REMOVE @~/"))
}

func TestExecuteBatchCleanupNotFoundIsSuccess(t *testing.T) {
	m := &stageMock{removeErr: &QueryError{Code: 1003, Message: "file not found"}}
	c := newBatchTestClient(t, m)

	batch := c.PrepareBatch("INSERT INTO t VALUES (?)")
	require.NoError(t, batch.BindValue(0, "1"))
	require.NoError(t, batch.AddRow())

	counts, err := batch.ExecuteBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, counts)
}

func TestExecuteBatchCleanupFailureIsSwallowed(t *testing.T) {
	m := &stageMock{removeErr: &QueryError{Code: 1002, Message: "permission denied"}}
	c := newBatchTestClient(t, m)

	batch := c.PrepareBatch("INSERT INTO t VALUES (?)")
	require.NoError(t, batch.BindValue(0, "1"))
	require.NoError(t, batch.AddRow())

	counts, err := batch.ExecuteBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, counts)
}

func TestUploadBatchDeletesLocalFileOnFailure(t *testing.T) {
	m := &stageMock{uploadFail: true}
	c := newBatchTestClient(t, m)
	c.transfer.maxAttempts = 2

	batch := c.PrepareBatch("INSERT INTO t VALUES (?)")
	require.NoError(t, batch.BindValue(0, "1"))
	require.NoError(t, batch.AddRow())

	batchFile, err := batch.serialize()
	require.NoError(t, err)

	_, err = batch.uploadBatch(context.Background(), batchFile)
	require.Error(t, err)

	_, statErr := os.Stat(batchFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestUploadBatchDeletesLocalFileOnSuccess(t *testing.T) {
	m := &stageMock{}
	c := newBatchTestClient(t, m)

	batch := c.PrepareBatch("INSERT INTO t VALUES (?)")
	require.NoError(t, batch.BindValue(0, "x"))
	require.NoError(t, batch.AddRow())

	batchFile, err := batch.serialize()
	require.NoError(t, err)

	stage, err := batch.uploadBatch(context.Background(), batchFile)
	require.NoError(t, err)
	require.NotNil(t, stage)

	_, statErr := os.Stat(batchFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSerializeRoundTrip(t *testing.T) {
	m := &stageMock{}
	c := newBatchTestClient(t, m)

	batch := c.PrepareBatch("INSERT INTO t VALUES (?, ?)")
	require.NoError(t, batch.Bind(int64(1), int64(2)))
	require.NoError(t, batch.AddRow())
	require.NoError(t, batch.Bind(int64(3), int64(4)))
	require.NoError(t, batch.AddRow())

	batchFile, err := batch.serialize()
	require.NoError(t, err)
	defer os.Remove(batchFile)

	// serialization consumes the buffer
	assert.Empty(t, batch.Rows())

	f, err := os.Open(batchFile)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, records)
}

func TestBindValueValidation(t *testing.T) {
	m := &stageMock{}
	c := newBatchTestClient(t, m)

	batch := c.PrepareBatch("INSERT INTO t VALUES (?, ?)")
	assert.Error(t, batch.BindValue(2, "x"))
	assert.Error(t, batch.BindValue(-1, "x"))

	require.NoError(t, batch.BindValue(0, "only-first"))
	err := batch.AddRow()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlaceholderCount)

	assert.Error(t, batch.Bind("too", "many", "values"))
}

func TestClearBatchDropsRowsAndBindings(t *testing.T) {
	m := &stageMock{}
	c := newBatchTestClient(t, m)

	batch := c.PrepareBatch("INSERT INTO t VALUES (?)")
	require.NoError(t, batch.BindValue(0, "1"))
	require.NoError(t, batch.AddRow())
	require.NoError(t, batch.BindValue(0, "dangling"))

	batch.ClearBatch()
	assert.Empty(t, batch.Rows())
	// the dangling binding is gone too
	assert.Error(t, batch.AddRow())
}

func TestCountPlaceholdersSkipsQuoted(t *testing.T) {
	assert.Equal(t, 2, countPlaceholders("INSERT INTO t VALUES (?, ?)"))
	assert.Equal(t, 1, countPlaceholders("INSERT INTO t VALUES ('?', ?)"))
	assert.Equal(t, 0, countPlaceholders("SELECT 1"))
}

func TestInsertShapeRecognition(t *testing.T) {
	shaped := []string{
		"INSERT INTO t VALUES (?, ?)",
		"insert into db.t values (?)",
		"INSERT INTO `t` (a, b) VALUES (?, ?)",
	}
	for _, sql := range shaped {
		assert.True(t, insertRe.MatchString(sql), sql)
	}
	unshaped := []string{
		"UPDATE t SET a = ?",
		"SELECT * FROM t",
		"DELETE FROM t",
	}
	for _, sql := range unshaped {
		assert.False(t, insertRe.MatchString(sql), sql)
	}
}
