package bendload

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/databendcloud/bendload/lib/ingest"
)

// \x60 represents a backtick
var insertRe = regexp.MustCompile(`(?i)^INSERT INTO\s+\x60?([\w.^\(]+)\x60?\s*(\([^\)]*\))?\s*VALUES`)

// BatchInsert buffers rows for one INSERT ... VALUES (?, ...) statement and
// flushes them through the stage pipeline. It is inert when the SQL is not
// batch-insert-shaped: rows are not collected and ExecuteBatch degrades to
// executing the original text once. One BatchInsert is driven by one
// goroutine at a time.
type BatchInsert struct {
	sql    string
	client *APIClient
	logger Logger

	insertShape  bool
	placeholders int
	bindings     []string
	bound        []bool
	rows         [][]string
}

// PrepareBatch decomposes sql into an insert template plus placeholders and
// returns an accumulator for its rows.
func (c *APIClient) PrepareBatch(sql string) *BatchInsert {
	b := &BatchInsert{
		sql:    sql,
		client: c,
		logger: c.logger,
	}
	if insertRe.MatchString(sql) {
		b.insertShape = true
		b.placeholders = countPlaceholders(sql)
		b.bindings = make([]string, b.placeholders)
		b.bound = make([]bool, b.placeholders)
	}
	return b
}

// countPlaceholders counts '?' outside single-quoted literals.
func countPlaceholders(query string) int {
	n := 0
	quote := false
	for i := 0; i < len(query); i++ {
		switch query[i] {
		case '\\':
			i++
		case '\'':
			quote = !quote
		case '?':
			if !quote {
				n++
			}
		}
	}
	return n
}

// IsInsertShape reports whether the statement was recognized as a batch
// insert template.
func (b *BatchInsert) IsInsertShape() bool {
	return b.insertShape
}

// NumPlaceholders returns the number of placeholders in the template.
func (b *BatchInsert) NumPlaceholders() int {
	return b.placeholders
}

// BindValue sets the literal for the zero-based placeholder index of the
// pending row. No-op on an inert accumulator.
func (b *BatchInsert) BindValue(index int, literal string) error {
	if !b.insertShape {
		return nil
	}
	if index < 0 || index >= b.placeholders {
		return errors.Wrapf(ErrPlaceholderCount, "index %d out of %d placeholders", index, b.placeholders)
	}
	b.bindings[index] = literal
	b.bound[index] = true
	return nil
}

// Bind formats and binds a full row of Go values at once.
func (b *BatchInsert) Bind(values ...interface{}) error {
	if !b.insertShape {
		return nil
	}
	if len(values) != b.placeholders {
		return errors.Wrapf(ErrPlaceholderCount, "expect %d values, got %d", b.placeholders, len(values))
	}
	for i, v := range values {
		literal, err := FormatValue(v)
		if err != nil {
			return err
		}
		if err := b.BindValue(i, literal); err != nil {
			return err
		}
	}
	return nil
}

// AddRow seals the current bindings into the batch as an immutable row and
// resets them for the next row.
func (b *BatchInsert) AddRow() error {
	if !b.insertShape {
		return nil
	}
	for i := range b.bound {
		if !b.bound[i] {
			return errors.Wrapf(ErrPlaceholderCount, "placeholder %d is not bound", i)
		}
	}
	row := make([]string, b.placeholders)
	copy(row, b.bindings)
	b.rows = append(b.rows, row)
	b.resetBindings()
	return nil
}

// ClearBatch drops all buffered rows and the pending bindings.
func (b *BatchInsert) ClearBatch() {
	b.rows = nil
	b.resetBindings()
}

func (b *BatchInsert) resetBindings() {
	for i := range b.bindings {
		b.bindings[i] = ""
		b.bound[i] = false
	}
}

// Rows returns the buffered rows without consuming them.
func (b *BatchInsert) Rows() [][]string {
	out := make([][]string, len(b.rows))
	copy(out, b.rows)
	return out
}

// serialize writes the buffered rows to a temporary CSV file, one
// comma-joined newline-terminated line per row, and empties the buffer. The
// file name only ever serves as the basis for the remote object name.
func (b *BatchInsert) serialize() (string, error) {
	name := filepath.Join(os.TempDir(), uuid.NewString()+".csv")
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return "", errors.Wrap(err, "failed to create batch file")
	}
	writer := csv.NewWriter(f)
	err = writer.WriteAll(b.rows)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(name)
		return "", errors.Wrap(err, "failed to write batch file")
	}
	b.rows = nil
	return name, nil
}

// uploadBatch stages the serialized batch file under a collision-resistant
// path. The local file is deleted once the upload attempt concludes,
// whatever its outcome.
func (b *BatchInsert) uploadBatch(ctx context.Context, batchFile string) (*StageLocation, error) {
	defer func() {
		if err := os.Remove(batchFile); err != nil {
			b.logger.WithContext(ctx).Infoln("failed to delete batch file", batchFile, err)
		}
	}()

	src, err := NewFileSource(batchFile)
	if err != nil {
		return nil, err
	}
	stage := NewStageLocation(filepath.Base(batchFile))
	if err := b.client.UploadToStage(ctx, stage, src); err != nil {
		return nil, errors.Wrap(err, "upload to stage failed")
	}
	return stage, nil
}

// ExecuteBatch drives the whole flush: serialize the buffer, upload it to
// the stage, execute the INSERT with the stage attached, then remove the
// staged object whether the INSERT succeeded or not. On success it returns
// one update count per buffered row, each 1; a bulk staged insert reports no
// per-row counts. Cleanup failures never mask the primary outcome.
func (b *BatchInsert) ExecuteBatch(ctx context.Context) ([]int64, error) {
	counts := make([]int64, len(b.rows))
	if !b.insertShape || len(b.rows) == 0 {
		if _, err := b.client.QuerySync(ctx, b.sql); err != nil {
			return nil, err
		}
		return counts, nil
	}

	batchFile, err := b.serialize()
	if err != nil {
		return nil, err
	}
	stage, err := b.uploadBatch(ctx, batchFile)
	if err != nil {
		return nil, err
	}
	defer func() {
		if ok := b.client.RemoveStageFile(ctx, stage); !ok {
			b.logger.WithContext(ctx).Infoln("stage cleanup left file behind", stage.String())
		}
	}()

	if _, err := b.client.InsertWithStage(ctx, b.sql, stage, nil, nil); err != nil {
		return nil, errors.Wrap(err, "insert with stage failed")
	}
	for i := range counts {
		counts[i] = 1
	}
	return counts, nil
}

var (
	_ ingest.Binder = (*BatchInsert)(nil)
	_ ingest.Loader = (*BatchInsert)(nil)
)
