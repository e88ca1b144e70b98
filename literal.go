package bendload

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	dateFormat      = "2006-01-02"
	timeFormat      = "15:04:05.000"
	timestampFormat = "2006-01-02 15:04:05.000"
)

// FormatValue renders a Go value into the wire textual literal carried by a
// batch row: numbers in decimal text, times in ISO-ish formats, byte slices
// as raw UTF-8. A nil value becomes the empty field, which the server reads
// back as NULL under the default CSV options.
func FormatValue(v interface{}) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int8:
		return strconv.FormatInt(int64(x), 10), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case []byte:
		return string(x), nil
	case time.Time:
		return FormatTimestamp(x), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return "", errors.Errorf("cannot convert %T to a column literal", v)
	}
}

// FormatDate renders value as a date literal.
func FormatDate(value time.Time) string {
	return value.Format(dateFormat)
}

// FormatTime renders value as a time-of-day literal.
func FormatTime(value time.Time) string {
	return value.Format(timeFormat)
}

// FormatTimestamp renders value as a timestamp literal.
func FormatTimestamp(value time.Time) string {
	return value.Format(timestampFormat)
}
