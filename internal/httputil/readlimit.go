package httputil

import (
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge reports that an input exceeded its configured byte limit.
var ErrTooLarge = errors.New("input exceeds size limit")

// ReadAllWithLimit reads at most limit bytes from r. The boolean reports
// whether the input was truncated at the limit.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		return nil, false, fmt.Errorf("read limit must be positive, got %d", limit)
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads all of r and fails with ErrTooLarge if the input is
// longer than limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return data, nil
}
