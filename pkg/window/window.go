// Package window selects the part of a transcript that is forwarded to the
// model.
package window

import (
	"github.com/pkg/errors"
)

// DefaultSize is the number of messages forwarded when nothing else is
// configured.
const DefaultSize = 20

var ErrInvalidSize = errors.New("window size must be positive")

// Select returns the first message followed by the last n-1 messages of
// items. When len(items) <= n the input is returned unchanged. n == 1
// yields only the first message. The result never aliases items when it
// is a proper subset.
func Select[T any](items []T, n int) ([]T, error) {
	if n <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "got %d", n)
	}
	if len(items) <= n {
		return items, nil
	}
	ret := make([]T, 0, n)
	ret = append(ret, items[0])
	ret = append(ret, items[len(items)-(n-1):]...)
	return ret, nil
}

// MustSelect is Select for sizes validated at configuration time.
func MustSelect[T any](items []T, n int) []T {
	ret, err := Select(items, n)
	if err != nil {
		panic(err)
	}
	return ret
}

// Validate reports whether n is a usable window size.
func Validate(n int) error {
	if n <= 0 {
		return errors.Wrapf(ErrInvalidSize, "got %d", n)
	}
	return nil
}
