package sqlift

import (
	"strconv"
	"strings"
)

// stack is a LIFO of values, used for the names of open savepoints.
type stack[T any] struct {
	items []T
}

func (s *stack[T]) push(v T) {
	s.items = append(s.items, v)
}

// at returns the i-th value counted from the bottom of the stack.
func (s *stack[T]) at(i int) T {
	return s.items[i]
}

func (s *stack[T]) size() int {
	return len(s.items)
}

// truncate drops every value above the first n.
func (s *stack[T]) truncate(n int) {
	if n >= len(s.items) {
		return
	}
	clear(s.items[n:])
	s.items = s.items[:n]
}

func (s *stack[T]) clear() {
	s.truncate(0)
}

func savepointName(prefix string, n uint64) string {
	return prefix + "_" + strconv.FormatUint(n, 10)
}

// quoteIdentifier wraps name in double quotes, doubling embedded quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
