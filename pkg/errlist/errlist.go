// Package errlist provides the explicit error accumulator that pipeline
// stages thread through their execution. Each stage returns its own List
// and the orchestrator merges them, making error aggregation a data-flow
// step instead of a shared mutable side channel.
package errlist

import "fmt"

// List accumulates error messages in occurrence order.
type List struct {
	entries []string
}

// Append adds one message.
func (l *List) Append(msg string) {
	l.entries = append(l.entries, msg)
}

// Appendf adds one formatted message.
func (l *List) Appendf(format string, args ...interface{}) {
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

// Merge appends every entry of other, preserving order.
func (l *List) Merge(other List) {
	l.entries = append(l.entries, other.entries...)
}

// Messages returns the accumulated messages. The returned slice is a copy
// and never nil, so it marshals as [] rather than null.
func (l List) Messages() []string {
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l List) Len() int {
	return len(l.entries)
}

// Empty reports whether no errors were accumulated.
func (l List) Empty() bool {
	return len(l.entries) == 0
}
