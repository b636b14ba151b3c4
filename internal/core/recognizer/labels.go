package recognizer

import (
	"fmt"
	"strings"
)

// LabelSet is the ordered, immutable list of classes the model was trained on.
type LabelSet struct {
	names []string
	index map[string]int
}

// NewLabelSet validates names and copies them. Empty or duplicate names are rejected.
func NewLabelSet(names []string) (*LabelSet, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("label set is empty")
	}
	ls := &LabelSet{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, fmt.Errorf("label %d is empty", i)
		}
		if prev, dup := ls.index[n]; dup {
			return nil, fmt.Errorf("label %q appears at index %d and %d", n, prev, i)
		}
		ls.names[i] = n
		ls.index[n] = i
	}
	return ls, nil
}

// Len returns N.
func (l *LabelSet) Len() int {
	return len(l.names)
}

// Name returns the label at index i. An out-of-range index is a programming
// error and panics.
func (l *LabelSet) Name(i int) string {
	if i < 0 || i >= len(l.names) {
		panic(fmt.Sprintf("recognizer: label index %d out of range [0,%d)", i, len(l.names)))
	}
	return l.names[i]
}

// Index returns the position of name.
func (l *LabelSet) Index(name string) (int, bool) {
	i, ok := l.index[name]
	return i, ok
}

// Names returns a copy of the label list.
func (l *LabelSet) Names() []string {
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}
