package provider

import (
	"context"
)

// Selectors yields the tests a provider should run, one at a time.
// ok is false once the set is exhausted.
type Selectors interface {
	Next(ctx context.Context) (selector string, ok bool, err error)
}

// StaticSelectors is a fixed selector list, e.g. from workload.selectors.
type StaticSelectors struct {
	items []string
	pos   int
}

// NewStaticSelectors copies items into a new iterator.
func NewStaticSelectors(items []string) *StaticSelectors {
	return &StaticSelectors{items: append([]string(nil), items...)}
}

// Next implements Selectors.
func (s *StaticSelectors) Next(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if s.pos >= len(s.items) {
		return "", false, nil
	}
	item := s.items[s.pos]
	s.pos++
	return item, true, nil
}

// Drain reads every remaining selector.
func Drain(ctx context.Context, s Selectors) ([]string, error) {
	if s == nil {
		return nil, nil
	}
	var out []string
	for {
		sel, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, sel)
	}
}
