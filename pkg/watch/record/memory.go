package record

import "context"

// memoryBackend holds a (table, primary_key) -> aggregated map for one
// in-progress transaction; insertion order is irrelevant, per §4.5.
type memoryBackend struct {
	state map[key]*aggregated
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{state: make(map[key]*aggregated)}
}

func (b *memoryBackend) Begin(ctx context.Context, xid uint32) error {
	b.state = make(map[key]*aggregated)
	return nil
}

func (b *memoryBackend) Apply(ctx context.Context, e aggregated) error {
	k := keyFor(e.Table, e.PK)
	merged := coalesce(b.state[k], e)
	if merged == nil {
		delete(b.state, k)
		return nil
	}
	b.state[k] = merged
	return nil
}

func (b *memoryBackend) Drain(ctx context.Context) ([]aggregated, error) {
	out := make([]aggregated, 0, len(b.state))
	for _, a := range b.state {
		out = append(out, *a)
	}
	return out, nil
}

func (b *memoryBackend) Discard(ctx context.Context) error {
	b.state = nil
	return nil
}
