package events

import "sort"

// ring keeps the most recent cap envelopes.
type ring struct {
	buf   []Envelope
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Envelope, capacity)}
}

func (r *ring) push(e Envelope) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = e
		r.size++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []Envelope {
	out := make([]Envelope, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func sortBySequence(envs []Envelope) {
	sort.Slice(envs, func(i, j int) bool { return envs[i].Sequence < envs[j].Sequence })
}
