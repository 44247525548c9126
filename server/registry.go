package server

// Registry is the set of live connections of one listener.
type Registry struct {
	conns map[*Conn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Conn]struct{})}
}

func (r *Registry) Add(c *Conn) {
	r.conns[c] = struct{}{}
}

// Remove deletes c and reports whether it was present.
func (r *Registry) Remove(c *Conn) bool {
	if _, ok := r.conns[c]; !ok {
		return false
	}
	delete(r.conns, c)
	return true
}

func (r *Registry) Has(c *Conn) bool {
	_, ok := r.conns[c]
	return ok
}

func (r *Registry) Len() int {
	return len(r.conns)
}

// Snapshot copies the current entries so callers can remove while iterating.
func (r *Registry) Snapshot() []*Conn {
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}
