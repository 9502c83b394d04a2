package fanout

// registry is the set of live clients. Entries live in an arena keyed by
// connection ID; order holds the IDs newest first. Every method must be
// called with the server's registry lock held.
type registry struct {
	entries map[string]*client
	order   []string
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*client)}
}

// insert links c at the head.
func (r *registry) insert(c *client) {
	r.entries[c.id] = c
	r.order = append(r.order, "")
	copy(r.order[1:], r.order)
	r.order[0] = c.id
}

// unlink removes the entry for id and reports whether it was present.
func (r *registry) unlink(id string) bool {
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// each visits entries head first.
func (r *registry) each(fn func(c *client)) {
	for _, id := range r.order {
		fn(r.entries[id])
	}
}

func (r *registry) len() int {
	return len(r.order)
}
