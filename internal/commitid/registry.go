package commitid

// ID is an interned commit identifier. IDs are dense and start at 0.
type ID uint32

// Registry interns hashes to IDs. It is not safe for concurrent use; the
// owner (the commit graph) serializes access.
type Registry struct {
	ids    map[Hash]ID
	hashes []Hash
}

// NewRegistry creates an empty registry with room for n hashes.
func NewRegistry(n int) *Registry {
	return &Registry{
		ids:    make(map[Hash]ID, n),
		hashes: make([]Hash, 0, n),
	}
}

// Intern returns the ID of h, assigning the next free ID if h is new.
func (r *Registry) Intern(h Hash) ID {
	if id, ok := r.ids[h]; ok {
		return id
	}
	id := ID(len(r.hashes))
	r.ids[h] = id
	r.hashes = append(r.hashes, h)
	return id
}

// Lookup returns the ID of h without interning it.
func (r *Registry) Lookup(h Hash) (ID, bool) {
	id, ok := r.ids[h]
	return id, ok
}

// Hash returns the hash interned as id.
func (r *Registry) Hash(id ID) Hash {
	return r.hashes[id]
}

// Forget removes h from the registry. The ID is not reused.
func (r *Registry) Forget(h Hash) {
	delete(r.ids, h)
}

// Len returns the number of live hashes.
func (r *Registry) Len() int {
	return len(r.ids)
}
