package filter

// Filter answers approximate membership queries over a fixed key set:
// MayContain never returns false for a key that was added, and returns
// true for absent keys at a bounded false-positive rate. The read path
// uses it only to skip I/O, never as an authority.
type Filter interface {
	Add(key []byte)
	MayContain(key []byte) bool
}
