package kafka

// Evictor drops a cached model by content hash and reports whether it was
// present.
type Evictor interface {
	Evict(hash string) bool
}
