package mapped

// Region is the fixed-size byte range a Store lives in.
type Region interface {
	Bytes() []byte
	// Sync flushes written bytes to the backing medium, if any.
	Sync() error
	Close() error
}

type memRegion struct {
	data []byte
}

func (r *memRegion) Bytes() []byte { return r.data }
func (r *memRegion) Sync() error   { return nil }
func (r *memRegion) Close() error  { return nil }

// OpenMemory returns a new, empty store in a RAM buffer of the given size.
func OpenMemory(size int, opts ...Option) (*Store, error) {
	return Open(&memRegion{make([]byte, size)}, opts...)
}
