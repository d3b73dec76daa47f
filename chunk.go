package streamz

// Chunk is an immutable byte chunk, the pre-parse form flowing between bytes
// operators. Once a producer hands a chunk off, receivers may read it
// concurrently; nobody mutates it.
type Chunk struct {
	data []byte
}

// NewChunk wraps data into a chunk. The caller hands over ownership and must
// not mutate the slice afterwards.
func NewChunk(data []byte) *Chunk {
	return &Chunk{data: data}
}

// Bytes returns the chunk's contents. The result aliases the chunk and must
// be treated as read-only.
func (c *Chunk) Bytes() []byte { return c.data }

// Len returns the number of bytes.
func (c *Chunk) Len() int {
	if c == nil {
		return 0
	}
	return len(c.data)
}

// Slice returns the bytes in [begin, end) as a zero-copy view.
func (c *Chunk) Slice(begin, end int) *Chunk {
	return &Chunk{data: c.data[begin:end]}
}
