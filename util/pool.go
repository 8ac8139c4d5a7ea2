package util

import "sync"

// BlockSize is the largest chunk a relay reads from one socket before
// writing it to the peer (50 KiB).
const BlockSize = 50 * 1024

// BufPool provides reusable relay blocks.  Every tunnel route and
// bridge holds two of them for its whole lifetime, so reuse matters
// once a tunnel starts taking many short connections.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, BlockSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
