package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"striker/util"
)

// Pipe copies bytes in both directions between a and b until either
// side closes or errors, or ctx ends.  Each direction runs in its own
// pump so a quiet direction never delays the other.  Reads use a poll
// deadline so cancellation is seen within poll.  Both connections are
// closed on return.  It reports the bytes moved a→b and b→a.
//
// A block of 0 selects util.BlockSize and pooled buffers.
func Pipe(ctx context.Context, a, b net.Conn, poll time.Duration, block int) (aToB, bToA int64) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		aToB = pump(ctx, cancel, a, b, poll, block)
	}()
	go func() {
		defer wg.Done()
		bToA = pump(ctx, cancel, b, a, poll, block)
	}()

	<-ctx.Done()
	// Wake any pump blocked in Write.
	now := time.Now()
	a.SetDeadline(now) //nolint:errcheck
	b.SetDeadline(now) //nolint:errcheck
	wg.Wait()

	a.Close()
	b.Close()
	return aToB, bToA
}

// pump moves src→dst until a zero read, a non-timeout error or ctx
// cancellation, then cancels the pair.
func pump(ctx context.Context, cancel context.CancelFunc, src, dst net.Conn, poll time.Duration, block int) int64 {
	defer cancel()

	var buf []byte
	if block <= 0 || block == util.BlockSize {
		bufp := util.GetBuf()
		defer util.PutBuf(bufp)
		buf = *bufp
	} else {
		buf = make([]byte, block)
	}

	var total int64
	for ctx.Err() == nil {
		src.SetReadDeadline(time.Now().Add(poll)) //nolint:errcheck
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total
			}
			total += int64(n)
		}
		if err != nil {
			if util.IsTimeout(err) {
				continue
			}
			return total
		}
		if n == 0 {
			return total
		}
	}
	return total
}
