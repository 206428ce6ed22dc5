package completion

// emitter is the single ordered path from the producer goroutine, shared by
// every recursion depth, to the caller's chunk callback. The channel is
// unbuffered: the producer blocks until the caller has taken the chunk.
type emitter struct {
	ch      chan StreamChunk
	token   *Token
	onChunk func(StreamChunk)
	metrics *tracker
}

func newEmitter(token *Token, metrics *tracker, onChunk func(StreamChunk)) *emitter {
	if onChunk == nil {
		onChunk = func(StreamChunk) {}
	}
	return &emitter{
		ch:      make(chan StreamChunk),
		token:   token,
		onChunk: onChunk,
		metrics: metrics,
	}
}

// emit hands a chunk to the consumer. It returns false once the session is
// cancelled; the chunk is then dropped.
func (e *emitter) emit(chunk StreamChunk) bool {
	if e.token.Cancelled() {
		return false
	}
	select {
	case e.ch <- chunk:
		return true
	case <-e.token.Done():
		return false
	}
}

// close ends the stream of chunks. Only the producer calls it.
func (e *emitter) close() {
	close(e.ch)
}

// drain delivers chunks until the producer closes the stream or the
// session is cancelled. The token is checked again right before delivery,
// so nothing reaches the caller after cancellation, even when the cancel
// came from inside a callback.
func (e *emitter) drain() {
	for {
		select {
		case chunk, ok := <-e.ch:
			if !ok {
				return
			}
			if e.token.Cancelled() {
				return
			}
			e.metrics.appendText(chunk.Text)
			e.onChunk(chunk)
		case <-e.token.Done():
			return
		}
	}
}
