package durablestreamsclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Chunk is one unit of delivered data: either a full HTTP response body
// (catch-up/long-poll) or one SSE data+control pair.
type Chunk struct {
	NextOffset Offset
	Data       []byte
	UpToDate   bool
	Cursor     string
	Closed     bool
}

// ChunkIterator iterates response chunks from Stream.Read. Call Next in a
// loop until it returns Done; always Close when finished.
type ChunkIterator struct {
	stream *Stream
	ctx    context.Context
	cancel context.CancelFunc
	opts   ReadOptions

	Offset   Offset
	UpToDate bool

	mu       sync.Mutex
	closed   bool
	doneOnce bool

	sseParser   *sseParser
	sseResponse *http.Response
	ssePending  *Chunk
}

// Next returns the next chunk, or Done when a non-live read has caught up.
func (it *ChunkIterator) Next() (*Chunk, error) {
	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return nil, ErrAlreadyClosed
	}
	if it.doneOnce {
		it.mu.Unlock()
		return nil, Done
	}
	it.mu.Unlock()

	select {
	case <-it.ctx.Done():
		return nil, it.ctx.Err()
	default:
	}

	if it.opts.Live == LiveModeSSE {
		return it.nextSSE()
	}
	return it.nextHTTP()
}

func (it *ChunkIterator) nextHTTP() (*Chunk, error) {
	it.mu.Lock()
	readOpts := it.opts
	readOpts.Offset = it.Offset
	it.mu.Unlock()

	readURL := it.stream.buildReadURL(readOpts)
	req, err := http.NewRequestWithContext(it.ctx, http.MethodGet, readURL, nil)
	if err != nil {
		return nil, newStreamError("read", it.stream.url, 0, err)
	}

	resp, err := it.stream.client.do(req)
	if err != nil {
		if it.ctx.Err() != nil {
			return nil, it.ctx.Err()
		}
		return nil, newStreamError("read", it.stream.url, 0, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, newStreamError("read", it.stream.url, resp.StatusCode, err)
		}

		nextOffset := Offset(resp.Header.Get(headerStreamOffset))
		upToDate := resp.Header.Get(headerStreamUpToDate) == "true"
		closed := resp.Header.Get(headerStreamClosed) == "true"

		it.mu.Lock()
		it.Offset = nextOffset
		it.UpToDate = upToDate
		if upToDate && len(data) == 0 && it.opts.Live == LiveModeNone {
			it.doneOnce = true
		}
		it.mu.Unlock()

		if upToDate && len(data) == 0 && it.opts.Live == LiveModeNone {
			return nil, Done
		}

		return &Chunk{
			NextOffset: nextOffset,
			Data:       data,
			UpToDate:   upToDate,
			Cursor:     resp.Header.Get(headerStreamCursor),
			Closed:     closed,
		}, nil

	case http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, newStreamError("read", it.stream.url, resp.StatusCode, ErrStreamNotFound)

	default:
		io.Copy(io.Discard, resp.Body)
		return nil, newStreamError("read", it.stream.url, resp.StatusCode, errorFromStatus(resp.StatusCode))
	}
}

func (it *ChunkIterator) nextSSE() (*Chunk, error) {
	it.mu.Lock()
	if it.ssePending != nil {
		chunk := it.ssePending
		it.ssePending = nil
		it.mu.Unlock()
		return chunk, nil
	}
	it.mu.Unlock()

	if it.sseParser == nil {
		if err := it.establishSSEConnection(); err != nil {
			return nil, err
		}
	}

	for {
		event, err := it.sseParser.Next()
		if err != nil {
			it.closeSSEConnection()
			if it.ctx.Err() != nil {
				return nil, it.ctx.Err()
			}
			if err == io.EOF {
				// Server closed the connection (reconnect interval elapsed);
				// reconnect with the last offset we saw.
				if err := it.establishSSEConnection(); err != nil {
					return nil, err
				}
				continue
			}
			return nil, newStreamError("read", it.stream.url, 0, err)
		}

		switch e := event.(type) {
		case sseDataEvent:
			it.mu.Lock()
			if it.ssePending == nil {
				it.ssePending = &Chunk{Data: []byte(e.data)}
			} else {
				it.ssePending.Data = append(it.ssePending.Data, []byte(e.data)...)
			}
			it.mu.Unlock()

		case sseControlEvent:
			it.mu.Lock()
			it.Offset = Offset(e.Offset)
			it.UpToDate = e.UpToDate
			pending := it.ssePending
			it.ssePending = nil
			it.mu.Unlock()

			if pending != nil {
				pending.NextOffset = Offset(e.Offset)
				pending.Cursor = e.Cursor
				pending.UpToDate = e.UpToDate
				return pending, nil
			}
			if e.UpToDate {
				return &Chunk{NextOffset: Offset(e.Offset), Cursor: e.Cursor, UpToDate: true}, nil
			}
		}
	}
}

func (it *ChunkIterator) establishSSEConnection() error {
	it.mu.Lock()
	readOpts := it.opts
	readOpts.Offset = it.Offset
	readOpts.Live = LiveModeSSE
	it.mu.Unlock()

	readURL := it.stream.buildReadURL(readOpts)
	req, err := http.NewRequestWithContext(it.ctx, http.MethodGet, readURL, nil)
	if err != nil {
		return newStreamError("read", it.stream.url, 0, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := it.stream.client.do(req)
	if err != nil {
		if it.ctx.Err() != nil {
			return it.ctx.Err()
		}
		return newStreamError("read", it.stream.url, 0, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if !strings.HasPrefix(resp.Header.Get(headerContentType), "text/event-stream") {
			resp.Body.Close()
			return newStreamError("read", it.stream.url, resp.StatusCode, ErrContentTypeMismatch)
		}
		it.mu.Lock()
		it.sseResponse = resp
		it.sseParser = newSSEParser(resp.Body)
		it.mu.Unlock()
		return nil
	case http.StatusNotFound:
		resp.Body.Close()
		return newStreamError("read", it.stream.url, resp.StatusCode, ErrStreamNotFound)
	default:
		resp.Body.Close()
		return newStreamError("read", it.stream.url, resp.StatusCode, errorFromStatus(resp.StatusCode))
	}
}

func (it *ChunkIterator) closeSSEConnection() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.sseResponse != nil {
		it.sseResponse.Body.Close()
		it.sseResponse = nil
	}
	it.sseParser = nil
}

// Close cancels the iterator and releases any open connection.
func (it *ChunkIterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return nil
	}
	it.closed = true
	it.cancel()
	if it.sseResponse != nil {
		it.sseResponse.Body.Close()
		it.sseResponse = nil
	}
	it.sseParser = nil
	return nil
}

var _ io.Closer = (*ChunkIterator)(nil)
