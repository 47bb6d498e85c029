package durablestreamsclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Protocol header names (mirrors the server's header constants; kept
// independent since the client has no dependency on the server package).
const (
	headerContentType    = "Content-Type"
	headerStreamOffset   = "Stream-Next-Offset"
	headerStreamCursor   = "Stream-Cursor"
	headerStreamUpToDate = "Stream-Up-To-Date"
	headerStreamClosed   = "Stream-Closed"
	headerStreamSeq      = "Stream-Seq"
	headerStreamTTL      = "Stream-TTL"
	headerStreamExpires  = "Stream-Expires-At"
	headerETag           = "ETag"
	headerProducerId     = "Producer-Id"
	headerProducerEpoch  = "Producer-Epoch"
	headerProducerSeq    = "Producer-Seq"
)

// Stream is a handle to a stream at a fixed URL. It holds no connection
// state of its own; every call issues one HTTP request.
type Stream struct {
	url    string
	client *Client

	contentType string
}

// URL returns the stream's full URL.
func (s *Stream) URL() string { return s.url }

// CreateOptions configures Create.
type CreateOptions struct {
	ContentType string
	TTL         time.Duration
	ExpiresAt   time.Time
	InitialData []byte
}

// Metadata is the result of Head or Create.
type Metadata struct {
	ContentType string
	NextOffset  Offset
	TTL         *time.Duration
	ExpiresAt   *time.Time
	Closed      bool
	ETag        string
}

// Create issues a PUT, creating the stream or idempotently matching an
// existing one with the same configuration.
func (s *Stream) Create(ctx context.Context, opts CreateOptions) (*Metadata, error) {
	if opts.ContentType == "" {
		opts.ContentType = "application/octet-stream"
	}

	var body io.Reader
	if len(opts.InitialData) > 0 {
		body = bytes.NewReader(opts.InitialData)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url, body)
	if err != nil {
		return nil, newStreamError("create", s.url, 0, err)
	}
	req.Header.Set(headerContentType, opts.ContentType)
	if opts.TTL > 0 {
		req.Header.Set(headerStreamTTL, strconv.FormatInt(int64(opts.TTL.Seconds()), 10))
	}
	if !opts.ExpiresAt.IsZero() {
		req.Header.Set(headerStreamExpires, opts.ExpiresAt.Format(time.RFC3339))
	}

	resp, err := s.client.do(req)
	if err != nil {
		return nil, newStreamError("create", s.url, 0, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		s.contentType = opts.ContentType
		return &Metadata{
			ContentType: opts.ContentType,
			NextOffset:  Offset(resp.Header.Get(headerStreamOffset)),
		}, nil
	case http.StatusConflict:
		return nil, newStreamError("create", s.url, resp.StatusCode, ErrStreamExists)
	default:
		return nil, newStreamError("create", s.url, resp.StatusCode, errorFromStatus(resp.StatusCode))
	}
}

// AppendOptions configures Append.
type AppendOptions struct {
	Seq    string // Stream-Seq coordination token
	Close  bool   // Stream-Closed: true after this append
	Reason string // unused, reserved for future diagnostic headers

	ProducerId    string
	ProducerEpoch int64
	ProducerSeq   int64
	hasProducer   bool
}

// WithProducer returns opts with the idempotent-producer headers set.
func (o AppendOptions) WithProducer(id string, epoch, seq int64) AppendOptions {
	o.ProducerId = id
	o.ProducerEpoch = epoch
	o.ProducerSeq = seq
	o.hasProducer = true
	return o
}

// AppendResult is the outcome of a successful Append.
type AppendResult struct {
	NextOffset Offset
	Duplicate  bool // true on a 204 idempotent replay
	Closed     bool
	ETag       string
}

// Append issues a POST with data. contentType must match the stream's
// configured type (by media-type, ignoring parameters).
func (s *Stream) Append(ctx context.Context, contentType string, data []byte, opts AppendOptions) (*AppendResult, error) {
	if len(data) == 0 && !opts.Close {
		return nil, newStreamError("append", s.url, 0, ErrEmptyAppend)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return nil, newStreamError("append", s.url, 0, err)
	}
	if len(data) > 0 {
		if contentType == "" {
			contentType = s.contentType
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		req.Header.Set(headerContentType, contentType)
	}
	if opts.Seq != "" {
		req.Header.Set(headerStreamSeq, opts.Seq)
	}
	if opts.Close {
		req.Header.Set(headerStreamClosed, "true")
	}
	if opts.hasProducer {
		req.Header.Set(headerProducerId, opts.ProducerId)
		req.Header.Set(headerProducerEpoch, strconv.FormatInt(opts.ProducerEpoch, 10))
		req.Header.Set(headerProducerSeq, strconv.FormatInt(opts.ProducerSeq, 10))
	}

	resp, err := s.client.do(req)
	if err != nil {
		return nil, newStreamError("append", s.url, 0, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	result := &AppendResult{
		NextOffset: Offset(resp.Header.Get(headerStreamOffset)),
		ETag:       resp.Header.Get(headerETag),
		Closed:     resp.Header.Get(headerStreamClosed) == "true",
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return result, nil
	case http.StatusNoContent:
		result.Duplicate = true
		return result, nil
	case http.StatusNotFound:
		return nil, newStreamError("append", s.url, resp.StatusCode, ErrStreamNotFound)
	case http.StatusGone:
		return nil, newStreamError("append", s.url, resp.StatusCode, ErrStreamClosed)
	case http.StatusConflict:
		return nil, newStreamError("append", s.url, resp.StatusCode, ErrSeqConflict)
	default:
		return nil, newStreamError("append", s.url, resp.StatusCode, errorFromStatus(resp.StatusCode))
	}
}

// Head fetches stream metadata without reading content.
func (s *Stream) Head(ctx context.Context) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return nil, newStreamError("head", s.url, 0, err)
	}

	resp, err := s.client.do(req)
	if err != nil {
		return nil, newStreamError("head", s.url, 0, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		meta := &Metadata{
			ContentType: resp.Header.Get(headerContentType),
			NextOffset:  Offset(resp.Header.Get(headerStreamOffset)),
			ETag:        resp.Header.Get(headerETag),
			Closed:      resp.Header.Get(headerStreamClosed) == "true",
		}
		if meta.ContentType != "" {
			s.contentType = meta.ContentType
		}
		if ttlStr := resp.Header.Get(headerStreamTTL); ttlStr != "" {
			if secs, err := strconv.ParseInt(ttlStr, 10, 64); err == nil {
				ttl := time.Duration(secs) * time.Second
				meta.TTL = &ttl
			}
		}
		if expStr := resp.Header.Get(headerStreamExpires); expStr != "" {
			if t, err := time.Parse(time.RFC3339, expStr); err == nil {
				meta.ExpiresAt = &t
			}
		}
		return meta, nil
	case http.StatusNotFound:
		return nil, newStreamError("head", s.url, resp.StatusCode, ErrStreamNotFound)
	default:
		return nil, newStreamError("head", s.url, resp.StatusCode, errorFromStatus(resp.StatusCode))
	}
}

// Delete removes the stream.
func (s *Stream) Delete(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.url, nil)
	if err != nil {
		return newStreamError("delete", s.url, 0, err)
	}

	resp, err := s.client.do(req)
	if err != nil {
		return newStreamError("delete", s.url, 0, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return newStreamError("delete", s.url, resp.StatusCode, ErrStreamNotFound)
	default:
		return newStreamError("delete", s.url, resp.StatusCode, errorFromStatus(resp.StatusCode))
	}
}

// LiveMode selects how Read behaves once it catches up to the tail.
type LiveMode int

const (
	LiveModeNone LiveMode = iota
	LiveModeLongPoll
	LiveModeSSE
)

// ReadOptions configures Read.
type ReadOptions struct {
	Offset  Offset
	Live    LiveMode
	Cursor  string
	Timeout time.Duration
	// Base64 requests encoding=base64 for SSE reads of binary streams.
	Base64 bool
}

// buildReadURL constructs the GET URL for a read request.
func (s *Stream) buildReadURL(opts ReadOptions) string {
	u, err := url.Parse(s.url)
	if err != nil {
		return s.url
	}
	q := u.Query()
	offset := opts.Offset
	if offset == "" {
		offset = StartOffset
	}
	q.Set("offset", string(offset))
	switch opts.Live {
	case LiveModeLongPoll:
		q.Set("live", "long-poll")
	case LiveModeSSE:
		q.Set("live", "sse")
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.Base64 {
		q.Set("encoding", "base64")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Read returns an iterator over successive response chunks, handling
// catch-up, long-poll, and SSE delivery uniformly. Callers must Close the
// iterator when done.
func (s *Stream) Read(ctx context.Context, opts ReadOptions) *ChunkIterator {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	iterCtx, cancel := context.WithCancel(ctx)
	return &ChunkIterator{
		stream: s,
		ctx:    iterCtx,
		cancel: cancel,
		opts:   opts,
		Offset: opts.Offset,
	}
}
