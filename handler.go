package durablestreams

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"github.com/durable-streams/durable-streams/store"
	"go.uber.org/zap"
)

// Protocol header names
const (
	HeaderStreamNextOffset = "Stream-Next-Offset"
	HeaderStreamCursor     = "Stream-Cursor"
	HeaderStreamUpToDate   = "Stream-Up-To-Date"
	HeaderStreamSeq        = "Stream-Seq"
	HeaderStreamTTL        = "Stream-TTL"
	HeaderStreamExpiresAt  = "Stream-Expires-At"
	HeaderStreamClosed     = "Stream-Closed"

	HeaderProducerId          = "Producer-Id"
	HeaderProducerEpoch       = "Producer-Epoch"
	HeaderProducerSeq         = "Producer-Seq"
	HeaderProducerExpectedSeq = "Producer-Expected-Seq"
	HeaderProducerReceivedSeq = "Producer-Received-Seq"
)

// sseKeepAliveInterval bounds how long an SSE stream may go without any
// frame: the protocol requires a comment keep-alive at least this often
// while idle. A var, not a const, so tests can shorten it rather than
// waiting out the real interval.
var sseKeepAliveInterval = 25 * time.Second

// ServeHTTP implements caddyhttp.MiddlewareHandler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request, next caddyhttp.Handler) error {
	// Set CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Stream-Seq, Stream-TTL, Stream-Expires-At, Stream-Closed, Producer-Id, Producer-Epoch, Producer-Seq, If-None-Match")
	w.Header().Set("Access-Control-Expose-Headers", "Stream-Next-Offset, Stream-Cursor, Stream-Up-To-Date, Stream-Closed, Stream-TTL, Stream-Expires-At, Producer-Epoch, Producer-Seq, Producer-Expected-Seq, Producer-Received-Seq, ETag, Location")

	// Handle preflight
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	// Extract stream path from URL
	streamPath := r.URL.Path

	h.logger.Debug("handling request",
		zap.String("method", r.Method),
		zap.String("path", streamPath),
		zap.String("query", r.URL.RawQuery))

	var err error
	switch r.Method {
	case http.MethodPut:
		err = h.handleCreate(w, r, streamPath)
	case http.MethodHead:
		err = h.handleHead(w, r, streamPath)
	case http.MethodGet:
		err = h.handleRead(w, r, streamPath)
	case http.MethodPost:
		err = h.handleAppend(w, r, streamPath)
	case http.MethodDelete:
		err = h.handleDelete(w, r, streamPath)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil
	}

	if err != nil {
		h.writeError(w, err)
	}
	return nil
}

// handleCreate handles PUT requests to create a stream
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request, path string) error {
	// Parse headers
	contentType := r.Header.Get("Content-Type")
	ttlStr := r.Header.Get(HeaderStreamTTL)
	expiresAtStr := r.Header.Get(HeaderStreamExpiresAt)

	// Validate TTL and ExpiresAt aren't both provided
	if ttlStr != "" && expiresAtStr != "" {
		return newHTTPError(http.StatusBadRequest, "cannot specify both Stream-TTL and Stream-Expires-At")
	}

	// Parse TTL
	var ttlSeconds *int64
	if ttlStr != "" {
		ttl, err := parseTTL(ttlStr)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, err.Error())
		}
		ttlSeconds = &ttl
	}

	// Parse ExpiresAt
	var expiresAt *time.Time
	if expiresAtStr != "" {
		t, err := time.Parse(time.RFC3339, expiresAtStr)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "invalid Stream-Expires-At format")
		}
		expiresAt = &t
	}

	// Read optional initial body
	var initialData []byte
	if r.ContentLength > 0 {
		var err error
		initialData, err = io.ReadAll(r.Body)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "failed to read body")
		}
	}

	opts := store.CreateOptions{
		ContentType: contentType,
		TTLSeconds:  ttlSeconds,
		ExpiresAt:   expiresAt,
		InitialData: initialData,
		Closed:      strings.EqualFold(r.Header.Get(HeaderStreamClosed), "true"),
	}

	meta, wasCreated, err := h.store.Create(path, opts)
	if err != nil {
		if errors.Is(err, store.ErrConfigMismatch) {
			return newHTTPError(http.StatusConflict, "stream exists with different configuration")
		}
		return err
	}

	// Set response headers
	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set(HeaderStreamNextOffset, meta.CurrentOffset.String())
	w.Header().Set("ETag", fmt.Sprintf(`"%s"`, meta.CurrentOffset.String()))
	if meta.Closed {
		w.Header().Set(HeaderStreamClosed, "true")
	}

	if wasCreated {
		// Build full URL for Location header
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		// Check X-Forwarded-Proto header (for reverse proxies)
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		fullURL := fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.Path)
		w.Header().Set("Location", fullURL)
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	return nil
}

// handleHead handles HEAD requests for stream metadata
func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request, path string) error {
	meta, err := h.store.Get(path)
	if err != nil {
		if errors.Is(err, store.ErrStreamNotFound) {
			return newHTTPError(http.StatusNotFound, "stream not found")
		}
		return err
	}

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set(HeaderStreamNextOffset, meta.CurrentOffset.String())
	w.Header().Set("ETag", fmt.Sprintf(`"%s"`, meta.CurrentOffset.String()))
	w.Header().Set("Cache-Control", "no-store")

	if meta.TTLSeconds != nil {
		w.Header().Set(HeaderStreamTTL, strconv.FormatInt(*meta.TTLSeconds, 10))
	}
	if meta.ExpiresAt != nil {
		w.Header().Set(HeaderStreamExpiresAt, meta.ExpiresAt.Format(time.RFC3339))
	}
	if meta.Closed {
		w.Header().Set(HeaderStreamClosed, "true")
	}

	w.WriteHeader(http.StatusOK)
	return nil
}

// handleRead handles GET requests to read from a stream
func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request, path string) error {
	// Check if stream exists
	meta, err := h.store.Get(path)
	if err != nil {
		if errors.Is(err, store.ErrStreamNotFound) {
			return newHTTPError(http.StatusNotFound, "stream not found")
		}
		return err
	}

	// Check for explicit empty offset parameter (different from missing offset)
	query := r.URL.Query()
	offsetValues, offsetProvided := query["offset"]
	offsetStr := ""
	if offsetProvided {
		if len(offsetValues) > 1 {
			return newHTTPError(http.StatusBadRequest, "multiple offset parameters not allowed")
		}
		offsetStr = offsetValues[0]
		// Reject empty offset string when explicitly provided
		if offsetStr == "" {
			return newHTTPError(http.StatusBadRequest, "offset parameter cannot be empty")
		}
	}

	// Parse offset. "now" is a request-only sentinel: it resolves to the
	// stream's current tail at request time rather than a fixed encoding,
	// so it's handled here instead of in store.ParseOffset.
	var offset store.Offset
	if offsetStr == "now" {
		offset = meta.CurrentOffset
	} else {
		offset, err = store.ParseOffset(offsetStr)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "invalid offset")
		}
	}
	// Check for live mode
	liveMode := query.Get("live")
	cursor := query.Get("cursor")
	encoding := query.Get("encoding")

	// Validate long-poll requires offset
	if liveMode == "long-poll" && !offsetProvided {
		return newHTTPError(http.StatusBadRequest, "offset required for long-poll mode")
	}

	// Validate SSE requires offset
	if liveMode == "sse" && !offsetProvided {
		return newHTTPError(http.StatusBadRequest, "offset required for SSE mode")
	}

	// Handle SSE mode first (before reading)
	if liveMode == "sse" {
		return h.handleSSE(w, r, path, offset, cursor, encoding)
	}

	// Read messages
	messages, _, err := h.store.Read(path, offset)
	if err != nil {
		return err
	}

	// Calculate next offset
	nextOffset := offset
	if len(messages) > 0 {
		nextOffset = messages[len(messages)-1].Offset
	} else {
		// No new messages, use current offset from metadata
		nextOffset = meta.CurrentOffset
	}

	streamClosed := meta.Closed

	// Handle long-poll mode
	if liveMode == "long-poll" && len(messages) == 0 {
		// Client is caught up, wait for new data
		timeout := time.Duration(h.LongPollTimeout)
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		waitMessages, timedOut, waitClosed, err := h.store.WaitForMessages(ctx, path, offset, timeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return h.writeLongPollEmpty(w, meta, offset)
			}
			return err
		}

		if timedOut {
			return h.writeLongPollEmpty(w, meta, offset)
		}

		messages = waitMessages
		streamClosed = streamClosed || waitClosed

		// Got new messages - update nextOffset
		if len(messages) > 0 {
			nextOffset = messages[len(messages)-1].Offset
		} else if streamClosed {
			w.Header().Set(HeaderStreamClosed, "true")
			return h.writeLongPollEmpty(w, meta, offset)
		}
	}

	// Determine if we're up to date (at the tail of the stream)
	// Re-fetch current offset to check if we're at the tail
	currentMeta, err := h.store.Get(path)
	upToDate := err == nil && nextOffset.Equal(currentMeta.CurrentOffset)
	if err == nil {
		streamClosed = currentMeta.Closed
	}

	// Set response headers
	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set(HeaderStreamNextOffset, nextOffset.String())
	if streamClosed {
		w.Header().Set(HeaderStreamClosed, "true")
	}

	// Always set Stream-Up-To-Date when at tail
	if upToDate {
		w.Header().Set(HeaderStreamUpToDate, "true")
	}

	// Stream-Cursor lets a CDN collapse repeated historical-read GETs onto
	// the same interval bucket; it belongs on every response, not just
	// long-poll, since long-poll is unconditionally no-store below and can
	// never be CDN-cached in the first place.
	w.Header().Set(HeaderStreamCursor, h.cursor.next(cursor))

	// Set ETag for caching
	w.Header().Set("ETag", fmt.Sprintf(`"%s"`, nextOffset.String()))

	// Set caching headers: historical reads are CDN-cacheable, live-mode
	// reads must never be cached by an intermediary.
	if liveMode == "long-poll" {
		w.Header().Set("Cache-Control", "no-store")
	} else if !upToDate && len(messages) > 0 {
		// max-age tracks the cursor interval so a cached body expires no
		// later than the bucket it was computed in.
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", h.cursor.maxAgeSeconds()))
	}

	// Check If-None-Match for 304
	if ifNoneMatch := r.Header.Get("If-None-Match"); ifNoneMatch != "" {
		expectedETag := fmt.Sprintf(`"%s"`, nextOffset.String())
		if ifNoneMatch == expectedETag {
			w.WriteHeader(http.StatusNotModified)
			return nil
		}
	}

	// Format and write response
	body, err := h.formatResponse(path, messages, meta.ContentType)
	if err != nil {
		return err
	}

	w.WriteHeader(http.StatusOK)
	w.Write(body)
	return nil
}

// writeLongPollEmpty writes the response for a long-poll that timed out, or
// found the stream closed, with nothing new: 200, empty body,
// Stream-Up-To-Date: true, and the current Stream-Cursor. A 204
// would be indistinguishable from "caught up forever" to a client that
// treats it as a terminal signal.
func (h *Handler) writeLongPollEmpty(w http.ResponseWriter, meta *store.StreamMetadata, offset store.Offset) error {
	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set(HeaderStreamNextOffset, offset.String())
	w.Header().Set(HeaderStreamUpToDate, "true")
	w.Header().Set(HeaderStreamCursor, h.cursor.current())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	return nil
}

// handleSSE handles Server-Sent Events streaming
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request, path string, offset store.Offset, cursor string, encoding string) error {
	meta, err := h.store.Get(path)
	if err != nil {
		if errors.Is(err, store.ErrStreamNotFound) {
			return newHTTPError(http.StatusNotFound, "stream not found")
		}
		return err
	}

	ct := strings.ToLower(store.ExtractMediaType(meta.ContentType))
	isText := strings.HasPrefix(ct, "text/") || ct == "application/json"

	if encoding != "" && encoding != "base64" {
		return newHTTPError(http.StatusBadRequest, "unsupported encoding parameter")
	}
	if !isText && encoding != "base64" {
		return newHTTPError(http.StatusBadRequest, "SSE mode requires text/* or application/json content type, or encoding=base64 for binary streams")
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		return newHTTPError(http.StatusInternalServerError, "streaming not supported")
	}

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	reconnectTimer := time.NewTimer(time.Duration(h.SSEReconnectInterval))
	defer reconnectTimer.Stop()

	// A comment keep-alive must be sent at least every 25s while idle,
	// independent of reconnectTimer, which only bounds the connection's
	// total lifetime.
	keepAliveTimer := time.NewTimer(sseKeepAliveInterval)
	defer keepAliveTimer.Stop()
	resetKeepAlive := func() {
		if !keepAliveTimer.Stop() {
			select {
			case <-keepAliveTimer.C:
			default:
			}
		}
		keepAliveTimer.Reset(sseKeepAliveInterval)
	}

	currentOffset := offset
	sentInitialControl := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reconnectTimer.C:
			// Close connection to allow CDN collapsing
			return nil
		case <-keepAliveTimer.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
			keepAliveTimer.Reset(sseKeepAliveInterval)
		default:
			// Read any available messages. Once the event stream has started,
			// a vanished stream (deleted or expired mid-session) just ends the
			// connection; an error status can no longer be written.
			messages, _, err := h.store.Read(path, currentOffset)
			if err != nil {
				return nil
			}

			if len(messages) > 0 {
				if err := h.writeSSEData(w, path, messages, meta.ContentType, encoding); err != nil {
					return err
				}

				// Update current offset
				currentOffset = messages[len(messages)-1].Offset

				currentMeta, err := h.store.Get(path)
				upToDate := err == nil && currentOffset.Equal(currentMeta.CurrentOffset)
				h.writeSSEControl(w, currentOffset, cursor, upToDate)
				flusher.Flush()
				sentInitialControl = true
				resetKeepAlive()
			} else if !sentInitialControl {
				// Send initial control event even for empty stream
				currentMeta, err := h.store.Get(path)
				if err != nil {
					return nil
				}
				h.writeSSEControl(w, currentMeta.CurrentOffset, cursor, true)
				flusher.Flush()
				sentInitialControl = true
				resetKeepAlive()
			}

			// Once the stream is closed, end the connection; no further
			// frames are written.
			if currentMeta, err := h.store.Get(path); err == nil && currentMeta.Closed {
				return nil
			}

			// Wait for more data
			timeout := 100 * time.Millisecond
			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			h.store.WaitForMessages(waitCtx, path, currentOffset, timeout)
			cancel()
		}
	}
}

func (h *Handler) writeSSEControl(w http.ResponseWriter, offset store.Offset, cursor string, upToDate bool) {
	control := map[string]interface{}{
		"offset":   offset.String(),
		"upToDate": upToDate,
		"cursor":   h.cursor.next(cursor),
	}
	controlJSON, _ := json.Marshal(control)
	fmt.Fprintf(w, "event: control\n")
	fmt.Fprintf(w, "data: %s\n\n", controlJSON)
}

func (h *Handler) writeSSEData(w http.ResponseWriter, path string, messages []store.Message, contentType, encoding string) error {
	body, err := h.formatResponse(path, messages, contentType)
	if err != nil {
		return err
	}
	if encoding == "base64" {
		body = []byte(base64.StdEncoding.EncodeToString(body))
	}
	fmt.Fprintf(w, "event: data\n")
	for _, line := range strings.Split(string(body), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprintf(w, "\n")
	return nil
}

// handleAppend handles POST requests to append to a stream
func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request, path string) error {
	// Check if stream exists
	meta, err := h.store.Get(path)
	if err != nil {
		if errors.Is(err, store.ErrStreamNotFound) {
			return newHTTPError(http.StatusNotFound, "stream not found")
		}
		return err
	}

	closeRequested := strings.EqualFold(r.Header.Get(HeaderStreamClosed), "true")

	producerId := r.Header.Get(HeaderProducerId)
	producerEpochStr := r.Header.Get(HeaderProducerEpoch)
	producerSeqStr := r.Header.Get(HeaderProducerSeq)
	headerCount := 0
	for _, v := range []string{producerId, producerEpochStr, producerSeqStr} {
		if v != "" {
			headerCount++
		}
	}
	if headerCount > 0 && headerCount < 3 {
		return newHTTPError(http.StatusBadRequest, "Producer-Id, Producer-Epoch, and Producer-Seq must all be provided together")
	}

	opts := store.AppendOptions{
		Seq:   r.Header.Get(HeaderStreamSeq),
		Close: closeRequested,
	}
	if headerCount == 3 {
		epoch, err := strconv.ParseInt(producerEpochStr, 10, 64)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "invalid Producer-Epoch")
		}
		seq, err := strconv.ParseInt(producerSeqStr, 10, 64)
		if err != nil {
			return newHTTPError(http.StatusBadRequest, "invalid Producer-Seq")
		}
		opts.ProducerId = producerId
		opts.ProducerEpoch = &epoch
		opts.ProducerSeq = &seq
	}

	// Read body
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return newHTTPError(http.StatusBadRequest, "failed to read body")
	}

	// Empty body is only allowed as a close-only request.
	if len(body) == 0 && !closeRequested {
		return newHTTPError(http.StatusBadRequest, "empty body not allowed")
	}

	if len(body) > 0 {
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			return newHTTPError(http.StatusBadRequest, "Content-Type header is required")
		}
		if !store.ContentTypeMatches(meta.ContentType, contentType) {
			return newHTTPError(http.StatusBadRequest, "content type mismatch")
		}
		opts.ContentType = contentType
	}

	result, err := h.store.Append(path, body, opts)
	if err != nil {
		return h.writeAppendError(w, err, result)
	}

	w.Header().Set(HeaderStreamNextOffset, result.Offset.String())
	if result.StreamClosed {
		w.Header().Set(HeaderStreamClosed, "true")
	}
	if opts.HasAllProducerHeaders() {
		w.Header().Set(HeaderProducerSeq, strconv.FormatInt(result.LastSeq, 10))
	}

	// A deduplicated retry changed nothing: 204, with Stream-Next-Offset
	// reporting the original append's offset. The ETag is
	// derived from the tail, which a duplicate did not move, so it is only
	// set on the accepted path where result.Offset is the new tail.
	if result.ProducerResult == store.ProducerResultDuplicate {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	w.Header().Set("ETag", fmt.Sprintf(`"%s"`, result.Offset.String()))
	w.WriteHeader(http.StatusOK)
	return nil
}

// writeAppendError maps a store append error to its HTTP status and, for
// producer-fence errors, the fence-context response headers the client
// needs to self-heal (Producer-Epoch / Producer-Expected-Seq /
// Producer-Received-Seq).
func (h *Handler) writeAppendError(w http.ResponseWriter, err error, result store.AppendResult) error {
	switch {
	case errors.Is(err, store.ErrSequenceConflict):
		return newHTTPError(http.StatusConflict, "sequence number conflict")
	case errors.Is(err, store.ErrContentTypeMismatch):
		return newHTTPError(http.StatusBadRequest, "content type mismatch")
	case errors.Is(err, store.ErrInvalidJSON):
		return newHTTPError(http.StatusBadRequest, "invalid JSON")
	case errors.Is(err, store.ErrEmptyJSONArray):
		return newHTTPError(http.StatusBadRequest, "empty JSON array not allowed")
	case errors.Is(err, store.ErrStreamClosed):
		return newHTTPError(http.StatusGone, "stream is closed")
	case errors.Is(err, store.ErrStaleEpoch):
		w.Header().Set(HeaderProducerEpoch, strconv.FormatInt(result.CurrentEpoch, 10))
		return newHTTPError(http.StatusForbidden, "producer epoch is stale")
	case errors.Is(err, store.ErrInvalidEpochSeq):
		w.Header().Set(HeaderProducerExpectedSeq, strconv.FormatInt(result.ExpectedSeq, 10))
		w.Header().Set(HeaderProducerReceivedSeq, strconv.FormatInt(result.ReceivedSeq, 10))
		return newHTTPError(http.StatusConflict, "producer sequence below last accepted")
	case errors.Is(err, store.ErrProducerSeqGap):
		w.Header().Set(HeaderProducerExpectedSeq, strconv.FormatInt(result.ExpectedSeq, 10))
		w.Header().Set(HeaderProducerReceivedSeq, strconv.FormatInt(result.ReceivedSeq, 10))
		return newHTTPError(http.StatusConflict, "producer sequence gap detected")
	case errors.Is(err, store.ErrPartialProducer):
		return newHTTPError(http.StatusBadRequest, "all producer headers must be provided together")
	}
	return err
}

// handleDelete handles DELETE requests to delete a stream
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, path string) error {
	err := h.store.Delete(path)
	if err != nil {
		if errors.Is(err, store.ErrStreamNotFound) {
			return newHTTPError(http.StatusNotFound, "stream not found")
		}
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// formatResponse formats messages based on content type
func (h *Handler) formatResponse(path string, messages []store.Message, contentType string) ([]byte, error) {
	if store.IsJSONContentType(contentType) {
		return store.FormatJSONResponse(messages), nil
	}

	// Non-JSON: concatenate raw data
	var total int
	for _, msg := range messages {
		total += len(msg.Data)
	}
	result := make([]byte, 0, total)
	for _, msg := range messages {
		result = append(result, msg.Data...)
	}
	return result, nil
}

// HTTP error handling
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string {
	return e.message
}

func newHTTPError(status int, message string) *httpError {
	return &httpError{status: status, message: message}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		http.Error(w, httpErr.message, httpErr.status)
		return
	}

	h.logger.Error("internal error", zap.Error(err))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// parseTTL parses and validates a TTL string according to the protocol
var ttlRegex = regexp.MustCompile(`^[1-9][0-9]*$|^0$`)

func parseTTL(s string) (int64, error) {
	// Must be a positive integer without leading zeros (except "0" itself)
	// No plus sign, no floats, no scientific notation
	if !ttlRegex.MatchString(s) {
		return 0, fmt.Errorf("invalid TTL format: must be a non-negative integer without leading zeros")
	}

	ttl, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid TTL: %w", err)
	}

	if ttl < 0 {
		return 0, fmt.Errorf("TTL must be non-negative")
	}

	return ttl, nil
}
