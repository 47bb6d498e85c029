package store

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// producerIdleWindow is how long a producer's fence state is kept after its
// last accepted append before it becomes eligible for garbage collection.
const producerIdleWindow = 7 * 24 * time.Hour

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu       sync.RWMutex
	streams  map[string]*memoryStream
	longPoll *longPollManager

	// Per-producer locks for serializing validation+append.
	// Key: "{streamPath}:{producerId}"
	producerLocks   map[string]*sync.Mutex
	producerLocksMu sync.Mutex

	sweepStop chan struct{}
	sweepDone chan struct{}
}

type memoryStream struct {
	metadata StreamMetadata
	messages []Message
}

type longPollManager struct {
	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// NewMemoryStore creates a new in-memory store and starts its TTL sweeper.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		streams: make(map[string]*memoryStream),
		longPoll: &longPollManager{
			waiters: make(map[string][]chan struct{}),
		},
		producerLocks: make(map[string]*sync.Mutex),
		sweepStop:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// getProducerLock returns a per-producer mutex for serializing validation+append.
// This prevents race conditions when HTTP requests arrive out-of-order.
func (s *MemoryStore) getProducerLock(streamPath, producerId string) *sync.Mutex {
	key := streamPath + ":" + producerId
	s.producerLocksMu.Lock()
	defer s.producerLocksMu.Unlock()

	if mu, ok := s.producerLocks[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	s.producerLocks[key] = mu
	return mu
}

// validateProducer validates producer headers and returns the result.
// It also returns the updated producer state if the append is accepted
// (nil if no update is needed, e.g. a duplicate).
func (s *MemoryStore) validateProducer(meta *StreamMetadata, opts AppendOptions) (AppendResult, *ProducerState, error) {
	epoch := *opts.ProducerEpoch
	seq := *opts.ProducerSeq

	var state *ProducerState
	if meta.Producers != nil {
		state = meta.Producers[opts.ProducerId]
	}

	// No existing state, or a higher epoch claiming the producerId: accept
	// at whatever seq the producer declares, fencing out prior instances.
	if state == nil || epoch > state.Epoch {
		newState := &ProducerState{
			Epoch:       epoch,
			LastSeq:     seq,
			LastUpdated: time.Now().Unix(),
		}
		return AppendResult{
			ProducerResult: ProducerResultAccepted,
			LastSeq:        seq,
		}, newState, nil
	}

	// Epoch validation (client-declared, server-validated)
	if epoch < state.Epoch {
		// Stale epoch - zombie fencing
		return AppendResult{
			CurrentEpoch: state.Epoch,
		}, nil, ErrStaleEpoch
	}

	// Same epoch - sequence validation
	if seq == state.LastSeq {
		// Duplicate - idempotent success, return prior offset
		return AppendResult{
			Offset:         state.LastOffset,
			ProducerResult: ProducerResultDuplicate,
			LastSeq:        state.LastSeq,
		}, nil, nil
	}

	if seq == state.LastSeq+1 {
		newState := &ProducerState{
			Epoch:       epoch,
			LastSeq:     seq,
			LastUpdated: time.Now().Unix(),
		}
		return AppendResult{
			ProducerResult: ProducerResultAccepted,
			LastSeq:        seq,
		}, newState, nil
	}

	// seq < lastSeq is below the duplicate window; seq > lastSeq+1 is a
	// gap. Both carry ExpectedSeq/ReceivedSeq so the client can reconcile.
	result := AppendResult{
		ExpectedSeq: state.LastSeq + 1,
		ReceivedSeq: seq,
	}
	if seq < state.LastSeq {
		return result, nil, ErrInvalidEpochSeq
	}
	return result, nil, ErrProducerSeqGap
}

// pruneIdleProducersLocked removes producer fence entries that haven't been
// touched within producerIdleWindow. Called once per accepted append,
// bounded by the number of distinct producers on the stream.
func pruneIdleProducersLocked(meta *StreamMetadata) {
	if len(meta.Producers) == 0 {
		return
	}
	cutoff := time.Now().Add(-producerIdleWindow).Unix()
	for id, state := range meta.Producers {
		if state.LastUpdated < cutoff {
			delete(meta.Producers, id)
		}
	}
}

func (s *MemoryStore) Create(path string, opts CreateOptions) (*StreamMetadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.streams[path]; ok {
		if existing.metadata.IsExpired() {
			delete(s.streams, path)
		} else if existing.metadata.ConfigMatches(opts) {
			meta := existing.metadata
			return &meta, false, nil
		} else {
			return nil, false, ErrConfigMismatch
		}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	meta := StreamMetadata{
		Path:          path,
		ContentType:   contentType,
		CurrentOffset: ZeroOffset,
		TTLSeconds:    opts.TTLSeconds,
		ExpiresAt:     opts.ExpiresAt,
		CreatedAt:     time.Now(),
		Closed:        opts.Closed,
	}

	stream := &memoryStream{
		metadata: meta,
		messages: make([]Message, 0),
	}

	if len(opts.InitialData) > 0 {
		newOffset, err := s.appendToStream(stream, opts.InitialData, true) // allow empty arrays on create
		if err != nil {
			return nil, false, err
		}
		stream.metadata.CurrentOffset = newOffset
	}

	s.streams[path] = stream
	return &stream.metadata, true, nil
}

func (s *MemoryStore) Get(path string) (*StreamMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream, ok := s.streams[path]
	if !ok {
		return nil, ErrStreamNotFound
	}
	if stream.metadata.IsExpired() {
		return nil, ErrStreamNotFound
	}

	meta := stream.metadata
	return &meta, nil
}

func (s *MemoryStore) Has(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream, ok := s.streams[path]
	if !ok {
		return false
	}
	return !stream.metadata.IsExpired()
}

func (s *MemoryStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[path]; !ok {
		return ErrStreamNotFound
	}
	delete(s.streams, path)
	s.longPoll.notify(path)
	return nil
}

func (s *MemoryStore) Append(path string, data []byte, opts AppendOptions) (AppendResult, error) {
	if opts.HasProducerHeaders() && !opts.HasAllProducerHeaders() {
		return AppendResult{}, ErrPartialProducer
	}

	// A close-only request carries no data: Stream-Closed: true with an
	// empty body just flips the stream to CLOSED without appending a
	// message.
	closeOnly := len(data) == 0 && opts.Close

	if opts.HasAllProducerHeaders() {
		producerLock := s.getProducerLock(path, opts.ProducerId)
		producerLock.Lock()
		defer producerLock.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.streams[path]
	if !ok {
		return AppendResult{}, ErrStreamNotFound
	}
	if stream.metadata.IsExpired() {
		return AppendResult{}, ErrStreamNotFound
	}

	if stream.metadata.Closed {
		// A close-only replay from the producer that originally closed the
		// stream is idempotent; anything else against a closed stream,
		// including a close-only replay from a different identity, is
		// rejected.
		if closeOnly && isIdempotentCloseReplay(&stream.metadata, opts) {
			return AppendResult{
				Offset:       stream.metadata.CurrentOffset,
				StreamClosed: true,
			}, nil
		}
		return AppendResult{}, ErrStreamClosed
	}

	if !closeOnly && opts.ContentType != "" && !ContentTypeMatches(stream.metadata.ContentType, opts.ContentType) {
		return AppendResult{}, ErrContentTypeMismatch
	}

	// Validate producer FIRST (if headers provided). This must happen
	// before Stream-Seq validation so that retries are deduplicated at the
	// transport layer even if Stream-Seq would conflict.
	var producerState *ProducerState
	var producerResult ProducerResult = ProducerResultNone
	var producerLastSeq int64
	if opts.HasAllProducerHeaders() {
		result, newState, err := s.validateProducer(&stream.metadata, opts)
		if err != nil {
			result.Offset = stream.metadata.CurrentOffset
			return result, err
		}
		if result.ProducerResult == ProducerResultDuplicate {
			// result.Offset is the offset the original append minted, not
			// the stream's current tail.
			result.StreamClosed = stream.metadata.Closed
			return result, nil
		}
		producerState = newState
		producerResult = result.ProducerResult
		producerLastSeq = result.LastSeq
	}

	if !closeOnly && opts.Seq != "" {
		if stream.metadata.LastSeq != "" && opts.Seq <= stream.metadata.LastSeq {
			return AppendResult{}, ErrSequenceConflict
		}
	}

	newOffset := stream.metadata.CurrentOffset
	if !closeOnly {
		var err error
		newOffset, err = s.appendToStream(stream, data, false) // don't allow empty arrays on append
		if err != nil {
			return AppendResult{}, err
		}
		stream.metadata.CurrentOffset = newOffset
		if opts.Seq != "" {
			stream.metadata.LastSeq = opts.Seq
		}
	}

	if producerState != nil {
		producerState.LastOffset = newOffset
		if stream.metadata.Producers == nil {
			stream.metadata.Producers = make(map[string]*ProducerState)
		}
		stream.metadata.Producers[opts.ProducerId] = producerState
		pruneIdleProducersLocked(&stream.metadata)
	}

	if opts.Close {
		stream.metadata.Closed = true
		stream.metadata.ClosedBy = closedByFromOptions(opts)
	}

	s.longPoll.notify(path)

	return AppendResult{
		Offset:         newOffset,
		ProducerResult: producerResult,
		LastSeq:        producerLastSeq,
		StreamClosed:   stream.metadata.Closed,
	}, nil
}

// isIdempotentCloseReplay reports whether opts describes a close-only
// (empty-data) request from the same identity that previously closed the
// stream, which must succeed idempotently.
func isIdempotentCloseReplay(meta *StreamMetadata, opts AppendOptions) bool {
	if !opts.Close {
		return false
	}
	if meta.ClosedBy == nil {
		// Closed without a producer identity (a fenceless close); any
		// fenceless close replay is accepted.
		return !opts.HasAllProducerHeaders()
	}
	if !opts.HasAllProducerHeaders() {
		return false
	}
	return meta.ClosedBy.ProducerId == opts.ProducerId &&
		meta.ClosedBy.Epoch == *opts.ProducerEpoch &&
		meta.ClosedBy.Seq == *opts.ProducerSeq
}

func closedByFromOptions(opts AppendOptions) *ClosedByProducer {
	if !opts.HasAllProducerHeaders() {
		return nil
	}
	return &ClosedByProducer{
		ProducerId: opts.ProducerId,
		Epoch:      *opts.ProducerEpoch,
		Seq:        *opts.ProducerSeq,
	}
}

// CloseStream closes a stream without appending data. Idempotent: closing
// an already-closed stream succeeds and reports AlreadyClosed.
func (s *MemoryStore) CloseStream(path string) (*CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.streams[path]
	if !ok {
		return nil, ErrStreamNotFound
	}
	if stream.metadata.IsExpired() {
		return nil, ErrStreamNotFound
	}

	result := &CloseResult{
		FinalOffset:   stream.metadata.CurrentOffset,
		AlreadyClosed: stream.metadata.Closed,
	}

	if !stream.metadata.Closed {
		stream.metadata.Closed = true
		s.longPoll.notify(path)
	}

	return result, nil
}

// appendToStream handles the actual append logic, including JSON mode.
func (s *MemoryStore) appendToStream(stream *memoryStream, data []byte, allowEmpty bool) (Offset, error) {
	isJSON := isJSONContentType(stream.metadata.ContentType)

	if isJSON {
		messages, err := processJSONAppend(data, allowEmpty)
		if err != nil {
			return Offset{}, err
		}

		currentOffset := stream.metadata.CurrentOffset
		for _, msgData := range messages {
			currentOffset = nextOrdinalOffset(currentOffset, uint64(len(msgData)))
			stream.messages = append(stream.messages, Message{
				Data:   msgData,
				Offset: currentOffset,
			})
		}
		return currentOffset, nil
	}

	newOffset := nextOrdinalOffset(stream.metadata.CurrentOffset, uint64(len(data)))
	stream.messages = append(stream.messages, Message{
		Data:   data,
		Offset: newOffset,
	})
	return newOffset, nil
}

// nextOrdinalOffset advances both fields of an Offset for one newly stored
// message: the ordinal (ReadSeq) always increments by one message, the byte
// offset advances by the message's length.
func nextOrdinalOffset(current Offset, msgLen uint64) Offset {
	return Offset{
		ReadSeq:    current.ReadSeq + 1,
		ByteOffset: current.ByteOffset + msgLen,
	}
}

func (s *MemoryStore) Read(path string, offset Offset) ([]Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream, ok := s.streams[path]
	if !ok {
		return nil, false, ErrStreamNotFound
	}
	if stream.metadata.IsExpired() {
		return nil, false, ErrStreamNotFound
	}

	var messages []Message
	for _, msg := range stream.messages {
		if Compare(msg.Offset, offset) > 0 {
			messages = append(messages, msg)
		}
	}

	var upToDate bool
	if len(messages) > 0 {
		upToDate = messages[len(messages)-1].Offset.Equal(stream.metadata.CurrentOffset)
	} else {
		upToDate = offset.Equal(stream.metadata.CurrentOffset) || len(stream.messages) == 0
	}

	return messages, upToDate, nil
}

// WaitForMessages waits for new messages after offset, or for timeout,
// context cancellation, or the stream closing.
func (s *MemoryStore) WaitForMessages(ctx context.Context, path string, offset Offset, timeout time.Duration) ([]Message, bool, bool, error) {
	messages, _, err := s.Read(path, offset)
	if err != nil {
		return nil, false, false, err
	}
	if len(messages) > 0 {
		return messages, false, false, nil
	}

	meta, err := s.Get(path)
	if err != nil {
		return nil, false, false, err
	}
	if meta.Closed {
		return nil, false, true, nil
	}

	ch := make(chan struct{}, 1)
	s.longPoll.register(path, ch)
	defer s.longPoll.unregister(path, ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		messages, _, err := s.Read(path, offset)
		if err != nil {
			return nil, false, false, err
		}
		meta, err := s.Get(path)
		if err != nil {
			// Stream was deleted while we were waiting.
			return nil, false, false, nil
		}
		return messages, false, meta.Closed && len(messages) == 0, nil
	case <-timer.C:
		return nil, true, false, nil
	case <-ctx.Done():
		return nil, false, false, ctx.Err()
	}
}

func (s *MemoryStore) GetCurrentOffset(path string) (Offset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream, ok := s.streams[path]
	if !ok {
		return Offset{}, ErrStreamNotFound
	}
	return stream.metadata.CurrentOffset, nil
}

// Close stops the background sweeper and releases store resources.
func (s *MemoryStore) Close() error {
	close(s.sweepStop)
	<-s.sweepDone
	return nil
}

// Long-poll manager methods
func (m *longPollManager) register(path string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiters[path] = append(m.waiters[path], ch)
}

func (m *longPollManager) unregister(path string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	waiters := m.waiters[path]
	for i, w := range waiters {
		if w == ch {
			m.waiters[path] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
}

func (m *longPollManager) notify(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.waiters[path] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// JSON helper functions
func isJSONContentType(ct string) bool {
	mediaType := strings.ToLower(extractMediaType(ct))
	return mediaType == "application/json"
}

// processJSONAppend processes JSON data for append, flattening top-level arrays.
func processJSONAppend(data []byte, allowEmpty bool) ([][]byte, error) {
	if !json.Valid(data) {
		return nil, ErrInvalidJSON
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, ErrInvalidJSON
		}
		if len(arr) == 0 {
			if !allowEmpty {
				return nil, ErrEmptyJSONArray
			}
			return [][]byte{}, nil
		}
		result := make([][]byte, len(arr))
		for i, elem := range arr {
			result[i] = []byte(elem)
		}
		return result, nil
	}

	return [][]byte{trimmed}, nil
}
