package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateIdempotentAndConflict(t *testing.T) {
	s := newTestStore(t)

	_, created, err := s.Create("/s1", CreateOptions{ContentType: "text/plain"})
	if err != nil || !created {
		t.Fatalf("expected new stream, got created=%v err=%v", created, err)
	}

	_, created, err = s.Create("/s1", CreateOptions{ContentType: "text/plain"})
	if err != nil || created {
		t.Fatalf("expected idempotent match, got created=%v err=%v", created, err)
	}

	_, _, err = s.Create("/s1", CreateOptions{ContentType: "application/json"})
	if err != ErrConfigMismatch {
		t.Fatalf("expected ErrConfigMismatch, got %v", err)
	}
}

func TestAppendAndReadByteStream(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s1", CreateOptions{ContentType: "text/plain"})

	r1, err := s.Append("/s1", []byte("hello"), AppendOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	_, err = s.Append("/s1", []byte(" world"), AppendOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}

	messages, upToDate, err := s.Read("/s1", ZeroOffset)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !upToDate {
		t.Errorf("expected upToDate")
	}
	var got []byte
	for _, m := range messages {
		got = append(got, m.Data...)
	}
	if string(got) != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", got)
	}

	// Offset resume: reading from r1's offset only returns the second message.
	messages, _, err = s.Read("/s1", r1.Offset)
	if err != nil {
		t.Fatalf("read resume: %v", err)
	}
	if len(messages) != 1 || string(messages[0].Data) != " world" {
		t.Fatalf("expected [' world'], got %+v", messages)
	}
}

func TestJSONBatchSplit(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s2", CreateOptions{ContentType: "application/json"})

	_, err := s.Append("/s2", []byte("[1,2,3]"), AppendOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	messages, _, err := s.Read("/s2", ZeroOffset)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	body := FormatJSONResponse(messages)
	if string(body) != "[1,2,3]" {
		t.Errorf("expected [1,2,3], got %s", body)
	}

	// Partial read from after the first element yields a well-formed array.
	after := messages[0].Offset
	messages, _, err = s.Read("/s2", after)
	if err != nil {
		t.Fatalf("read partial: %v", err)
	}
	body = FormatJSONResponse(messages)
	if string(body) != "[2,3]" {
		t.Errorf("expected [2,3], got %s", body)
	}
}

// Empty-body rejection is an HTTP-layer concern (handler.go's handleAppend):
// the store itself stays permissive and simply stores whatever it's given,
// so a non-close empty append still produces a message rather than an error.
func TestEmptyNonCloseAppendStoresEmptyMessage(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s3", CreateOptions{ContentType: "text/plain"})

	result, err := s.Append("/s3", []byte{}, AppendOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	messages, _, err := s.Read("/s3", ZeroOffset)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(messages) != 1 || len(messages[0].Data) != 0 {
		t.Fatalf("expected one empty message, got %+v", messages)
	}
	if result.Offset != messages[0].Offset {
		t.Fatalf("expected result offset to match the stored message's offset")
	}
}

func TestProducerFenceAcceptDuplicateAndGap(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s4", CreateOptions{ContentType: "application/json"})

	epoch0 := int64(0)
	seq0 := int64(0)
	opts := AppendOptions{
		ContentType:   "application/json",
		ProducerId:    "p1",
		ProducerEpoch: &epoch0,
		ProducerSeq:   &seq0,
	}

	first, err := s.Append("/s4", []byte(`{"a":1}`), opts)
	if err != nil || first.ProducerResult != ProducerResultAccepted {
		t.Fatalf("expected accepted, got result=%+v err=%v", first, err)
	}

	// Identical retry is a duplicate, same offset, no new message.
	dup, err := s.Append("/s4", []byte(`{"a":1}`), opts)
	if err != nil || dup.ProducerResult != ProducerResultDuplicate {
		t.Fatalf("expected duplicate, got result=%+v err=%v", dup, err)
	}
	if dup.Offset != first.Offset {
		t.Fatalf("duplicate should report the original offset: %v != %v", dup.Offset, first.Offset)
	}

	seq1 := int64(1)
	opts.ProducerSeq = &seq1
	_, err = s.Append("/s4", []byte(`{"a":2}`), opts)
	if err != nil {
		t.Fatalf("expected seq=1 accepted: %v", err)
	}

	seq3 := int64(3)
	opts.ProducerSeq = &seq3
	_, err = s.Append("/s4", []byte(`{"a":3}`), opts)
	if err != ErrProducerSeqGap {
		t.Fatalf("expected ErrProducerSeqGap, got %v", err)
	}
}

func TestProducerFenceBelowDuplicateRejected(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s4c", CreateOptions{ContentType: "application/json"})

	epoch0 := int64(0)
	opts := AppendOptions{
		ContentType:   "application/json",
		ProducerId:    "p1",
		ProducerEpoch: &epoch0,
	}
	for i := int64(0); i <= 2; i++ {
		seq := i
		opts.ProducerSeq = &seq
		if _, err := s.Append("/s4c", []byte(`{"x":1}`), opts); err != nil {
			t.Fatalf("seq=%d: %v", i, err)
		}
	}

	// seq below the duplicate window is a regression, not a replay.
	seq0 := int64(0)
	opts.ProducerSeq = &seq0
	result, err := s.Append("/s4c", []byte(`{"x":1}`), opts)
	if err != ErrInvalidEpochSeq {
		t.Fatalf("expected ErrInvalidEpochSeq, got %v", err)
	}
	if result.ExpectedSeq != 3 || result.ReceivedSeq != 0 {
		t.Errorf("expected ExpectedSeq=3 ReceivedSeq=0, got %+v", result)
	}
}

func TestProducerFenceEpochBumpAcceptsAnySeq(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s4d", CreateOptions{ContentType: "application/json"})

	epoch0 := int64(0)
	seq0 := int64(0)
	opts := AppendOptions{
		ContentType:   "application/json",
		ProducerId:    "p1",
		ProducerEpoch: &epoch0,
		ProducerSeq:   &seq0,
	}
	if _, err := s.Append("/s4d", []byte(`{"a":1}`), opts); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A new instance claims the producerId with a higher epoch; its opening
	// seq is taken as-is rather than forced back to zero.
	epoch2 := int64(2)
	seq7 := int64(7)
	opts.ProducerEpoch = &epoch2
	opts.ProducerSeq = &seq7
	result, err := s.Append("/s4d", []byte(`{"a":2}`), opts)
	if err != nil || result.ProducerResult != ProducerResultAccepted {
		t.Fatalf("expected epoch bump accepted, got result=%+v err=%v", result, err)
	}
	if result.LastSeq != 7 {
		t.Errorf("expected LastSeq=7 after epoch bump, got %d", result.LastSeq)
	}
}

func TestProducerDuplicateReportsOriginalOffsetAfterLaterAppends(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s4b", CreateOptions{ContentType: "application/json"})

	epoch0 := int64(0)
	seq0 := int64(0)
	opts := AppendOptions{
		ContentType:   "application/json",
		ProducerId:    "p1",
		ProducerEpoch: &epoch0,
		ProducerSeq:   &seq0,
	}

	first, err := s.Append("/s4b", []byte(`{"a":1}`), opts)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// Another writer advances the tail past the producer's last offset.
	if _, err := s.Append("/s4b", []byte(`{"b":2}`), AppendOptions{ContentType: "application/json"}); err != nil {
		t.Fatalf("unfenced append: %v", err)
	}

	dup, err := s.Append("/s4b", []byte(`{"a":1}`), opts)
	if err != nil || dup.ProducerResult != ProducerResultDuplicate {
		t.Fatalf("expected duplicate, got result=%+v err=%v", dup, err)
	}
	if dup.Offset != first.Offset {
		t.Fatalf("duplicate must replay the original offset, not the tail: %v != %v", dup.Offset, first.Offset)
	}
}

func TestProducerFenceStaleEpoch(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s5", CreateOptions{ContentType: "application/json"})

	epoch1 := int64(1)
	seq0 := int64(0)
	opts := AppendOptions{
		ContentType:   "application/json",
		ProducerId:    "p1",
		ProducerEpoch: &epoch1,
		ProducerSeq:   &seq0,
	}
	if _, err := s.Append("/s5", []byte(`{"a":1}`), opts); err != nil {
		t.Fatalf("expected epoch=1 accepted: %v", err)
	}

	epoch0 := int64(0)
	staleOpts := opts
	staleOpts.ProducerEpoch = &epoch0
	_, err := s.Append("/s5", []byte(`{"a":2}`), staleOpts)
	if err != ErrStaleEpoch {
		t.Fatalf("expected ErrStaleEpoch, got %v", err)
	}
}

func TestCloseStreamRejectsFurtherAppends(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s6", CreateOptions{ContentType: "text/plain"})

	if _, err := s.Append("/s6", []byte("x"), AppendOptions{ContentType: "text/plain", Close: true}); err != nil {
		t.Fatalf("close-on-append: %v", err)
	}

	_, err := s.Append("/s6", []byte("y"), AppendOptions{ContentType: "text/plain"})
	if err != ErrStreamClosed {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}

	// Close-only replay with no producer identity is idempotent.
	result, err := s.Append("/s6", nil, AppendOptions{Close: true})
	if err != nil {
		t.Fatalf("idempotent close replay: %v", err)
	}
	if !result.StreamClosed {
		t.Errorf("expected StreamClosed true")
	}
}

func TestDeleteThenReadIsNotFound(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s7", CreateOptions{ContentType: "text/plain"})
	s.Append("/s7", []byte("x"), AppendOptions{ContentType: "text/plain"})

	if err := s.Delete("/s7"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, _, err := s.Read("/s7", ZeroOffset); err != ErrStreamNotFound {
		t.Fatalf("expected ErrStreamNotFound after delete, got %v", err)
	}
}

func TestWaitForMessagesWakesOnAppend(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s8", CreateOptions{ContentType: "text/plain"})

	tail, err := s.GetCurrentOffset("/s8")
	if err != nil {
		t.Fatalf("current offset: %v", err)
	}

	done := make(chan struct{})
	var messages []Message
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		messages, _, _, err = s.WaitForMessages(ctx, "/s8", tail, 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := s.Append("/s8", []byte("woke"), AppendOptions{ContentType: "text/plain"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("WaitForMessages did not return after append")
	}
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(messages) != 1 || string(messages[0].Data) != "woke" {
		t.Fatalf("expected one 'woke' message, got %+v", messages)
	}
}

func TestWaitForMessagesTimesOut(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s9", CreateOptions{ContentType: "text/plain"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	messages, timedOut, closed, err := s.WaitForMessages(ctx, "/s9", ZeroOffset, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !timedOut || closed || len(messages) != 0 {
		t.Fatalf("expected timeout with no messages, got timedOut=%v closed=%v messages=%+v", timedOut, closed, messages)
	}
}

func TestTTLExpirySweep(t *testing.T) {
	s := newTestStore(t)
	ttl := int64(0) // expires immediately (createdAt + 0s is already past)
	s.Create("/s10", CreateOptions{ContentType: "text/plain", TTLSeconds: &ttl})

	// A zero-second TTL is already expired by the time the next sweep tick
	// runs (sweep cadence is at least once per second).
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		// Has() already reports an expired stream as absent, so look at the
		// registry itself to see whether the sweeper removed the entry.
		s.mu.RLock()
		_, present := s.streams["/s10"]
		s.mu.RUnlock()
		if !present {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected stream to be swept after TTL expiry")
}

func TestContentTypeMismatchRejected(t *testing.T) {
	s := newTestStore(t)
	s.Create("/s11", CreateOptions{ContentType: "application/json"})

	_, err := s.Append("/s11", []byte("plain text"), AppendOptions{ContentType: "text/plain"})
	if err != ErrContentTypeMismatch {
		t.Fatalf("expected ErrContentTypeMismatch, got %v", err)
	}
}
