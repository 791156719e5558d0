package realtime

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// stuckSocket blocks every write until release is closed, like a peer
// that stopped reading.
type stuckSocket struct {
	release chan struct{}
	closed  chan struct{}
	once    sync.Once

	mu        sync.Mutex
	closeCode int
}

func newStuckSocket() *stuckSocket {
	return &stuckSocket{release: make(chan struct{}), closed: make(chan struct{})}
}

func (s *stuckSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *stuckSocket) WriteMessage(int, []byte) error {
	<-s.release
	return nil
}

func (s *stuckSocket) WriteControl(kind int, data []byte, _ time.Time) error {
	<-s.release
	if kind == websocket.CloseMessage && len(data) >= 2 {
		s.mu.Lock()
		s.closeCode = int(binary.BigEndian.Uint16(data))
		s.mu.Unlock()
	}
	return nil
}

func (s *stuckSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// TestSlowClientSendDoesNotBlock overflows the buffer of a connection whose
// socket never completes a write. Send must drop the client without waiting
// on the socket, since callers hold a chat lock while fanning out.
func TestSlowClientSendDoesNotBlock(t *testing.T) {
	sock := newStuckSocket()
	c := newWSConn("u1", sock, 1)
	c.start()

	start := time.Now()
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = c.Send([]byte(`{"event":"new_message"}`))
	}
	if !errors.Is(err, errSlowClient) {
		t.Fatalf("Send error = %v, want slow client", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("overflowing Send took %v", elapsed)
	}
	if err := c.Send([]byte("x")); !errors.Is(err, errConnClosed) {
		t.Errorf("Send after drop = %v, want closed", err)
	}

	// Once the peer drains, the writer sends the close frame and closes.
	close(sock.release)
	select {
	case <-sock.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("socket not closed")
	}
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if sock.closeCode != websocket.CloseGoingAway {
		t.Errorf("close code = %d, want %d", sock.closeCode, websocket.CloseGoingAway)
	}
}

func TestCloseReturnsWhileWriterBlocked(t *testing.T) {
	sock := newStuckSocket()
	c := newWSConn("u1", sock, 4)
	c.start()
	if err := c.Send([]byte("first")); err != nil {
		t.Fatal(err)
	}

	returned := make(chan struct{})
	go func() {
		c.Close(CloseSessionReplaced, "session replaced")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Close blocked on the socket")
	}

	close(sock.release)
	select {
	case <-sock.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("socket not closed")
	}
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if sock.closeCode != CloseSessionReplaced {
		t.Errorf("close code = %d, want %d", sock.closeCode, CloseSessionReplaced)
	}
}
