package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/pkg/contracts/domain"
	"keygate/pkg/contracts/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(bytes.NewBuffer(nil), nil))
}

// fakeConn is an in-memory Connection
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
	reads   chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 4)}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	if messageType == websocket.TextMessage {
		f.written = append(f.written, data)
	}
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.reads
	if !ok {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	return websocket.TextMessage, msg, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) RemoteAddr() string                { return "127.0.0.1:40000" }

func (f *fakeConn) messages() []events.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Message, 0, len(f.written))
	for _, data := range f.written {
		var m events.Message
		if json.Unmarshal(data, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) types() []string {
	var types []string
	for _, m := range f.messages() {
		types = append(types, m.Type)
	}
	return types
}

// fakeSource serves a switchable status
type fakeSource struct {
	mu     sync.Mutex
	status *domain.ActivationStatus
	err    error
	calls  int
}

func (s *fakeSource) Status(context.Context) (*domain.ActivationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.status, s.err
}

func (s *fakeSource) set(st *domain.ActivationStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.err = st, err
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(quietLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func connectFake(t *testing.T, hub *Hub) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	client := NewClient(hub, conn, "trace-1", quietLogger())
	hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
	t.Cleanup(func() { close(conn.reads) })
	return conn
}

func activeStatus() *domain.ActivationStatus {
	return &domain.ActivationStatus{
		IsActivated: true,
		IsValid:     true,
		State:       domain.StateActive,
		Result:      domain.Success(),
		CodeType:    domain.CodeTypePermanent,
	}
}

func TestHub_ConnectionMessageAndBroadcast(t *testing.T) {
	hub := startHub(t)
	conn := connectFake(t, hub)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Broadcast(events.Message{Type: events.TypeActivationStatus, Data: events.StatusPayload{State: domain.StateActive}}))

	require.Eventually(t, func() bool { return len(conn.messages()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := conn.messages()
	assert.Equal(t, events.TypeConnection, msgs[0].Type)
	assert.Equal(t, "trace-1", msgs[0].TraceID)
	assert.Equal(t, events.TypeActivationStatus, msgs[1].Type)
	assert.False(t, msgs[1].Timestamp.IsZero())
}

func TestHub_ReplaysLastStatusToNewClients(t *testing.T) {
	hub := startHub(t)
	require.NoError(t, hub.Broadcast(events.Message{Type: events.TypeActivationStatus, Data: events.StatusPayload{State: domain.StateExpired}}))

	conn := connectFake(t, hub)
	require.Eventually(t, func() bool { return len(conn.messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{events.TypeConnection, events.TypeActivationStatus}, conn.types())
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub := startHub(t)
	conn := newFakeConn()
	client := NewClient(hub, conn, "", quietLogger())
	hub.Register(client)
	go client.WritePump()
	go client.ReadPump()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	close(conn.reads)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_RefreshRequest(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	refreshed := make(chan struct{}, 1)
	hub.OnRefresh(func() { refreshed <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := connectFake(t, hub)
	conn.reads <- []byte(`{"type":"heartbeat"}`)
	conn.reads <- []byte(`not json`)
	conn.reads <- []byte(`{"type":"refresh"}`)

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("refresh callback not called")
	}
}

func TestHub_BroadcastAfterStop(t *testing.T) {
	hub := NewHub(quietLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	// fill the buffer so the send cannot succeed
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.broadcast <- nil
	}
	assert.Error(t, hub.Broadcast(events.Message{Type: events.TypeError}))
	hub.Register(NewClient(hub, newFakeConn(), "", quietLogger()))
}

func TestStatusWatcher_PushesChangesOnly(t *testing.T) {
	hub := startHub(t)
	conn := connectFake(t, hub)
	source := &fakeSource{}

	w := NewStatusWatcher(source, hub, time.Hour, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// initial poll: not activated
	require.Eventually(t, func() bool { return len(conn.messages()) == 2 }, time.Second, 5*time.Millisecond)
	var payload events.StatusPayload
	raw, _ := json.Marshal(conn.messages()[1].Data)
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, domain.StateNotActivated, payload.State)
	assert.Nil(t, payload.Status)

	// same status again is not re-sent
	w.Notify()
	require.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return source.calls >= 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, conn.messages(), 2)

	source.set(activeStatus(), nil)
	w.Notify()
	require.Eventually(t, func() bool { return len(conn.messages()) == 3 }, time.Second, 5*time.Millisecond)
	raw, _ = json.Marshal(conn.messages()[2].Data)
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, domain.StateActive, payload.State)
	require.NotNil(t, payload.Status)
	assert.True(t, payload.Status.IsValid)
}

func TestStatusWatcher_ErrorFailsClosed(t *testing.T) {
	hub := startHub(t)
	conn := connectFake(t, hub)
	source := &fakeSource{err: errors.New("activation store read: signature mismatch")}

	w := NewStatusWatcher(source, hub, time.Hour, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool { return len(conn.messages()) == 2 }, time.Second, 5*time.Millisecond)
	msg := conn.messages()[1]
	assert.Equal(t, events.TypeError, msg.Type)

	raw, _ := json.Marshal(msg.Data)
	assert.JSONEq(t, `{"code":"status_unavailable","access":"denied"}`, string(raw))
	assert.NotContains(t, string(raw), "signature")
}

func TestStatusWatcher_LateClientGetsNewestFailure(t *testing.T) {
	hub := startHub(t)
	source := &fakeSource{status: activeStatus()}

	early := connectFake(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	w := NewStatusWatcher(source, hub, time.Hour, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		types := early.types()
		return len(types) == 2 && types[1] == events.TypeActivationStatus
	}, time.Second, 5*time.Millisecond)

	source.set(nil, errors.New("storage failure"))
	w.Notify()
	require.Eventually(t, func() bool { return len(early.messages()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, events.TypeError, early.messages()[2].Type)

	late := connectFake(t, hub)
	require.Eventually(t, func() bool { return len(late.messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{events.TypeConnection, events.TypeError}, late.types())

	raw, _ := json.Marshal(late.messages()[1].Data)
	assert.NotContains(t, string(raw), "is_valid")
	assert.JSONEq(t, `{"code":"status_unavailable","access":"denied"}`, string(raw))
}

func TestHandler_EndToEnd(t *testing.T) {
	hub := startHub(t)
	require.NoError(t, hub.Broadcast(events.Message{Type: events.TypeActivationStatus, Data: events.StatusPayload{State: domain.StateActive}}))

	srv := httptest.NewServer(NewHandler(hub, nil, quietLogger()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hello, status events.Message
	require.NoError(t, conn.ReadJSON(&hello))
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, events.TypeConnection, hello.Type)
	assert.Equal(t, events.TypeActivationStatus, status.Type)
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(NewHandler(hub, []string{"http://localhost:5173"}, quietLogger()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://localhost:5173")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}
