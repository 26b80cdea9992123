package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrium/callkit/internal/domain"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// testServer accepts one websocket and hands the raw connection to a script.
type testServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{conns: make(chan *websocket.Conn, 1)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection arrived")
		return nil
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, m message) {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

func TestRequestResponseCorrelation(t *testing.T) {
	srv := newTestServer(t)
	ch, err := Dial(context.Background(), srv.wsURL(), Callbacks{})
	require.NoError(t, err)
	defer ch.Close()
	conn := srv.accept(t)

	type result struct {
		data json.RawMessage
		err  error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			data, err := ch.Request(context.Background(), "getRouterRtpCapabilities", nil)
			results <- result{data, err}
		}()
	}

	// Answer the two requests out of order to exercise id matching.
	first := readEnvelope(t, conn)
	second := readEnvelope(t, conn)
	assert.True(t, first.Request)
	assert.Equal(t, "getRouterRtpCapabilities", first.Method)
	assert.NotEqual(t, first.ID, second.ID)

	writeEnvelope(t, conn, message{Response: true, ID: second.ID, OK: true, Data: json.RawMessage(`{"n":2}`)})
	writeEnvelope(t, conn, message{Response: true, ID: first.ID, OK: true, Data: json.RawMessage(`{"n":1}`)})

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			assert.Contains(t, string(r.data), `"n"`)
		case <-time.After(2 * time.Second):
			t.Fatal("request did not resolve")
		}
	}
}

func TestRequestErrorResponse(t *testing.T) {
	srv := newTestServer(t)
	ch, err := Dial(context.Background(), srv.wsURL(), Callbacks{})
	require.NoError(t, err)
	defer ch.Close()
	conn := srv.accept(t)

	errs := make(chan error, 1)
	go func() {
		_, err := ch.Request(context.Background(), "join", map[string]any{"displayName": "x"})
		errs <- err
	}()

	req := readEnvelope(t, conn)
	writeEnvelope(t, conn, message{Response: true, ID: req.ID, ErrorCode: 403, ErrorReason: "room full"})

	select {
	case err := <-errs:
		var re *ResponseError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, 403, re.Code)
		assert.Equal(t, "room full", re.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not resolve")
	}
}

func TestRequestCanceledByContext(t *testing.T) {
	srv := newTestServer(t)
	ch, err := Dial(context.Background(), srv.wsURL(), Callbacks{})
	require.NoError(t, err)
	defer ch.Close()
	srv.accept(t)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := ch.Request(ctx, "join", nil)
		errs <- err
	}()
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not resolve")
	}
}

func TestServerRequestAcceptAndReject(t *testing.T) {
	srv := newTestServer(t)
	ch, err := Dial(context.Background(), srv.wsURL(), Callbacks{
		OnRequest: func(method string, data json.RawMessage) error {
			if method == "newConsumer" {
				return nil
			}
			return Reject(403, "I do not want to consume")
		},
	})
	require.NoError(t, err)
	defer ch.Close()
	conn := srv.accept(t)

	writeEnvelope(t, conn, message{Request: true, ID: 7, Method: "newConsumer", Data: json.RawMessage(`{}`)})
	res := readEnvelope(t, conn)
	assert.True(t, res.Response)
	assert.Equal(t, uint32(7), res.ID)
	assert.True(t, res.OK)

	writeEnvelope(t, conn, message{Request: true, ID: 8, Method: "somethingElse"})
	res = readEnvelope(t, conn)
	assert.Equal(t, uint32(8), res.ID)
	assert.False(t, res.OK)
	assert.Equal(t, 403, res.ErrorCode)
	assert.Equal(t, "I do not want to consume", res.ErrorReason)
}

func TestServerRequestWithoutHandlerIsRejected(t *testing.T) {
	srv := newTestServer(t)
	ch, err := Dial(context.Background(), srv.wsURL(), Callbacks{})
	require.NoError(t, err)
	defer ch.Close()
	conn := srv.accept(t)

	writeEnvelope(t, conn, message{Request: true, ID: 3, Method: "newConsumer"})
	res := readEnvelope(t, conn)
	assert.False(t, res.OK)
	assert.Equal(t, 501, res.ErrorCode)
}

func TestNotificationCallbackCanRequest(t *testing.T) {
	srv := newTestServer(t)
	errs := make(chan error, 1)
	chRef := make(chan *Channel, 1)
	ch, err := Dial(context.Background(), srv.wsURL(), Callbacks{
		OnNotification: func(Notification) {
			// A moderation mute triggers pauseProducer from inside the
			// callback; the response must still get through.
			c := <-chRef
			_, err := c.Request(context.Background(), "pauseProducer", map[string]any{"producerId": "p1"})
			errs <- err
		},
	})
	require.NoError(t, err)
	defer ch.Close()
	chRef <- ch
	conn := srv.accept(t)

	writeEnvelope(t, conn, message{Notification: true, Method: "activeSpeaker",
		Data: json.RawMessage(`{"peerId":"p1","volume":-40}`)})

	req := readEnvelope(t, conn)
	assert.Equal(t, "pauseProducer", req.Method)
	writeEnvelope(t, conn, message{Response: true, ID: req.ID, OK: true})

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("request from notification callback did not resolve")
	}
}

func TestServerRequestHandlerCanRequest(t *testing.T) {
	srv := newTestServer(t)
	chRef := make(chan *Channel, 1)
	ch, err := Dial(context.Background(), srv.wsURL(), Callbacks{
		OnRequest: func(method string, data json.RawMessage) error {
			// Mirrors consuming a new producer: the receive transport
			// connects via a request before the answer goes back.
			c := <-chRef
			_, err := c.Request(context.Background(), "connectWebRtcTransport", nil)
			return err
		},
	})
	require.NoError(t, err)
	defer ch.Close()
	chRef <- ch
	conn := srv.accept(t)

	writeEnvelope(t, conn, message{Request: true, ID: 9, Method: "newConsumer", Data: json.RawMessage(`{}`)})

	connect := readEnvelope(t, conn)
	assert.Equal(t, "connectWebRtcTransport", connect.Method)
	writeEnvelope(t, conn, message{Response: true, ID: connect.ID, OK: true})

	answer := readEnvelope(t, conn)
	assert.True(t, answer.Response)
	assert.Equal(t, uint32(9), answer.ID)
	assert.True(t, answer.OK)
}

func TestNotificationDecoding(t *testing.T) {
	srv := newTestServer(t)
	got := make(chan Notification, 4)
	ch, err := Dial(context.Background(), srv.wsURL(), Callbacks{
		OnNotification: func(n Notification) { got <- n },
	})
	require.NoError(t, err)
	defer ch.Close()
	conn := srv.accept(t)

	writeEnvelope(t, conn, message{Notification: true, Method: "activeSpeaker",
		Data: json.RawMessage(`{"peerId":"p1","volume":-40}`)})
	writeEnvelope(t, conn, message{Notification: true, Method: "consumerClosed",
		Data: json.RawMessage(`{"consumerId":"c1"}`)})
	writeEnvelope(t, conn, message{Notification: true, Method: "callEnded"})

	speaker := (<-got).(*ActiveSpeaker)
	assert.Equal(t, domain.PeerID("p1"), speaker.PeerID)
	assert.Equal(t, -40, speaker.Volume)

	closed := (<-got).(*ConsumerClosed)
	assert.Equal(t, "c1", closed.ConsumerID)

	_, ok := (<-got).(*CallEnded)
	assert.True(t, ok)
}

func TestUnknownNotificationIsDropped(t *testing.T) {
	srv := newTestServer(t)
	got := make(chan Notification, 2)
	ch, err := Dial(context.Background(), srv.wsURL(), Callbacks{
		OnNotification: func(n Notification) { got <- n },
	})
	require.NoError(t, err)
	defer ch.Close()
	conn := srv.accept(t)

	writeEnvelope(t, conn, message{Notification: true, Method: "futureFeature",
		Data: json.RawMessage(`{"x":1}`)})
	writeEnvelope(t, conn, message{Notification: true, Method: "peerClosed",
		Data: json.RawMessage(`{"peerId":"p2"}`)})

	// Only the known notification arrives; the unknown one is swallowed.
	n := <-got
	left, ok := n.(*PeerClosed)
	require.True(t, ok)
	assert.Equal(t, domain.PeerID("p2"), left.PeerID)
}

func TestDisconnectFailsPendingAndNotifies(t *testing.T) {
	srv := newTestServer(t)
	disconnected := make(chan error, 1)
	ch, err := Dial(context.Background(), srv.wsURL(), Callbacks{
		OnDisconnected: func(err error) { disconnected <- err },
	})
	require.NoError(t, err)
	conn := srv.accept(t)

	errs := make(chan error, 1)
	go func() {
		_, err := ch.Request(context.Background(), "join", nil)
		errs <- err
	}()
	readEnvelope(t, conn)
	require.NoError(t, conn.Close())

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request did not fail")
	}
	select {
	case err := <-disconnected:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnected did not fire")
	}
}

func TestCloseDoesNotFireOnDisconnected(t *testing.T) {
	srv := newTestServer(t)
	disconnected := make(chan error, 1)
	ch, err := Dial(context.Background(), srv.wsURL(), Callbacks{
		OnDisconnected: func(err error) { disconnected <- err },
	})
	require.NoError(t, err)
	srv.accept(t)

	ch.Close()
	ch.Close()

	_, err = ch.Request(context.Background(), "join", nil)
	assert.ErrorIs(t, err, ErrChannelClosed)

	select {
	case <-disconnected:
		t.Fatal("OnDisconnected fired after local Close")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/", Callbacks{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrChannelClosed))
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name      string
		serverURL string
		want      string
		wantErr   bool
	}{
		{name: "https becomes wss", serverURL: "https://calls.example.com", want: "wss://calls.example.com"},
		{name: "http becomes ws", serverURL: "http://localhost:4443", want: "ws://localhost:4443"},
		{name: "wss passes through", serverURL: "wss://calls.example.com", want: "wss://calls.example.com"},
		{name: "ftp rejected", serverURL: "ftp://calls.example.com", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildURL(URLParams{
				ServerURL:        tc.serverURL,
				RoomID:           "room-1",
				PeerID:           "peer-1",
				ConsumerReplicas: 2,
				CallKind:         domain.CallKindBroadcast,
				CallCreator:      "creator-1",
			})
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got, tc.want+"?"))
			assert.Contains(t, got, "roomId=room-1")
			assert.Contains(t, got, "peerId=peer-1")
			assert.Contains(t, got, "consumerReplicas=2")
			assert.Contains(t, got, "callType=broadcast")
			assert.Contains(t, got, "callCreator=creator-1")
		})
	}
}
