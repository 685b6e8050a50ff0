package protocol

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minedeck/minedeck/internal/domain"
)

// fakeGateway is an in-process game gateway speaking the frame protocol.
// The script runs once per accepted connection.
type fakeGateway struct {
	srv    *httptest.Server
	script func(conn *websocket.Conn, join frame)
}

func newFakeGateway(t *testing.T, script func(conn *websocket.Conn, join frame)) *fakeGateway {
	t.Helper()
	g := &fakeGateway{script: script}
	upgrader := websocket.Upgrader{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var join frame
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		g.script(conn, join)
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) addr(t *testing.T) Address {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(g.srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Address{Host: host, Port: port}
}

func nextEvent(t *testing.T, s Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func requireClosed(t *testing.T, s Session) {
	t.Helper()
	select {
	case _, ok := <-s.Events():
		assert.False(t, ok, "expected closed event channel")
	case <-time.After(2 * time.Second):
		t.Fatal("event channel not closed")
	}
}

func testIdentity() Identity {
	return Identity{Username: "Miner_Steve", GameVersion: "1.19.2", Behavior: domain.BehaviorPassive}
}

func TestDialJoinTelemetryAndChat(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn, join frame) {
		_ = conn.WriteJSON(frame{Type: "joined"})
		_ = conn.WriteJSON(frame{
			Type:        "state",
			PlayerCount: 5,
			Players:     []string{"alice", "bob"},
			Position:    &domain.Position{X: 1.2345, Y: 64.999, Z: -7.005},
		})
		_ = conn.WriteJSON(frame{Type: "chat", Message: "<alice> hi"})
		time.Sleep(200 * time.Millisecond)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
	})

	sess, err := Dial(context.Background(), gw.addr(t), testIdentity())
	require.NoError(t, err)
	defer sess.Close()

	require.IsType(t, Joined{}, nextEvent(t, sess))

	ev := nextEvent(t, sess)
	tele, ok := ev.(Telemetry)
	require.True(t, ok, "expected telemetry, got %T", ev)
	assert.Equal(t, 5, tele.PlayerCount)
	// The event carries the same rounded coordinates as the getter.
	require.NotNil(t, tele.Position)
	assert.Equal(t, 1.23, tele.Position.X)
	assert.Equal(t, 65.0, tele.Position.Y)
	assert.Equal(t, -7.0, tele.Position.Z)

	chat, ok := nextEvent(t, sess).(Chat)
	require.True(t, ok)
	assert.Equal(t, "<alice> hi", chat.Message)

	// Cached getters reflect the last state frame, positions rounded to
	// two decimals.
	assert.Equal(t, 5, sess.PlayerCount())
	assert.Equal(t, []string{"alice", "bob"}, sess.Players())
	pos := sess.Position()
	require.NotNil(t, pos)
	assert.Equal(t, 1.23, pos.X)
	assert.Equal(t, 65.0, pos.Y)
	assert.Equal(t, -7.0, pos.Z)

	ended, ok := nextEvent(t, sess).(Ended)
	require.True(t, ok)
	assert.NotEmpty(t, ended.Reason)
	requireClosed(t, sess)
}

func TestDialSendsJoinFrame(t *testing.T) {
	joins := make(chan frame, 1)
	gw := newFakeGateway(t, func(conn *websocket.Conn, join frame) {
		joins <- join
		_ = conn.WriteJSON(frame{Type: "joined"})
		time.Sleep(100 * time.Millisecond)
	})

	sess, err := Dial(context.Background(), gw.addr(t), testIdentity())
	require.NoError(t, err)
	defer sess.Close()

	select {
	case join := <-joins:
		assert.Equal(t, "join", join.Type)
		assert.Equal(t, "Miner_Steve", join.Username)
		assert.Equal(t, "1.19.2", join.Version)
		assert.Equal(t, "passive", join.Behavior)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never saw the join frame")
	}
}

func TestRejectBecomesFailed(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn, _ frame) {
		_ = conn.WriteJSON(frame{Type: "reject", Reason: "server full"})
	})

	sess, err := Dial(context.Background(), gw.addr(t), testIdentity())
	require.NoError(t, err)
	defer sess.Close()

	failed, ok := nextEvent(t, sess).(Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Err.Error(), "server full")
	requireClosed(t, sess)
}

func TestKickBecomesEnded(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn, _ frame) {
		_ = conn.WriteJSON(frame{Type: "joined"})
		_ = conn.WriteJSON(frame{Type: "kick", Reason: "afk too long"})
	})

	sess, err := Dial(context.Background(), gw.addr(t), testIdentity())
	require.NoError(t, err)
	defer sess.Close()

	require.IsType(t, Joined{}, nextEvent(t, sess))
	ended, ok := nextEvent(t, sess).(Ended)
	require.True(t, ok)
	assert.Equal(t, "afk too long", ended.Reason)
	requireClosed(t, sess)
}

func TestDropBeforeJoinBecomesFailed(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn, _ frame) {
		// Drop without ever acking the join.
		_ = conn.Close()
	})

	sess, err := Dial(context.Background(), gw.addr(t), testIdentity())
	require.NoError(t, err)
	defer sess.Close()

	failed, ok := nextEvent(t, sess).(Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Err.Error(), "handshake")
	requireClosed(t, sess)
}

func TestLocalCloseEndsSession(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn, _ frame) {
		_ = conn.WriteJSON(frame{Type: "joined"})
		// Keep the connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sess, err := Dial(context.Background(), gw.addr(t), testIdentity())
	require.NoError(t, err)

	require.IsType(t, Joined{}, nextEvent(t, sess))
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close(), "close is idempotent")

	ended, ok := nextEvent(t, sess).(Ended)
	require.True(t, ok)
	assert.Equal(t, "closed", ended.Reason)
	requireClosed(t, sess)
}

func TestDialUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, Address{Host: "127.0.0.1", Port: 1}, testIdentity())
	require.Error(t, err)
}

func TestMalformedFramesIgnored(t *testing.T) {
	gw := newFakeGateway(t, func(conn *websocket.Conn, _ frame) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = conn.WriteJSON(frame{Type: "joined"})
		time.Sleep(100 * time.Millisecond)
	})

	sess, err := Dial(context.Background(), gw.addr(t), testIdentity())
	require.NoError(t, err)
	defer sess.Close()

	require.IsType(t, Joined{}, nextEvent(t, sess))
}
