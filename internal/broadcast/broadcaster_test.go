package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minedeck/minedeck/internal/domain"
	"github.com/minedeck/minedeck/internal/store"
)

// flakyStore wraps the memory store so tests can simulate an outage on
// the snapshot read path.
type flakyStore struct {
	*store.MemoryStore
	mu   sync.Mutex
	fail bool
}

func (s *flakyStore) setFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *flakyStore) GetBots(ctx context.Context, ownerID string) ([]*domain.Bot, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return nil, store.ErrUnavailable
	}
	return s.MemoryStore.GetBots(ctx, ownerID)
}

func seedBots(t *testing.T, st store.Store, ownerID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, st.CreateBot(context.Background(), &domain.Bot{
			ID:      ownerID + "-bot-" + string(rune('a'+i)),
			OwnerID: ownerID,
			Name:    "Bot",
			Status:  domain.StatusDisconnected,
		}))
	}
}

// observerServer exposes the broadcaster over a real websocket endpoint,
// with the owner id taken from the query string.
func observerServer(t *testing.T, bc *Broadcaster) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		bc.ServeConn(r.Context(), r.URL.Query().Get("owner"), conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialObserver(t *testing.T, srv *httptest.Server, ownerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?owner=" + ownerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) SnapshotMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg SnapshotMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSnapshotOnConnect(t *testing.T) {
	st := store.NewMemoryStore()
	seedBots(t, st, "owner-1", 2)
	bc := New(st, time.Minute) // heartbeat out of the way
	srv := observerServer(t, bc)

	conn := dialObserver(t, srv, "owner-1")
	msg := readSnapshot(t, conn)
	assert.Equal(t, "SNAPSHOT", msg.Type)
	assert.Len(t, msg.Bots, 2)
}

func TestSnapshotIsEmptyListNotNull(t *testing.T) {
	bc := New(store.NewMemoryStore(), time.Minute)
	srv := observerServer(t, bc)

	conn := dialObserver(t, srv, "owner-1")
	msg := readSnapshot(t, conn)
	require.NotNil(t, msg.Bots)
	assert.Empty(t, msg.Bots)
}

func TestChangeSignalPushesFreshSnapshot(t *testing.T) {
	st := store.NewMemoryStore()
	seedBots(t, st, "owner-1", 1)
	bc := New(st, time.Minute)
	srv := observerServer(t, bc)

	conn := dialObserver(t, srv, "owner-1")
	first := readSnapshot(t, conn)
	require.Len(t, first.Bots, 1)

	require.Eventually(t, func() bool { return bc.ObserverCount("owner-1") == 1 },
		time.Second, 5*time.Millisecond)

	seedBots(t, st, "owner-1", 2) // one id collides, net +1
	bc.BotsChanged("owner-1")

	second := readSnapshot(t, conn)
	assert.Len(t, second.Bots, 2)
}

func TestTwoObserversReceiveSamePayload(t *testing.T) {
	st := store.NewMemoryStore()
	seedBots(t, st, "owner-1", 2)
	bc := New(st, time.Minute)
	srv := observerServer(t, bc)

	a := dialObserver(t, srv, "owner-1")
	b := dialObserver(t, srv, "owner-1")
	readSnapshot(t, a)
	readSnapshot(t, b)

	require.Eventually(t, func() bool { return bc.ObserverCount("owner-1") == 2 },
		time.Second, 5*time.Millisecond)

	bc.BotsChanged("owner-1")
	fromA := readSnapshot(t, a)
	fromB := readSnapshot(t, b)
	assert.Equal(t, fromA, fromB)
}

func TestObserversAreScopedByOwner(t *testing.T) {
	st := store.NewMemoryStore()
	seedBots(t, st, "owner-1", 2)
	seedBots(t, st, "owner-2", 1)
	bc := New(st, time.Minute)
	srv := observerServer(t, bc)

	conn := dialObserver(t, srv, "owner-2")
	msg := readSnapshot(t, conn)
	require.Len(t, msg.Bots, 1)
	assert.Equal(t, "owner-2", msg.Bots[0].OwnerID)
}

func TestDeadObserverDoesNotAffectOthers(t *testing.T) {
	st := store.NewMemoryStore()
	seedBots(t, st, "owner-1", 1)
	bc := New(st, time.Minute)
	srv := observerServer(t, bc)

	dead := dialObserver(t, srv, "owner-1")
	alive := dialObserver(t, srv, "owner-1")
	readSnapshot(t, dead)
	readSnapshot(t, alive)

	require.Eventually(t, func() bool { return bc.ObserverCount("owner-1") == 2 },
		time.Second, 5*time.Millisecond)

	dead.Close()
	require.Eventually(t, func() bool { return bc.ObserverCount("owner-1") == 1 },
		2*time.Second, 5*time.Millisecond)

	bc.BotsChanged("owner-1")
	msg := readSnapshot(t, alive)
	assert.Len(t, msg.Bots, 1)
}

func TestHeartbeatPushesWithoutChanges(t *testing.T) {
	st := store.NewMemoryStore()
	seedBots(t, st, "owner-1", 1)
	bc := New(st, 30*time.Millisecond)
	srv := observerServer(t, bc)

	conn := dialObserver(t, srv, "owner-1")
	readSnapshot(t, conn) // initial
	readSnapshot(t, conn) // first heartbeat
	readSnapshot(t, conn) // second heartbeat
}

func TestStoreOutageSkipsPushKeepsObserver(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore()}
	seedBots(t, st, "owner-1", 1)
	bc := New(st, time.Minute)
	srv := observerServer(t, bc)

	conn := dialObserver(t, srv, "owner-1")
	readSnapshot(t, conn)
	require.Eventually(t, func() bool { return bc.ObserverCount("owner-1") == 1 },
		time.Second, 5*time.Millisecond)

	st.setFailing(true)
	bc.BotsChanged("owner-1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, bc.ObserverCount("owner-1"), "outage must not drop the observer")

	st.setFailing(false)
	bc.BotsChanged("owner-1")
	msg := readSnapshot(t, conn)
	assert.Len(t, msg.Bots, 1)
}
