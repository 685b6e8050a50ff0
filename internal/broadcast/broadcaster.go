// Package broadcast pushes bot status snapshots to dashboard observers
// over websockets. Every push is the owner's full bot list; diffing is
// deliberately avoided so a late-joining observer converges within one
// heartbeat with no separate initial-sync path.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/minedeck/minedeck/internal/domain"
	"github.com/minedeck/minedeck/internal/store"
	"github.com/minedeck/minedeck/pkg/logger"
	"github.com/minedeck/minedeck/pkg/sigchan"
)

// DefaultHeartbeat is the interval between unconditional snapshots.
const DefaultHeartbeat = 5 * time.Second

const writeTimeout = 5 * time.Second

// SnapshotMessage is the single server-to-client message type on the
// observer channel.
type SnapshotMessage struct {
	Type string        `json:"type"`
	Bots []*domain.Bot `json:"bots"`
}

type observer struct {
	ownerID string
	changed *sigchan.Chan
}

// Broadcaster maintains the per-owner observer registry and drives one
// delivery loop per observer, so a slow or dead client never delays the
// others.
type Broadcaster struct {
	store     store.Store
	log       *logrus.Entry
	heartbeat time.Duration

	mu        sync.Mutex
	observers map[string]map[*observer]struct{} // ownerID -> set
}

func New(st store.Store, heartbeat time.Duration) *Broadcaster {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Broadcaster{
		store:     st,
		log:       logger.WithField("component", "broadcast"),
		heartbeat: heartbeat,
	}
}

// BotsChanged signals every observer of ownerID that a fresh snapshot
// should be pushed. Non-blocking; wired to supervisor state changes and
// to bot CRUD operations.
func (b *Broadcaster) BotsChanged(ownerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for obs := range b.observers[ownerID] {
		obs.changed.Emit()
	}
}

// ObserverCount returns the number of registered observers for an owner.
func (b *Broadcaster) ObserverCount(ownerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers[ownerID])
}

func (b *Broadcaster) add(obs *observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.observers == nil {
		b.observers = make(map[string]map[*observer]struct{})
	}
	set, ok := b.observers[obs.ownerID]
	if !ok {
		set = make(map[*observer]struct{})
		b.observers[obs.ownerID] = set
	}
	set[obs] = struct{}{}
}

func (b *Broadcaster) remove(obs *observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.observers[obs.ownerID]
	delete(set, obs)
	if len(set) == 0 {
		delete(b.observers, obs.ownerID)
	}
}

// ServeConn runs the delivery loop for one observer connection: an
// immediate snapshot on registration, then one on every change signal
// and every heartbeat tick. Returns when the client disconnects, a
// write fails, or ctx is cancelled; the registration never outlives the
// connection.
func (b *Broadcaster) ServeConn(ctx context.Context, ownerID string, conn *websocket.Conn) {
	obs := &observer{ownerID: ownerID, changed: sigchan.New(1)}
	b.add(obs)
	defer b.remove(obs)
	defer conn.Close()

	// Client-to-server messages are advisory only; read them just to
	// notice the close.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(4096)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := b.push(ctx, ownerID, conn); err != nil {
		b.log.Debugf("observer dropped on initial snapshot: %v", err)
		return
	}

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeTimeout))
			return
		case <-readDone:
			return
		case <-obs.changed.C():
		case <-ticker.C:
		}
		if err := b.push(ctx, ownerID, conn); err != nil {
			b.log.Debugf("observer dropped: %v", err)
			return
		}
	}
}

// push sends one full snapshot. A store outage is logged and skipped
// rather than dropping the observer; the next heartbeat retries.
func (b *Broadcaster) push(ctx context.Context, ownerID string, conn *websocket.Conn) error {
	bots, err := b.store.GetBots(ctx, ownerID)
	if err != nil {
		b.log.Warnf("snapshot for owner %s skipped, store unavailable: %v", ownerID, err)
		return nil
	}
	if bots == nil {
		bots = []*domain.Bot{}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(SnapshotMessage{Type: "SNAPSHOT", Bots: bots})
}
