// Package supervisor owns the set of live game-server connections. It
// runs the per-bot state machine (disconnected / connecting / connected
// / error), is the single writer of connection-derived status fields in
// the record store, and notifies listeners on every state change.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/minedeck/minedeck/internal/domain"
	"github.com/minedeck/minedeck/internal/protocol"
	"github.com/minedeck/minedeck/internal/store"
	"github.com/minedeck/minedeck/pkg/logger"
)

// DefaultReconnectDelay is the flat delay before an automatic reconnect
// after a non-explicit clean disconnect.
const DefaultReconnectDelay = 5 * time.Second

// Options tune the supervisor; zero values fall back to defaults.
type Options struct {
	ReconnectDelay time.Duration
}

// Supervisor manages every bot's connection lifecycle. All transitions
// for one bot are serialized behind that bot's entry mutex; transitions
// across bots are independent.
type Supervisor struct {
	store store.Store
	dial  protocol.Factory
	log   *logrus.Entry

	reconnectDelay time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	listenerMu sync.RWMutex
	listeners  []func(ownerID string)

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// entry is the supervisor-owned state for one bot id. gen is bumped on
// every externally triggered transition; asynchronous callbacks and
// reconnect timers carry the gen they were created under and become
// no-ops once it is stale.
type entry struct {
	botID   string
	ownerID string

	mu            sync.Mutex
	state         domain.BotStatus
	session       protocol.Session
	gen           uint64
	attemptCancel context.CancelFunc
	reconnect     *time.Timer
}

// New creates a supervisor over the given record store and session
// factory.
func New(st store.Store, dial protocol.Factory, opts Options) *Supervisor {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		store:          st,
		dial:           dial,
		log:            logger.WithField("component", "supervisor"),
		reconnectDelay: opts.ReconnectDelay,
		entries:        make(map[string]*entry),
		rootCtx:        ctx,
		cancel:         cancel,
	}
}

// OnChange registers a listener invoked with the owner id after every
// state change. Listeners must not block.
func (s *Supervisor) OnChange(fn func(ownerID string)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Supervisor) notify(ownerID string) {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	for _, fn := range s.listeners {
		fn(ownerID)
	}
}

func (s *Supervisor) entryFor(botID, ownerID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[botID]
	if !ok {
		e = &entry{botID: botID, ownerID: ownerID, state: domain.StatusDisconnected}
		s.entries[botID] = e
	}
	return e
}

func (s *Supervisor) lookup(botID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[botID]
}

// bumpLocked invalidates every outstanding async trigger for the entry:
// the pending reconnect timer, the in-flight dial, and any event still
// queued under the old generation. Callers hold e.mu.
func (e *entry) bumpLocked() {
	e.gen++
	if e.reconnect != nil {
		e.reconnect.Stop()
		e.reconnect = nil
	}
	if e.attemptCancel != nil {
		e.attemptCancel()
		e.attemptCancel = nil
	}
}

// persistLocked mirrors a transition into the record store. Callers
// hold e.mu, which serializes store writes per bot id.
func (s *Supervisor) persistLocked(ctx context.Context, e *entry, upd store.BotUpdate) error {
	if _, err := s.store.UpdateBot(ctx, e.botID, upd); err != nil {
		return err
	}
	return nil
}

func statusPtr(st domain.BotStatus) *domain.BotStatus { return &st }

// Connect transitions a bot from disconnected or error to connecting
// and starts the handshake asynchronously. It returns ErrNotFound for
// an unknown bot, ErrAlreadyActive if a handle already exists, or a
// store error if the transition could not be persisted.
func (s *Supervisor) Connect(ctx context.Context, botID string) error {
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	e := s.entryFor(botID, bot.OwnerID)
	e.mu.Lock()
	if e.state.IsActive() {
		e.mu.Unlock()
		return ErrAlreadyActive
	}
	err = s.beginAttemptLocked(ctx, e, bot)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(e.ownerID)
	return nil
}

// beginAttemptLocked performs the disconnected|error -> connecting
// transition and spawns the dial goroutine. Callers hold e.mu and have
// verified the entry is not active.
func (s *Supervisor) beginAttemptLocked(ctx context.Context, e *entry, bot *domain.Bot) error {
	e.bumpLocked()
	prev := e.state
	e.state = domain.StatusConnecting
	if err := s.persistLocked(ctx, e, store.BotUpdate{Status: statusPtr(domain.StatusConnecting)}); err != nil {
		e.state = prev
		return err
	}

	attemptCtx, cancel := context.WithCancel(s.rootCtx)
	e.attemptCancel = cancel
	gen := e.gen

	s.log.WithFields(logrus.Fields{"bot": e.botID, "server": bot.ServerAddress}).Info("connecting")
	s.wg.Add(1)
	go s.runAttempt(attemptCtx, e, bot, gen)
	return nil
}

func (s *Supervisor) runAttempt(ctx context.Context, e *entry, bot *domain.Bot, gen uint64) {
	defer s.wg.Done()

	sess, err := s.dial(ctx, protocol.Address{Host: bot.ServerAddress, Port: bot.ServerPort},
		protocol.Identity{Username: bot.Name, GameVersion: bot.GameVersion, Behavior: bot.Behavior})
	if err != nil {
		s.failTransition(e, gen, err)
		return
	}

	e.mu.Lock()
	if e.gen != gen {
		// A disconnect (or newer connect) won the race.
		e.mu.Unlock()
		_ = sess.Close()
		for range sess.Events() {
		}
		return
	}
	e.session = sess
	e.mu.Unlock()

	s.watch(e, sess, bot, gen)
}

// watch consumes the session event stream until it closes. Every state
// mutation re-checks gen under the entry lock, so events belonging to a
// superseded handle are drained without effect.
func (s *Supervisor) watch(e *entry, sess protocol.Session, bot *domain.Bot, gen uint64) {
	blog := s.log.WithField("bot", e.botID)
	for ev := range sess.Events() {
		switch ev := ev.(type) {
		case protocol.Joined:
			e.mu.Lock()
			if e.gen != gen {
				e.mu.Unlock()
				_ = sess.Close()
				continue
			}
			e.state = domain.StatusConnected
			now := time.Now()
			if err := s.persistLocked(s.rootCtx, e, store.BotUpdate{
				Status:         statusPtr(domain.StatusConnected),
				LastConnection: &now,
				ClearError:     true,
			}); err != nil {
				blog.Errorf("persist connected: %v", err)
			}
			e.mu.Unlock()
			blog.Infof("connected to %s:%d", bot.ServerAddress, bot.ServerPort)
			s.notify(e.ownerID)

		case protocol.Chat:
			if bot.RecordChat {
				blog.WithField("chat", true).Info(ev.Message)
			}

		case protocol.Telemetry:
			// Cached inside the session; nothing to do here.

		case protocol.Ended:
			s.endTransition(e, bot, gen, ev.Reason)

		case protocol.Failed:
			s.failTransition(e, gen, ev.Err)
		}
	}
}

// endTransition handles a clean session end: connecting|connected ->
// disconnected, plus an auto-reconnect schedule when the config asks
// for one. Explicit disconnects never reach here with a current gen.
func (s *Supervisor) endTransition(e *entry, bot *domain.Bot, gen uint64, reason string) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	e.session = nil
	e.attemptCancel = nil
	e.state = domain.StatusDisconnected
	now := time.Now()
	if err := s.persistLocked(s.rootCtx, e, store.BotUpdate{
		Status:            statusPtr(domain.StatusDisconnected),
		LastDisconnection: &now,
	}); err != nil {
		s.log.WithField("bot", e.botID).Errorf("persist disconnected: %v", err)
	}
	if bot.AutoReconnect {
		s.scheduleReconnectLocked(e, s.reconnectDelay)
	}
	e.mu.Unlock()

	s.log.WithField("bot", e.botID).Infof("disconnected: %s", reason)
	s.notify(e.ownerID)
}

// failTransition handles a handshake or session failure: the handle is
// destroyed, the reason recorded, and no reconnect is scheduled. Error
// requires an explicit connect to leave.
func (s *Supervisor) failTransition(e *entry, gen uint64, cause error) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	if e.session != nil {
		_ = e.session.Close()
		e.session = nil
	}
	e.attemptCancel = nil
	e.state = domain.StatusError
	now := time.Now()
	msg := cause.Error()
	if err := s.persistLocked(s.rootCtx, e, store.BotUpdate{
		Status:            statusPtr(domain.StatusError),
		LastDisconnection: &now,
		Error:             &msg,
	}); err != nil {
		s.log.WithField("bot", e.botID).Errorf("persist error state: %v", err)
	}
	e.mu.Unlock()

	s.log.WithField("bot", e.botID).Warnf("connection failed: %v", cause)
	s.notify(e.ownerID)
}

// scheduleReconnectLocked arms the flat-delay reconnect timer under the
// current gen. Any explicit command for this bot bumps gen and stops
// the timer, so a stale timer that still fires becomes a no-op.
func (s *Supervisor) scheduleReconnectLocked(e *entry, delay time.Duration) {
	gen := e.gen
	e.reconnect = time.AfterFunc(delay, func() {
		s.reconnectFire(e, gen)
	})
	s.log.WithField("bot", e.botID).Infof("auto-reconnect in %s", delay)
}

func (s *Supervisor) reconnectFire(e *entry, gen uint64) {
	e.mu.Lock()
	if e.gen != gen || e.state.IsActive() {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	bot, err := s.store.GetBot(s.rootCtx, e.botID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return // bot deleted while the timer was pending
		}
		// Store outage: reschedule rather than abandon the bot.
		s.log.WithField("bot", e.botID).Warnf("reconnect deferred, store unavailable: %v", err)
		e.mu.Lock()
		if e.gen == gen && !e.state.IsActive() {
			s.scheduleReconnectLocked(e, s.reconnectDelay)
		}
		e.mu.Unlock()
		return
	}
	if !bot.AutoReconnect {
		return // flag was switched off since the disconnect
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || e.state.IsActive() {
		return
	}
	if err := s.beginAttemptLocked(s.rootCtx, e, bot); err != nil {
		s.log.WithField("bot", e.botID).Warnf("reconnect deferred: %v", err)
		s.scheduleReconnectLocked(e, s.reconnectDelay)
	}
}

// Disconnect forcibly terminates the bot's connection handle, cancelling
// an in-flight handshake and any pending auto-reconnect. It returns
// ErrNotActive when no handle exists.
func (s *Supervisor) Disconnect(ctx context.Context, botID string) error {
	e := s.lookup(botID)
	if e == nil {
		return ErrNotActive
	}

	e.mu.Lock()
	if !e.state.IsActive() {
		e.mu.Unlock()
		return ErrNotActive
	}
	e.bumpLocked()
	if e.session != nil {
		_ = e.session.Close()
		e.session = nil
	}
	e.state = domain.StatusDisconnected
	now := time.Now()
	err := s.persistLocked(ctx, e, store.BotUpdate{
		Status:            statusPtr(domain.StatusDisconnected),
		LastDisconnection: &now,
	})
	e.mu.Unlock()

	s.log.WithField("bot", botID).Info("disconnected by command")
	s.notify(e.ownerID)
	return err
}

// Status returns the bot record with the supervisor's in-memory state
// taking precedence, plus live session details when connected.
func (s *Supervisor) Status(ctx context.Context, botID string) (*domain.Bot, *domain.LiveStatus, error) {
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	live := &domain.LiveStatus{}
	if e := s.lookup(botID); e != nil {
		e.mu.Lock()
		bot.Status = e.state
		sess := e.session
		connected := e.state == domain.StatusConnected
		e.mu.Unlock()
		if connected && sess != nil {
			live.Online = true
			live.PlayerCount = sess.PlayerCount()
			live.Position = sess.Position()
		}
	}
	return bot, live, nil
}

// Players returns the roster seen by a connected bot.
func (s *Supervisor) Players(botID string) ([]string, error) {
	e := s.lookup(botID)
	if e == nil {
		return nil, ErrNotActive
	}
	e.mu.Lock()
	sess := e.session
	connected := e.state == domain.StatusConnected
	e.mu.Unlock()
	if !connected || sess == nil {
		return nil, ErrNotActive
	}
	return sess.Players(), nil
}

// IsActive reports whether a connection handle currently exists for the
// bot id. Used by the API layer to defensively reject config updates
// and deletes against an active bot.
func (s *Supervisor) IsActive(botID string) bool {
	e := s.lookup(botID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.IsActive()
}

// Release drops the supervisor entry for a deleted bot, cancelling any
// pending reconnect. It fails with ErrAlreadyActive while a handle
// exists; callers must disconnect first.
func (s *Supervisor) Release(botID string) error {
	e := s.lookup(botID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	if e.state.IsActive() {
		e.mu.Unlock()
		return ErrAlreadyActive
	}
	e.bumpLocked()
	e.mu.Unlock()

	s.mu.Lock()
	delete(s.entries, botID)
	s.mu.Unlock()
	return nil
}

// ShutdownAll gracefully terminates every connection handle, best
// effort, bounded by ctx. Used once at process exit; it does not retry.
func (s *Supervisor) ShutdownAll(ctx context.Context) {
	s.cancel() // unblocks in-flight dials

	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		e.bumpLocked()
		if e.session != nil {
			_ = e.session.Close()
			e.session = nil
		}
		if e.state.IsActive() {
			e.state = domain.StatusDisconnected
			now := time.Now()
			if err := s.persistLocked(ctx, e, store.BotUpdate{
				Status:            statusPtr(domain.StatusDisconnected),
				LastDisconnection: &now,
			}); err != nil {
				s.log.WithField("bot", e.botID).Warnf("shutdown persist: %v", err)
			}
		}
		e.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("all connections shut down")
	case <-ctx.Done():
		s.log.Warn("shutdown timed out waiting for connection goroutines")
	}
}
