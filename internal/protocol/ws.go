package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minedeck/minedeck/internal/domain"
	"github.com/minedeck/minedeck/pkg/logger"
)

const (
	dialTimeout    = 10 * time.Second
	joinTimeout    = 15 * time.Second
	writeTimeout   = 5 * time.Second
	maxMessageSize = 1 << 20
)

// frame is the JSON envelope spoken with the game gateway.
type frame struct {
	Type        string           `json:"type"`
	Username    string           `json:"username,omitempty"`
	Version     string           `json:"version,omitempty"`
	Behavior    string           `json:"behavior,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Message     string           `json:"message,omitempty"`
	PlayerCount int              `json:"player_count,omitempty"`
	Players     []string         `json:"players,omitempty"`
	Position    *domain.Position `json:"position,omitempty"`
}

// wsSession speaks the JSON gateway protocol over a websocket. Writes
// are serialized behind wmu with a write deadline; the read loop owns
// event emission and closes the events channel after the terminal event.
type wsSession struct {
	conn *websocket.Conn
	log  interface{ Debugf(string, ...interface{}) }

	events chan Event

	wmu    sync.Mutex
	closed sync.Once
	done   chan struct{}

	mu          sync.RWMutex
	joined      bool
	playerCount int
	position    *domain.Position
	players     []string
}

// Dial opens a websocket session to the gateway for addr and starts the
// join handshake. The returned session emits Joined once the server
// accepts the bot, or Failed if the handshake is rejected or times out.
func Dial(ctx context.Context, addr Address, id Identity) (Session, error) {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", addr.Host, addr.Port)}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	conn.SetReadLimit(maxMessageSize)

	s := &wsSession{
		conn:   conn,
		log:    logger.WithField("component", "protocol"),
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}

	if err := s.write(frame{
		Type:     "join",
		Username: id.Username,
		Version:  id.GameVersion,
		Behavior: string(id.Behavior),
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	go s.readLoop()
	return s, nil
}

func (s *wsSession) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSession) readLoop() {
	defer close(s.events)

	// The join ack must arrive within joinTimeout.
	_ = s.conn.SetReadDeadline(time.Now().Add(joinTimeout))

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.emitTerminal(err)
			return
		}

		var f frame
		if uerr := json.Unmarshal(data, &f); uerr != nil {
			s.log.Debugf("dropping malformed frame: %v", uerr)
			continue
		}

		switch f.Type {
		case "joined":
			s.mu.Lock()
			s.joined = true
			s.mu.Unlock()
			// Joined: no further handshake deadline, keep the read open.
			_ = s.conn.SetReadDeadline(time.Time{})
			s.events <- Joined{}
		case "state":
			var pos *domain.Position
			if f.Position != nil {
				p := roundPosition(*f.Position)
				pos = &p
			}
			s.mu.Lock()
			s.playerCount = f.PlayerCount
			if pos != nil {
				p := *pos
				s.position = &p
			}
			if f.Players != nil {
				s.players = f.Players
			}
			s.mu.Unlock()
			s.emit(Telemetry{PlayerCount: f.PlayerCount, Position: pos, Players: f.Players})
		case "chat":
			s.emit(Chat{Message: f.Message})
		case "kick":
			_ = s.Close()
			s.events <- Ended{Reason: f.Reason}
			return
		case "reject":
			_ = s.Close()
			s.events <- Failed{Err: fmt.Errorf("join rejected: %s", f.Reason)}
			return
		default:
			s.log.Debugf("ignoring frame type %q", f.Type)
		}
	}
}

// emitTerminal classifies a read error: a clean close on a joined
// session is an Ended, everything else (including a handshake that
// never completed) is a Failed.
func (s *wsSession) emitTerminal(err error) {
	s.mu.RLock()
	joined := s.joined
	s.mu.RUnlock()

	select {
	case <-s.done:
		// Close was requested locally.
		s.events <- Ended{Reason: "closed"}
		return
	default:
	}

	if joined && websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.events <- Ended{Reason: "server closed connection"}
		return
	}
	if !joined {
		err = fmt.Errorf("handshake: %w", err)
	}
	s.events <- Failed{Err: err}
}

// emit delivers telemetry without ever blocking the read loop; lifecycle
// events are sent blocking instead, since the supervisor always drains
// until the channel closes. Excess telemetry is dropped.
func (s *wsSession) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.log.Debugf("dropping event %T: channel full", e)
	}
}

func (s *wsSession) Events() <-chan Event { return s.events }

func (s *wsSession) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playerCount
}

func (s *wsSession) Position() *domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.position == nil {
		return nil
	}
	p := *s.position
	return &p
}

func (s *wsSession) Players() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.players))
	copy(out, s.players)
	return out
}

// Close sends a close frame, then tears the connection down. Safe to
// call concurrently with the read loop and more than once.
func (s *wsSession) Close() error {
	s.closed.Do(func() {
		close(s.done)
		s.wmu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(writeTimeout))
		s.wmu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

func roundPosition(p domain.Position) domain.Position {
	round := func(v float64) float64 {
		return math.Round(v*100) / 100
	}
	return domain.Position{X: round(p.X), Y: round(p.Y), Z: round(p.Z)}
}
