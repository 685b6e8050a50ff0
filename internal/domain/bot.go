package domain

import "time"

// BotStatus is the connection state of a bot. Transitions are driven
// exclusively by the supervisor; no other component writes it.
type BotStatus string

const (
	StatusDisconnected BotStatus = "disconnected"
	StatusConnecting   BotStatus = "connecting"
	StatusConnected    BotStatus = "connected"
	StatusError        BotStatus = "error"
)

// IsActive reports whether a live connection handle may exist for this state.
func (s BotStatus) IsActive() bool {
	return s == StatusConnecting || s == StatusConnected
}

// BotBehavior controls what the bot does once it has joined a server.
type BotBehavior string

const (
	BehaviorPassive BotBehavior = "passive"
	BehaviorActive  BotBehavior = "active"
)

// Bot is one configured, independently connectable client session to a
// remote game server, plus its last-known connection status.
//
// Config fields (Name..RecordChat) are mutable only while the bot is not
// active; status fields (Status..Error) are owned by the supervisor.
type Bot struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	Name          string      `json:"name"`
	ServerAddress string      `json:"server_address"`
	ServerPort    int         `json:"server_port"`
	GameVersion   string      `json:"game_version"`
	Behavior      BotBehavior `json:"behavior"`
	AutoReconnect bool        `json:"auto_reconnect"`
	RecordChat    bool        `json:"record_chat"`

	Status            BotStatus  `json:"status"`
	LastConnection    *time.Time `json:"last_connection,omitempty"`
	LastDisconnection *time.Time `json:"last_disconnection,omitempty"`
	Error             *string    `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultServerPort is used when a bot is created without an explicit port.
const DefaultServerPort = 25565

// DefaultGameVersion is used when a bot is created without a version.
const DefaultGameVersion = "1.19.2"

// Position is the bot's in-world coordinates, rounded to 2 decimal places.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// LiveStatus is the synchronous view of a connected bot pulled from its
// live session. Online is false whenever no session exists.
type LiveStatus struct {
	Online      bool      `json:"online"`
	PlayerCount int       `json:"player_count,omitempty"`
	Position    *Position `json:"position,omitempty"`
}
