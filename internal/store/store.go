package store

import (
	"context"
	"errors"
	"time"

	"github.com/minedeck/minedeck/internal/domain"
)

// ErrNotFound means the requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// ErrUnavailable means the underlying store failed at the I/O level.
// Callers should treat it as retryable, never as "gone".
var ErrUnavailable = errors.New("store: unavailable")

// BotUpdate is a partial update of a bot record. Nil fields are left
// untouched; ClearError resets the error field to null.
type BotUpdate struct {
	Name          *string
	ServerAddress *string
	ServerPort    *int
	GameVersion   *string
	Behavior      *domain.BotBehavior
	AutoReconnect *bool
	RecordChat    *bool

	Status            *domain.BotStatus
	LastConnection    *time.Time
	LastDisconnection *time.Time
	Error             *string
	ClearError        bool
}

// Store is the durable bot/user record collaborator. The supervisor is
// the sole writer of status fields; config fields are written by the
// API layer while the bot is inactive.
type Store interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByVerificationToken(ctx context.Context, token string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	UpdateUser(ctx context.Context, u *domain.User) error

	GetBots(ctx context.Context, ownerID string) ([]*domain.Bot, error)
	GetBot(ctx context.Context, id string) (*domain.Bot, error)
	CreateBot(ctx context.Context, b *domain.Bot) error
	UpdateBot(ctx context.Context, id string, upd BotUpdate) (*domain.Bot, error)
	DeleteBot(ctx context.Context, id string) (bool, error)

	Close() error
}

// Apply copies the non-nil fields of upd onto b and bumps UpdatedAt.
// Shared by the badger and in-memory implementations so partial-update
// semantics cannot drift between them.
func (upd BotUpdate) Apply(b *domain.Bot) {
	if upd.Name != nil {
		b.Name = *upd.Name
	}
	if upd.ServerAddress != nil {
		b.ServerAddress = *upd.ServerAddress
	}
	if upd.ServerPort != nil {
		b.ServerPort = *upd.ServerPort
	}
	if upd.GameVersion != nil {
		b.GameVersion = *upd.GameVersion
	}
	if upd.Behavior != nil {
		b.Behavior = *upd.Behavior
	}
	if upd.AutoReconnect != nil {
		b.AutoReconnect = *upd.AutoReconnect
	}
	if upd.RecordChat != nil {
		b.RecordChat = *upd.RecordChat
	}
	if upd.Status != nil {
		b.Status = *upd.Status
	}
	if upd.LastConnection != nil {
		t := *upd.LastConnection
		b.LastConnection = &t
	}
	if upd.LastDisconnection != nil {
		t := *upd.LastDisconnection
		b.LastDisconnection = &t
	}
	if upd.ClearError {
		b.Error = nil
	} else if upd.Error != nil {
		e := *upd.Error
		b.Error = &e
	}
	b.UpdatedAt = time.Now()
}
