package store

import (
	"context"
	"encoding/json"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/minedeck/minedeck/internal/domain"
)

// Key layout:
//
//	user/<id>            -> User JSON
//	username/<username>  -> user id
//	email/<email>        -> user id
//	vtoken/<token>       -> user id
//	bot/<id>             -> Bot JSON
//	botowner/<owner>/<id> -> empty (owner index)
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the record store at path.
func OpenBadger(path string) (*BadgerStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: path is required")
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "store: open badger")
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func userKey(id string) []byte          { return []byte("user/" + id) }
func usernameKey(name string) []byte    { return []byte("username/" + strings.ToLower(name)) }
func emailKey(email string) []byte      { return []byte("email/" + strings.ToLower(email)) }
func vtokenKey(token string) []byte     { return []byte("vtoken/" + token) }
func botKey(id string) []byte           { return []byte("bot/" + id) }
func botOwnerKey(owner, id string) []byte {
	return []byte("botowner/" + owner + "/" + id)
}
func botOwnerPrefix(owner string) []byte { return []byte("botowner/" + owner + "/") }

// wrapErr maps badger failures onto the store error taxonomy.
func wrapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return errors.Wrapf(ErrUnavailable, "%s: %v", op, err)
}

func getJSON[T any](txn *badger.Txn, key []byte, out *T) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

func (s *BadgerStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &u)
	})
	if err != nil {
		return nil, wrapErr(err, "get user")
	}
	return &u, nil
}

// getUserByIndex resolves an index key to a user id, then loads the user.
func (s *BadgerStore) getUserByIndex(key []byte, op string) (*domain.User, error) {
	var u domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var id string
		if err := item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}
		return getJSON(txn, userKey(id), &u)
	})
	if err != nil {
		return nil, wrapErr(err, op)
	}
	return &u, nil
}

func (s *BadgerStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	return s.getUserByIndex(usernameKey(username), "get user by username")
}

func (s *BadgerStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	return s.getUserByIndex(emailKey(email), "get user by email")
}

func (s *BadgerStore) GetUserByVerificationToken(_ context.Context, token string) (*domain.User, error) {
	return s.getUserByIndex(vtokenKey(token), "get user by token")
}

func (s *BadgerStore) CreateUser(_ context.Context, u *domain.User) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, userKey(u.ID), u); err != nil {
			return err
		}
		if err := txn.Set(usernameKey(u.Username), []byte(u.ID)); err != nil {
			return err
		}
		if err := txn.Set(emailKey(u.Email), []byte(u.ID)); err != nil {
			return err
		}
		if u.VerificationToken != nil {
			return txn.Set(vtokenKey(*u.VerificationToken), []byte(u.ID))
		}
		return nil
	})
	return wrapErr(err, "create user")
}

func (s *BadgerStore) UpdateUser(_ context.Context, u *domain.User) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var prev domain.User
		if err := getJSON(txn, userKey(u.ID), &prev); err != nil {
			return err
		}
		// Maintain the verification-token index across changes.
		if prev.VerificationToken != nil &&
			(u.VerificationToken == nil || *u.VerificationToken != *prev.VerificationToken) {
			if err := txn.Delete(vtokenKey(*prev.VerificationToken)); err != nil {
				return err
			}
		}
		if u.VerificationToken != nil {
			if err := txn.Set(vtokenKey(*u.VerificationToken), []byte(u.ID)); err != nil {
				return err
			}
		}
		return setJSON(txn, userKey(u.ID), u)
	})
	return wrapErr(err, "update user")
}

func (s *BadgerStore) GetBots(_ context.Context, ownerID string) ([]*domain.Bot, error) {
	var out []*domain.Bot
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := botOwnerPrefix(ownerID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			id := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			var b domain.Bot
			if err := getJSON(txn, botKey(id), &b); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue // dangling index entry
				}
				return err
			}
			out = append(out, &b)
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr(err, "list bots")
	}
	return out, nil
}

func (s *BadgerStore) GetBot(_ context.Context, id string) (*domain.Bot, error) {
	var b domain.Bot
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, botKey(id), &b)
	})
	if err != nil {
		return nil, wrapErr(err, "get bot")
	}
	return &b, nil
}

func (s *BadgerStore) CreateBot(_ context.Context, b *domain.Bot) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, botKey(b.ID), b); err != nil {
			return err
		}
		return txn.Set(botOwnerKey(b.OwnerID, b.ID), nil)
	})
	return wrapErr(err, "create bot")
}

func (s *BadgerStore) UpdateBot(_ context.Context, id string, upd BotUpdate) (*domain.Bot, error) {
	var b domain.Bot
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, botKey(id), &b); err != nil {
			return err
		}
		upd.Apply(&b)
		return setJSON(txn, botKey(id), &b)
	})
	if err != nil {
		return nil, wrapErr(err, "update bot")
	}
	return &b, nil
}

func (s *BadgerStore) DeleteBot(_ context.Context, id string) (bool, error) {
	found := false
	err := s.db.Update(func(txn *badger.Txn) error {
		var b domain.Bot
		if err := getJSON(txn, botKey(id), &b); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		if err := txn.Delete(botKey(id)); err != nil {
			return err
		}
		return txn.Delete(botOwnerKey(b.OwnerID, id))
	})
	if err != nil {
		return false, wrapErr(err, "delete bot")
	}
	return found, nil
}
