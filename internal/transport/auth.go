package transport

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/vimsent/chessd/internal/events"
	"github.com/vimsent/chessd/internal/persistence"
	"github.com/vimsent/chessd/internal/player"
)

// Authenticator resolves register/login against the durable store.
// Password hashing uses bcrypt, the library the rest of the retrieved
// corpus reaches for whenever it has real credential storage to do
// (see 1kaius1-MUD-Engine's TODOs naming bcrypt explicitly) rather
// than a hand-rolled hash.
type Authenticator struct {
	gateway *persistence.Gateway
}

func NewAuthenticator(gateway *persistence.Gateway) *Authenticator {
	return &Authenticator{gateway: gateway}
}

// Register creates a new user if the username is free and both
// fields meet the length constraints named in spec.md section 6.
func (a *Authenticator) Register(ctx context.Context, username, password string) (player.Info, string, bool) {
	if len(username) < events.MinUsernameLength {
		return player.Info{}, "username too short", false
	}
	if len(password) < events.MinPasswordLength {
		return player.Info{}, "password too short", false
	}
	if _, found, err := a.gateway.Store.FindUserByName(ctx, username); err != nil {
		return player.Info{}, "internal error", false
	} else if found {
		return player.Info{}, "username taken", false
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return player.Info{}, "internal error", false
	}

	u, err := a.gateway.Store.InsertUser(ctx, username, string(hash))
	if err != nil {
		return player.Info{}, "internal error", false
	}
	return toInfo(u), "", true
}

// Login validates credentials and returns the authenticated player's
// current identity snapshot.
func (a *Authenticator) Login(ctx context.Context, username, password string) (player.Info, string, bool) {
	u, found, err := a.gateway.Store.FindUserByName(ctx, username)
	if err != nil || !found {
		return player.Info{}, "invalid credentials", false
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return player.Info{}, "invalid credentials", false
	}
	_ = a.gateway.Store.TouchLastLogin(ctx, u.ID)
	return toInfo(u), "", true
}

func toInfo(u persistence.User) player.Info {
	return player.Info{ID: u.ID, Username: u.Username, Elo: u.Elo, GamesPlayed: u.GamesPlayed, GamesWon: u.GamesWon}
}
