package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vimsent/chessd/internal/events"
	"github.com/vimsent/chessd/internal/lifecycle"
	"github.com/vimsent/chessd/internal/matchmaker"
	"github.com/vimsent/chessd/internal/persistence"
	"github.com/vimsent/chessd/internal/player"
)

type fakeStore struct{ sync.Mutex }

func (f *fakeStore) InsertUser(ctx context.Context, username, passwordHash string) (persistence.User, error) {
	return persistence.User{}, nil
}
func (f *fakeStore) FindUserByName(ctx context.Context, username string) (persistence.User, bool, error) {
	return persistence.User{}, false, nil
}
func (f *fakeStore) FindUserByID(ctx context.Context, id int64) (persistence.User, bool, error) {
	return persistence.User{ID: id}, true, nil
}
func (f *fakeStore) TouchLastLogin(ctx context.Context, id int64) error { return nil }
func (f *fakeStore) InsertWaitingGame(ctx context.Context, gameID string, creatorID int64, timeControlMinutes int) error {
	return nil
}
func (f *fakeStore) PromoteToInProgress(ctx context.Context, gameID string, blackID int64) error {
	return nil
}
func (f *fakeStore) DeleteWaiting(ctx context.Context, gameID string) error { return nil }
func (f *fakeStore) AppendMove(ctx context.Context, gameID string, moveNumber int, san string, playerID int64, at time.Time) error {
	return nil
}
func (f *fakeStore) FinalizeGame(ctx context.Context, in persistence.FinalizeInput) error { return nil }
func (f *fakeStore) ApplyRatingDelta(ctx context.Context, in persistence.RatingDeltaInput) (persistence.User, error) {
	return persistence.User{ID: in.UserID}, nil
}
func (f *fakeStore) Leaderboard(ctx context.Context, limit, offset int) ([]persistence.User, error) {
	return nil, nil
}
func (f *fakeStore) GameMoves(ctx context.Context, gameID string) ([]persistence.MoveRecord, error) {
	return nil, nil
}
func (f *fakeStore) Games(ctx context.Context) ([]persistence.GameRecord, error) { return nil, nil }
func (f *fakeStore) UserStats(ctx context.Context, id int64) (persistence.User, bool, error) {
	return persistence.User{ID: id}, true, nil
}

type fakeCache struct{}

func (fakeCache) PutPosition(ctx context.Context, gameID, fen string) error     { return nil }
func (fakeCache) PutTurn(ctx context.Context, gameID, turn string) error        { return nil }
func (fakeCache) GetPosition(ctx context.Context, gameID string) (string, bool) { return "", false }

type fakeConn struct {
	mu       sync.Mutex
	received []received
	signal   chan struct{}
}

type received struct {
	event   string
	payload interface{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{signal: make(chan struct{}, 32)}
}

func (c *fakeConn) Send(event string, payload interface{}) {
	c.mu.Lock()
	c.received = append(c.received, received{event, payload})
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *fakeConn) waitFor(t *testing.T, event string) received {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-c.signal:
			c.mu.Lock()
			for _, r := range c.received {
				if r.event == event {
					c.mu.Unlock()
					return r
				}
			}
			c.mu.Unlock()
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", event)
		}
	}
}

func newTestRouter() (*Router, *matchmaker.Matchmaker, *lifecycle.Manager) {
	gateway := persistence.New(&fakeStore{}, fakeCache{})
	lc := lifecycle.New(gateway, nil)
	r := New(gateway, lc)
	mm := matchmaker.New(gateway, lc, r, r, r)
	r.AttachMatchmaker(mm)
	return r, mm, lc
}

func TestCreateThenSearchPairsCloseRatings(t *testing.T) {
	r, _, _ := newTestRouter()

	white := player.Info{ID: 1, Username: "alice", Elo: 1200}
	black := player.Info{ID: 2, Username: "bob", Elo: 1220}

	connA := newFakeConn()
	connB := newFakeConn()
	r.Register(white, connA)
	r.Register(black, connB)

	r.HandleCreateGame(white, 0)
	waiting := connA.waitFor(t, events.WaitingForOpponent)
	waitingPayload := waiting.payload.(events.WaitingForOpponentPayload)
	assert.Equal(t, "white", waitingPayload.Position)

	r.HandleSearchForGame(black)

	foundWhite := connA.waitFor(t, events.MatchFound).payload.(events.MatchFoundPayload)
	foundBlack := connB.waitFor(t, events.MatchFound).payload.(events.MatchFoundPayload)
	assert.Equal(t, "white", foundWhite.YourColor)
	assert.Equal(t, "black", foundBlack.YourColor)
	assert.Equal(t, foundWhite.GameID, foundBlack.GameID)
}

func TestSearchReportsNoGamesFoundWhenNothingWaits(t *testing.T) {
	r, _, _ := newTestRouter()
	p := player.Info{ID: 1, Elo: 1200}
	conn := newFakeConn()
	r.Register(p, conn)

	r.HandleSearchForGame(p)

	conn.waitFor(t, events.NoGamesFound)
}

func TestHandleMoveRejectsUnknownGame(t *testing.T) {
	r, _, _ := newTestRouter()
	conn := newFakeConn()
	r.Register(player.Info{ID: 1}, conn)

	r.HandleMove(context.Background(), 1, events.MoveIn{GameID: "missing", From: "e2", To: "e4"})

	rec := conn.waitFor(t, events.InvalidMove)
	payload := rec.payload.(events.InvalidMovePayload)
	assert.Equal(t, "no such game", payload.Reason)
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	r, _, _ := newTestRouter()
	conn := newFakeConn()
	r.Register(player.Info{ID: 1}, conn)

	r.mu.RLock()
	before := r.byPlayer[1].lastSeen
	r.mu.RUnlock()

	time.Sleep(5 * time.Millisecond)
	r.Heartbeat(1)

	r.mu.RLock()
	after := r.byPlayer[1].lastSeen
	r.mu.RUnlock()

	require.True(t, after.After(before))
}

func TestUnregisterDequeuesFromMatchmaker(t *testing.T) {
	r, mm, _ := newTestRouter()
	conn := newFakeConn()
	p := player.Info{ID: 1, Elo: 1200}
	r.Register(p, conn)
	r.HandleCreateGame(p, 0)
	require.True(t, mm.Waiting(1))

	r.Unregister(1)
	assert.False(t, mm.Waiting(1))
}

func TestHandleChatTrimsAndCapsMessage(t *testing.T) {
	r, _, _ := newTestRouter()
	connA := newFakeConn()
	connB := newFakeConn()
	r.mu.Lock()
	r.games["g1"] = gameMembership{white: 1, black: 2}
	r.mu.Unlock()
	r.Register(player.Info{ID: 1}, connA)
	r.Register(player.Info{ID: 2}, connB)

	overlong := "  " + strings.Repeat("x", 250) + "  "
	r.HandleChat(1, "g1", "alice", overlong)

	rec := connB.waitFor(t, events.ChatEvent)
	payload := rec.payload.(events.ChatEventPayload)
	assert.Len(t, payload.Message, events.MaxChatLength)
	assert.Equal(t, strings.Repeat("x", events.MaxChatLength), payload.Message)
}
