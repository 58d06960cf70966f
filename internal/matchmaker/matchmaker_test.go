package matchmaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vimsent/chessd/internal/lifecycle"
	"github.com/vimsent/chessd/internal/persistence"
	"github.com/vimsent/chessd/internal/player"
	"github.com/vimsent/chessd/internal/session"
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

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastMove(session.MoveBroadcast)     {}
func (noopBroadcaster) BroadcastClockTick(session.ClockTick)    {}
func (noopBroadcaster) BroadcastGameOver(session.GameOver)      {}
func (noopBroadcaster) SendError(playerID int64, reason string) {}

type recordingNotifier struct {
	mu      sync.Mutex
	matches []matchRecord
	signal  chan struct{}
}

type matchRecord struct {
	gameID       string
	white, black player.Info
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{signal: make(chan struct{}, 16)}
}

func (n *recordingNotifier) MatchFound(gameID string, white, black player.Info, timeControl time.Duration) {
	n.mu.Lock()
	n.matches = append(n.matches, matchRecord{gameID, white, black})
	n.mu.Unlock()
	n.signal <- struct{}{}
}

func (n *recordingNotifier) last() matchRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.matches[len(n.matches)-1]
}

// allConnected treats every player as connected, matching the default
// behaviour before the Router wires in its own liveness view.
type allConnected struct{}

func (allConnected) IsConnected(int64) bool { return true }

func newTestMatchmaker() (*Matchmaker, *recordingNotifier) {
	gateway := persistence.New(&fakeStore{}, fakeCache{})
	lc := lifecycle.New(gateway, nil)
	notifier := newRecordingNotifier()
	mm := New(gateway, lc, noopBroadcaster{}, notifier, allConnected{})
	return mm, notifier
}

func TestSearchPairsWithinFirstBand(t *testing.T) {
	mm, notifier := newTestMatchmaker()
	mm.CreateWaiting(context.Background(), player.Info{ID: 1, Elo: 1200}, time.Minute)

	found := mm.Search(context.Background(), player.Info{ID: 2, Elo: 1250})
	require.True(t, found)

	select {
	case <-notifier.signal:
	default:
		t.Fatal("expected a match to be created for a close rating pair")
	}
	assert.False(t, mm.Waiting(1))
}

func TestSearchReportsNoGamesFoundWhenPoolIsEmpty(t *testing.T) {
	mm, _ := newTestMatchmaker()
	found := mm.Search(context.Background(), player.Info{ID: 1, Elo: 1500})
	assert.False(t, found)
}

func TestSearchWidensBandUntilUnboundedMatch(t *testing.T) {
	mm, notifier := newTestMatchmaker()
	mm.CreateWaiting(context.Background(), player.Info{ID: 1, Elo: 1000}, time.Minute)

	// A 900-point gap clears every bounded band; only the unbounded
	// final band pairs it.
	found := mm.Search(context.Background(), player.Info{ID: 2, Elo: 1900})
	require.True(t, found)

	last := notifier.last()
	assert.Equal(t, int64(1), last.white.ID)
}

func TestSearchBreaksEqualDistanceTieByCreationOrder(t *testing.T) {
	mm, notifier := newTestMatchmaker()
	mm.CreateWaiting(context.Background(), player.Info{ID: 1, Elo: 1300}, time.Minute)
	mm.CreateWaiting(context.Background(), player.Info{ID: 2, Elo: 1600}, time.Minute)

	// searcher at 1450 is 150 from the 1300 creator and 150 from the
	// 1600 creator: an exact distance tie, broken by 1300 having been
	// created first.
	found := mm.Search(context.Background(), player.Info{ID: 3, Elo: 1450})
	require.True(t, found)

	last := notifier.last()
	assert.Equal(t, int64(1), last.white.ID)
}

func TestSearchPrefersOldestOnDistanceTie(t *testing.T) {
	mm, notifier := newTestMatchmaker()
	mm.CreateWaiting(context.Background(), player.Info{ID: 1, Elo: 1300}, time.Minute)
	time.Sleep(time.Millisecond)
	mm.CreateWaiting(context.Background(), player.Info{ID: 2, Elo: 1500}, time.Minute)

	found := mm.Search(context.Background(), player.Info{ID: 3, Elo: 1400})
	require.True(t, found)

	last := notifier.last()
	assert.Equal(t, int64(1), last.white.ID)
}

func TestSearchAssignsCreatorWhiteAndSearcherBlack(t *testing.T) {
	mm, notifier := newTestMatchmaker()
	mm.CreateWaiting(context.Background(), player.Info{ID: 1, Elo: 1200}, time.Minute)

	found := mm.Search(context.Background(), player.Info{ID: 2, Elo: 1210})
	require.True(t, found)

	last := notifier.last()
	assert.Equal(t, int64(1), last.white.ID)
	assert.Equal(t, int64(2), last.black.ID)
}

func TestSearchSkipsDisconnectedCreator(t *testing.T) {
	gateway := persistence.New(&fakeStore{}, fakeCache{})
	lc := lifecycle.New(gateway, nil)
	notifier := newRecordingNotifier()
	conns := &fakeConns{connected: map[int64]bool{2: true}}
	mm := New(gateway, lc, noopBroadcaster{}, notifier, conns)

	mm.CreateWaiting(context.Background(), player.Info{ID: 1, Elo: 1200}, time.Minute) // disconnected
	mm.CreateWaiting(context.Background(), player.Info{ID: 2, Elo: 1205}, time.Minute) // connected

	found := mm.Search(context.Background(), player.Info{ID: 3, Elo: 1200})
	require.True(t, found)

	last := notifier.last()
	assert.Equal(t, int64(2), last.white.ID)
}

type fakeConns struct {
	connected map[int64]bool
}

func (f *fakeConns) IsConnected(playerID int64) bool { return f.connected[playerID] }

func TestDequeueRemovesWaitingGame(t *testing.T) {
	mm, _ := newTestMatchmaker()
	mm.CreateWaiting(context.Background(), player.Info{ID: 1, Elo: 1200}, time.Minute)
	require.True(t, mm.Waiting(1))
	mm.Dequeue(1)
	assert.False(t, mm.Waiting(1))

	found := mm.Search(context.Background(), player.Info{ID: 2, Elo: 1200})
	assert.False(t, found)
}
