package protocol_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridplay/tictactoe-backend/internal/protocol"
	"github.com/gridplay/tictactoe-backend/internal/repository"
	"github.com/gridplay/tictactoe-backend/internal/room"
	"github.com/gridplay/tictactoe-backend/internal/token"
)

// fakeConn records every frame the handler pushes into it.
type fakeConn struct {
	mu       sync.Mutex
	messages []protocol.Response
}

func (that *fakeConn) WriteMessage(data []byte) error {
	var response protocol.Response
	if err := json.Unmarshal(data, &response); err != nil {
		return err
	}

	that.mu.Lock()
	that.messages = append(that.messages, response)
	that.mu.Unlock()

	return nil
}

func (that *fakeConn) last(t *testing.T) protocol.Response {
	t.Helper()

	that.mu.Lock()
	defer that.mu.Unlock()

	require.NotEmpty(t, that.messages)

	return that.messages[len(that.messages)-1]
}

func (that *fakeConn) types() []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	types := make([]string, 0, len(that.messages))
	for _, message := range that.messages {
		types = append(types, message.Message.Type)
	}

	return types
}

func (that *fakeConn) reset() {
	that.mu.Lock()
	that.messages = nil
	that.mu.Unlock()
}

// fakeArchive captures finished-match records in memory.
type fakeArchive struct {
	mu      sync.Mutex
	records []*repository.MatchRecord
}

func (that *fakeArchive) SaveResult(_ context.Context, record *repository.MatchRecord) error {
	that.mu.Lock()
	that.records = append(that.records, record)
	that.mu.Unlock()

	return nil
}

func (that *fakeArchive) GetByRoomID(_ context.Context, roomID string) (*repository.MatchRecord, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for _, record := range that.records {
		if record.RoomID == roomID {
			return record, nil
		}
	}

	return nil, repository.ErrMatchNotFound
}

type testEnv struct {
	handler  *protocol.Handler
	registry *room.Registry
	tokens   *token.Authority
	archive  *fakeArchive
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authority := token.NewAuthority("room-secret", "user-secret")
	registry := room.NewRegistry(authority, 3)
	archive := &fakeArchive{}

	return &testEnv{
		handler:  protocol.NewHandler(logger, authority, registry, archive),
		registry: registry,
		tokens:   authority,
		archive:  archive,
	}
}

// pairUp creates a room, joins a second connection and reports both
// sessions ordered head first.
func pairUp(t *testing.T, env *testEnv) (head, other *peer) {
	t.Helper()

	creator := openPeer(t, env, protocol.Attributes{Action: "create_room"})
	created := creator.conn.last(t)
	require.Equal(t, protocol.TypeRoomCreated, created.Message.Type)

	joiner := openPeer(t, env, protocol.Attributes{Action: "join_room", RoomID: created.RoomID})
	require.Contains(t, joiner.conn.types(), protocol.TypePlayerConnected)

	gameRoom, ok := env.registry.Lookup(created.RoomID)
	require.True(t, ok)

	if gameRoom.Head() == creator.session.Credentials().UserToken {
		return creator, joiner
	}

	return joiner, creator
}

type peer struct {
	conn    *fakeConn
	session *protocol.Session
}

func openPeer(t *testing.T, env *testEnv, attrs protocol.Attributes) *peer {
	t.Helper()

	conn := &fakeConn{}
	session := env.handler.HandleOpen(conn, attrs)

	return &peer{conn: conn, session: session}
}

func sendMove(t *testing.T, env *testEnv, p *peer, x, y int) {
	t.Helper()

	payload := fmt.Sprintf(`{"move":{"x":%d,"y":%d}}`, x, y)
	env.handler.HandleMessage(context.Background(), p.session, []byte(payload))
}

func TestHandler_HandleOpen(t *testing.T) {
	t.Run("Unknown action", func(t *testing.T) {
		// When: a connection opens without a recognized action
		env := newTestEnv(t)
		p := openPeer(t, env, protocol.Attributes{Action: "spectate"})

		// Then: it gets INVALID_ACTION and no room is created
		require.Equal(t, protocol.TypeInvalidAction, p.conn.last(t).Message.Type)
		require.Equal(t, 0, env.registry.Count())
	})

	t.Run("Create room", func(t *testing.T) {
		// When: a connection requests room creation
		env := newTestEnv(t)
		p := openPeer(t, env, protocol.Attributes{Action: "create_room"})

		// Then: the response carries verifiable tokens and a coin
		response := p.conn.last(t)
		require.Equal(t, protocol.TypeRoomCreated, response.Message.Type)
		require.True(t, env.tokens.Verify(response.RoomID, token.ClassRoom))
		require.True(t, env.tokens.Verify(response.UserID, token.ClassUser))
		require.Contains(t, []string{"X", "O"}, response.AssignedChar)
	})

	t.Run("Join starts the game", func(t *testing.T) {
		// Given: a waiting room
		env := newTestEnv(t)
		creator := openPeer(t, env, protocol.Attributes{Action: "create_room"})
		created := creator.conn.last(t)

		// When: a second connection joins it
		joiner := openPeer(t, env, protocol.Attributes{Action: "join_room", RoomID: created.RoomID})

		// Then: the joiner is connected with the other coin
		joinerTypes := joiner.conn.types()
		require.Contains(t, joinerTypes, protocol.TypePlayerConnected)
		require.NotEqual(t, created.AssignedChar, joiner.conn.messages[0].AssignedChar)

		// Then: both occupants hear the game started
		require.Contains(t, joinerTypes, protocol.TypeGameStarted)
		require.Contains(t, creator.conn.types(), protocol.TypeGameStarted)

		// Then: exactly one of them holds the turn
		headNotices := 0
		for _, types := range [][]string{creator.conn.types(), joinerTypes} {
			for _, eventType := range types {
				if eventType == protocol.TypeYourTurn {
					headNotices++
				}
			}
		}
		require.Equal(t, 1, headNotices)
	})

	t.Run("Join with a forged token", func(t *testing.T) {
		// When: joining with a token that does not verify
		env := newTestEnv(t)
		p := openPeer(t, env, protocol.Attributes{Action: "join_room", RoomID: "ABC123.bogus"})

		// Then: the join is refused
		response := p.conn.last(t)
		require.Equal(t, protocol.TypeInvalidCredentials, response.Message.Type)
		require.Equal(t, "Invalid Room Id or Room Id Missing", response.Message.Message)
	})

	t.Run("Third join gets ROOM_FULL", func(t *testing.T) {
		// Given: a full room
		env := newTestEnv(t)
		creator := openPeer(t, env, protocol.Attributes{Action: "create_room"})
		created := creator.conn.last(t)
		openPeer(t, env, protocol.Attributes{Action: "join_room", RoomID: created.RoomID})

		// When: a third connection tries the same room
		third := openPeer(t, env, protocol.Attributes{Action: "join_room", RoomID: created.RoomID})

		// Then: it is told the room is full
		require.Equal(t, protocol.TypeRoomFull, third.conn.last(t).Message.Type)
	})
}

func TestHandler_HandleMessage(t *testing.T) {
	t.Run("No credentials", func(t *testing.T) {
		// Given: a connection that never authenticated
		env := newTestEnv(t)
		p := openPeer(t, env, protocol.Attributes{})

		// When: it sends a move anyway
		sendMove(t, env, p, 0, 0)

		// Then: it is refused without any mutation
		response := p.conn.last(t)
		require.Equal(t, protocol.TypeInvalidCredentials, response.Message.Type)
		require.Equal(t, "Invalid Room Id or Room Id Missing", response.Message.Message)
	})

	t.Run("Forged user token", func(t *testing.T) {
		// Given: a live game and an intruder carrying the real room token
		env := newTestEnv(t)
		head, _ := pairUp(t, env)

		intruder := openPeer(t, env, protocol.Attributes{
			RoomID: head.session.Credentials().RoomToken,
			UserID: "intruder.fake-signature",
			Coin:   "X",
		})

		// When: the intruder sends a move
		sendMove(t, env, intruder, 0, 0)

		// Then: it is rejected on the user check
		response := intruder.conn.last(t)
		require.Equal(t, protocol.TypeInvalidCredentials, response.Message.Type)
		require.Equal(t, "Invalid User Id or User Id Missing", response.Message.Message)
	})

	t.Run("Malformed payload", func(t *testing.T) {
		// When: a room member sends something that is not JSON
		env := newTestEnv(t)
		head, _ := pairUp(t, env)
		env.handler.HandleMessage(context.Background(), head.session, []byte("not-json{"))

		// Then: a fixed error variant answers and the connection stays usable
		require.Equal(t, protocol.TypeInvalidAction, head.conn.last(t).Message.Type)

		sendMove(t, env, head, 0, 0)
		require.Equal(t, protocol.TypeMoveAccepted, head.conn.last(t).Message.Type)
	})

	t.Run("Move without coordinates", func(t *testing.T) {
		// When: the head's move object is present but incomplete
		env := newTestEnv(t)
		head, _ := pairUp(t, env)
		env.handler.HandleMessage(context.Background(), head.session, []byte(`{"move":{"x":1}}`))

		// Then: the handler asks for both coordinates
		response := head.conn.last(t)
		require.Equal(t, protocol.TypeInvalidCredentials, response.Message.Type)
		require.Equal(t, "Player requires x and y", response.Message.Message)
	})

	t.Run("Empty move out of turn", func(t *testing.T) {
		// When: the participant without the turn sends an empty move object
		env := newTestEnv(t)
		_, other := pairUp(t, env)
		env.handler.HandleMessage(context.Background(), other.session, []byte(`{"move":{}}`))

		// Then: turn order is enforced before the coordinates are inspected
		require.Equal(t, protocol.TypeInvalidMove, other.conn.last(t).Message.Type)
	})

	t.Run("Move off the grid", func(t *testing.T) {
		// When: the head targets coordinates outside the board
		env := newTestEnv(t)
		head, _ := pairUp(t, env)
		sendMove(t, env, head, 7, 0)

		// Then: the coordinates are rejected before the engine runs
		response := head.conn.last(t)
		require.Equal(t, protocol.TypeInvalidCredentials, response.Message.Type)
		require.Equal(t, "Invalid X and Y Coordinates", response.Message.Message)
	})

	t.Run("Accepted move rotates and notifies", func(t *testing.T) {
		// Given: a started game
		env := newTestEnv(t)
		head, other := pairUp(t, env)
		head.conn.reset()
		other.conn.reset()

		// When: the head plays (0,0)
		sendMove(t, env, head, 0, 0)

		// Then: the mover gets the echo with its own identity
		echo := head.conn.messages[0]
		require.Equal(t, protocol.TypeMoveAccepted, echo.Message.Type)
		require.Equal(t, head.session.Credentials().UserToken, echo.UserID)
		require.Equal(t, head.session.Credentials().Coin, echo.AssignedChar)
		require.Equal(t, head.session.Credentials().Coin, echo.Message.Board[0][0])

		// Then: the opponent gets the same event under its own identity,
		// followed by the turn notice
		require.Equal(t, []string{protocol.TypeMoveAccepted, protocol.TypeYourTurn}, other.conn.types())
		require.Equal(t, other.session.Credentials().UserToken, other.conn.messages[0].UserID)
		require.Equal(t, other.session.Credentials().Coin, other.conn.messages[0].AssignedChar)

		// When: the former head immediately replays
		sendMove(t, env, head, 1, 1)

		// Then: it is told the move is out of turn
		require.Equal(t, protocol.TypeInvalidMove, head.conn.last(t).Message.Type)
	})

	t.Run("Occupied cell", func(t *testing.T) {
		// Given: a game where (0,0) is taken
		env := newTestEnv(t)
		head, other := pairUp(t, env)
		sendMove(t, env, head, 0, 0)
		other.conn.reset()

		// When: the next head targets the same cell
		sendMove(t, env, other, 0, 0)

		// Then: ALREADY_FILLED is broadcast to both and the turn stays put
		require.Equal(t, protocol.TypeAlreadyFilled, other.conn.messages[0].Message.Type)
		require.Equal(t, protocol.TypeAlreadyFilled, head.conn.last(t).Message.Type)

		sendMove(t, env, other, 1, 1)
		require.Equal(t, protocol.TypeMoveAccepted, other.conn.last(t).Message.Type)
	})

	t.Run("Win ends rotation and archives", func(t *testing.T) {
		// Given: a game the opening player is about to win
		env := newTestEnv(t)
		head, other := pairUp(t, env)
		roomSubject := token.Subject(head.session.Credentials().RoomToken)

		sendMove(t, env, head, 0, 0)
		sendMove(t, env, other, 1, 0)
		sendMove(t, env, head, 0, 1)
		sendMove(t, env, other, 1, 1)

		head.conn.reset()
		other.conn.reset()

		// When: the opener completes the top row
		sendMove(t, env, head, 0, 2)

		// Then: both sides see the win for the mover's coin
		require.Equal(t, protocol.TypeWin, head.conn.last(t).Message.Type)
		require.Equal(t, head.session.Credentials().Coin, head.conn.last(t).Message.Coin)
		require.Equal(t, protocol.TypeWin, other.conn.messages[0].Message.Type)

		// Then: no further turn notice goes out
		assert.NotContains(t, head.conn.types(), protocol.TypeYourTurn)
		assert.NotContains(t, other.conn.types(), protocol.TypeYourTurn)

		// Then: the room survives for a rematch and the result is archived
		_, ok := env.registry.Lookup(head.session.Credentials().RoomToken)
		require.True(t, ok)

		record, err := env.archive.GetByRoomID(context.Background(), roomSubject)
		require.NoError(t, err)
		require.Equal(t, head.session.Credentials().Coin, record.Winner)
		require.Equal(t, 5, record.Moves)
	})

	t.Run("Draw is reported as TIE", func(t *testing.T) {
		// Given: a started game played to a full board with no line
		env := newTestEnv(t)
		head, other := pairUp(t, env)

		// Alternating fill that never completes a line for either coin:
		// head takes (0,0) (1,1) (2,1) (1,2) (0,2),
		// other takes (0,1) (2,2) (1,0) (2,0).
		moves := []struct {
			p    *peer
			x, y int
		}{
			{head, 0, 0}, {other, 0, 1}, {head, 1, 1}, {other, 2, 2},
			{head, 2, 1}, {other, 1, 0}, {head, 1, 2}, {other, 2, 0},
		}
		for _, move := range moves {
			sendMove(t, env, move.p, move.x, move.y)
			require.Equal(t, protocol.TypeMoveAccepted, move.p.conn.last(t).Message.Type)
		}

		// When: the final cell is filled
		sendMove(t, env, head, 0, 2)

		// Then: both sides see the tie
		require.Equal(t, protocol.TypeTie, head.conn.last(t).Message.Type)
		require.Equal(t, protocol.TypeTie, other.conn.last(t).Message.Type)

		// Then: the tie is archived with nine moves
		roomSubject := token.Subject(head.session.Credentials().RoomToken)
		record, err := env.archive.GetByRoomID(context.Background(), roomSubject)
		require.NoError(t, err)
		require.Equal(t, "-", record.Winner)
		require.Equal(t, 9, record.Moves)
	})

	t.Run("Clear game restarts", func(t *testing.T) {
		// Given: a game with moves on the board
		env := newTestEnv(t)
		head, other := pairUp(t, env)
		sendMove(t, env, head, 0, 0)

		head.conn.reset()
		other.conn.reset()

		// When: a rematch is requested
		env.handler.HandleMessage(context.Background(), head.session, []byte(`{"clearGame":true}`))

		// Then: both occupants hear the restart and one holds the turn
		require.Contains(t, head.conn.types(), protocol.TypeGameStarted)
		require.Contains(t, other.conn.types(), protocol.TypeGameStarted)

		headNotices := 0
		for _, types := range [][]string{head.conn.types(), other.conn.types()} {
			for _, eventType := range types {
				if eventType == protocol.TypeYourTurn {
					headNotices++
				}
			}
		}
		require.Equal(t, 1, headNotices)

		// Then: the previously filled cell is playable again
		gameRoom, ok := env.registry.Lookup(head.session.Credentials().RoomToken)
		require.True(t, ok)

		newHead := head
		if gameRoom.Head() != head.session.Credentials().UserToken {
			newHead = other
		}
		sendMove(t, env, newHead, 0, 0)
		require.Equal(t, protocol.TypeMoveAccepted, newHead.conn.last(t).Message.Type)
	})
}

func TestHandler_HandleClose(t *testing.T) {
	t.Run("Opponent is notified, room survives", func(t *testing.T) {
		// Given: a started game
		env := newTestEnv(t)
		head, other := pairUp(t, env)
		other.conn.reset()

		// When: the head's connection closes
		env.handler.HandleClose(head.session)

		// Then: the remaining occupant hears about it and keeps its seat
		require.Contains(t, other.conn.types(), protocol.TypePlayerDisconnected)

		gameRoom, ok := env.registry.Lookup(other.session.Credentials().RoomToken)
		require.True(t, ok)
		require.Equal(t, 1, gameRoom.Occupancy())
	})

	t.Run("Last close evicts the room", func(t *testing.T) {
		// Given: a room with only its creator
		env := newTestEnv(t)
		creator := openPeer(t, env, protocol.Attributes{Action: "create_room"})

		// When: the creator's connection closes
		env.handler.HandleClose(creator.session)

		// Then: the room is gone
		require.Equal(t, 0, env.registry.Count())
	})

	t.Run("Close of an unauthenticated connection", func(t *testing.T) {
		// When: a connection that never joined anything closes
		env := newTestEnv(t)
		p := openPeer(t, env, protocol.Attributes{})

		// Then: nothing breaks
		env.handler.HandleClose(p.session)
		require.Equal(t, 0, env.registry.Count())
	})
}
