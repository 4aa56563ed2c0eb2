package room

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gridplay/tictactoe-backend/internal/apperror"
	"github.com/gridplay/tictactoe-backend/internal/token"
)

// Registry is the matchmaking entry point: a concurrent map from room token
// to Room. It guards only the map itself, each Room carries its own lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	tokens    *token.Authority
	boardSize int
}

func NewRegistry(tokens *token.Authority, boardSize int) *Registry {
	return &Registry{
		rooms:     make(map[string]*Room),
		tokens:    tokens,
		boardSize: boardSize,
	}
}

// Created carries everything a room creator needs to come back later.
type Created struct {
	RoomToken string
	UserToken string
	Coin      string
}

// Joined is the result of a successful join. Start is non-nil when the join
// filled the room and the game begins.
type Joined struct {
	RoomToken string
	UserToken string
	Coin      string
	Start     *StartPlan
}

// CreateRoom - mints fresh room and user tokens, seats the creator with a
// random coin and stores the room under its token.
func (that *Registry) CreateRoom() (*Created, error) {
	roomSubject, err := generateRoomCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate room code: %w", err)
	}

	roomToken, err := that.tokens.Issue(roomSubject, token.ClassRoom)
	if err != nil {
		return nil, fmt.Errorf("failed to issue room token: %w", err)
	}

	userToken, err := that.tokens.Issue(uuid.NewString(), token.ClassUser)
	if err != nil {
		return nil, fmt.Errorf("failed to issue user token: %w", err)
	}

	newRoom := newRoom(roomToken, that.boardSize)
	coin := newRoom.seatCreator(userToken)

	that.mu.Lock()
	that.rooms[roomToken] = newRoom
	that.mu.Unlock()

	return &Created{
		RoomToken: roomToken,
		UserToken: userToken,
		Coin:      coin,
	}, nil
}

// JoinRoom - verifies the claimed room token, mints a user token and seats
// the joiner. Fails with ErrInvalidToken or ErrRoomNotFound when the claim
// does not resolve to a live room, with ErrRoomFull when both slots are
// taken.
func (that *Registry) JoinRoom(claimedRoomToken string) (*Joined, error) {
	if !that.tokens.Verify(claimedRoomToken, token.ClassRoom) {
		return nil, apperror.ErrInvalidToken
	}

	existingRoom, ok := that.Lookup(claimedRoomToken)
	if !ok {
		return nil, apperror.ErrRoomNotFound
	}

	userToken, err := that.tokens.Issue(uuid.NewString(), token.ClassUser)
	if err != nil {
		return nil, fmt.Errorf("failed to issue user token: %w", err)
	}

	coin, start, err := existingRoom.join(userToken)
	if err != nil {
		return nil, err
	}

	return &Joined{
		RoomToken: claimedRoomToken,
		UserToken: userToken,
		Coin:      coin,
		Start:     start,
	}, nil
}

// Lookup - returns the live room stored under the token, if any.
func (that *Registry) Lookup(roomToken string) (*Room, bool) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	existingRoom, ok := that.rooms[roomToken]

	return existingRoom, ok
}

// Leave - releases the occupant's slot and coin, evicting the room once its
// queue is empty. A room token that verifies but no longer resolves here is
// exactly how stale tokens die: the registry simply has nothing for them.
func (that *Registry) Leave(roomToken, userToken string) (*LeaveResult, error) {
	existingRoom, ok := that.Lookup(roomToken)
	if !ok {
		return nil, apperror.ErrRoomNotFound
	}

	result, err := existingRoom.Leave(userToken)
	if err != nil {
		return nil, err
	}

	// Eviction re-checks under the registry write lock: a join may have
	// landed between the departure and here, and sealing refuses only a
	// room that is still empty.
	if result.Empty {
		that.mu.Lock()
		if existingRoom.seal() {
			delete(that.rooms, roomToken)
		}
		that.mu.Unlock()
	}

	return result, nil
}

// Count - returns the number of live rooms.
func (that *Registry) Count() int {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return len(that.rooms)
}
