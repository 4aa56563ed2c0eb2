package room

import (
	"math/rand"
	"sync"

	"github.com/gridplay/tictactoe-backend/internal/apperror"
	"github.com/gridplay/tictactoe-backend/internal/game"
)

const maxOccupants = 2

// Occupant is one connected participant: its signed user token and the coin
// assigned for the room's lifetime.
type Occupant struct {
	UserToken string
	Coin      string
}

// Room holds one match's mutable state. Every mutation runs under the room's
// own mutex so unrelated rooms never contend; methods return fan-out plans
// instead of sending anything, callers deliver them after the lock is gone.
type Room struct {
	mu             sync.Mutex
	token          string
	closed         bool
	queue          []Occupant
	availableCoins []string
	board          game.Board
}

func newRoom(roomToken string, boardSize int) *Room {
	return &Room{
		token:          roomToken,
		queue:          make([]Occupant, 0, maxOccupants),
		availableCoins: []string{game.CoinX, game.CoinO},
		board:          game.NewBoard(boardSize),
	}
}

// StartPlan tells the caller who to notify when a game (re)starts:
// every occupant gets a start signal, the head of the queue gets the turn.
type StartPlan struct {
	Occupants []Occupant
	Head      string
}

// MoveResult is the fan-out plan for one evaluated move.
type MoveResult struct {
	Outcome  game.Outcome
	Board    [][]string
	Mover    Occupant
	Others   []Occupant
	NextHead string
	Moves    int
}

// LeaveResult reports a departure: the remaining occupants to notify and
// whether the room emptied out.
type LeaveResult struct {
	Coin      string
	Remaining []Occupant
	Empty     bool
}

func (that *Room) Token() string {
	return that.token
}

// seatCreator - seats the first occupant with a coin drawn at random.
func (that *Room) seatCreator(userToken string) string {
	that.mu.Lock()
	defer that.mu.Unlock()

	coin := that.takeCoin(rand.Intn(len(that.availableCoins))) //nolint: gosec // it's ok
	that.queue = append(that.queue, Occupant{UserToken: userToken, Coin: coin})

	return coin
}

// join - seats another occupant with the sole remaining coin. On reaching
// full occupancy the board is reset and the turn order shuffled; the
// returned StartPlan is non-nil exactly in that case. The occupancy check,
// coin assignment and queue append are one critical section so two racing
// joiners can never both observe the last free slot.
func (that *Room) join(userToken string) (string, *StartPlan, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return "", nil, apperror.ErrRoomNotFound
	}

	if len(that.queue) >= maxOccupants {
		return "", nil, apperror.ErrRoomFull
	}

	coin := that.takeCoin(0)
	that.queue = append(that.queue, Occupant{UserToken: userToken, Coin: coin})

	if len(that.queue) < maxOccupants {
		return coin, nil, nil
	}

	return coin, that.startLocked(), nil
}

// Reset - re-initializes the grid and turn order without reassembling the
// room, the rematch path.
func (that *Room) Reset() *StartPlan {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.startLocked()
}

// startLocked clears the board and rotates the queue a random 1..5 single
// positions so the opening turn is not predictable. Callers hold the mutex.
func (that *Room) startLocked() *StartPlan {
	that.board.Reset()

	for i := 0; i < 1+rand.Intn(5); i++ { //nolint: gosec // it's ok
		that.rotateLocked()
	}

	return &StartPlan{
		Occupants: append([]Occupant(nil), that.queue...),
		Head:      that.queue[0].UserToken,
	}
}

// PlayMove - enforces turn order first, then requires and range-checks the
// position, evaluates the move and, only when it is accepted, rotates the
// queue. Coordinates are optional because turn enforcement must answer
// before an incomplete move is diagnosed. All of it is one critical section
// so a move can never interleave with a join or a leave.
func (that *Room) PlayMove(userToken string, x, y *int) (*MoveResult, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	// A room is inert until both slots are taken: nobody holds a turn in a
	// half-assembled match.
	if len(that.queue) < maxOccupants || that.queue[0].UserToken != userToken {
		return nil, apperror.ErrNotYourTurn
	}

	if x == nil || y == nil {
		return nil, apperror.ErrMissingCell
	}

	size := that.board.Size()
	if *x < 0 || *x >= size || *y < 0 || *y >= size {
		return nil, apperror.ErrCellOutOfRange
	}

	mover := that.queue[0]
	outcome := game.Evaluate(that.board, *x, *y, mover.Coin)

	result := &MoveResult{
		Outcome: outcome,
		Board:   that.board.Snapshot(),
		Mover:   mover,
		Moves:   that.board.FilledCount(),
	}

	for _, occupant := range that.queue[1:] {
		result.Others = append(result.Others, occupant)
	}

	if outcome.Status == game.StatusAccepted {
		that.rotateLocked()
		result.NextHead = that.queue[0].UserToken
	}

	return result, nil
}

// Leave - removes the occupant, returns its coin to the pool and reports
// who is left.
func (that *Room) Leave(userToken string) (*LeaveResult, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	index := that.indexOfLocked(userToken)
	if index < 0 {
		return nil, apperror.ErrNotRoomMember
	}

	occupant := that.queue[index]
	that.queue = append(that.queue[:index], that.queue[index+1:]...)
	that.availableCoins = append(that.availableCoins, occupant.Coin)

	return &LeaveResult{
		Coin:      occupant.Coin,
		Remaining: append([]Occupant(nil), that.queue...),
		Empty:     len(that.queue) == 0,
	}, nil
}

// seal marks a still-empty room dead so a joiner racing the eviction cannot
// take a seat in a room the registry is about to forget. Reports whether
// sealing happened; a room that regained an occupant stays open.
func (that *Room) seal() bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	if len(that.queue) > 0 {
		return false
	}

	that.closed = true

	return true
}

// IsMember - reports whether the user token occupies the turn queue.
func (that *Room) IsMember(userToken string) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.indexOfLocked(userToken) >= 0
}

// Occupancy - returns the current queue length.
func (that *Room) Occupancy() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.queue)
}

// Head - returns the user token entitled to move next, "" for an empty room.
func (that *Room) Head() string {
	that.mu.Lock()
	defer that.mu.Unlock()

	if len(that.queue) == 0 {
		return ""
	}

	return that.queue[0].UserToken
}

func (that *Room) takeCoin(index int) string {
	coin := that.availableCoins[index]
	that.availableCoins = append(that.availableCoins[:index], that.availableCoins[index+1:]...)

	return coin
}

func (that *Room) rotateLocked() {
	if len(that.queue) < 2 {
		return
	}

	that.queue = append(that.queue[1:], that.queue[0])
}

func (that *Room) indexOfLocked(userToken string) int {
	for i, occupant := range that.queue {
		if occupant.UserToken == userToken {
			return i
		}
	}

	return -1
}
