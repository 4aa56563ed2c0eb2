package game

const (
	CoinX = "X"
	CoinO = "O"

	EmptyCell = ""
)

// Move outcomes.
const (
	StatusAccepted = "accepted"
	StatusWin      = "win"
	StatusDraw     = "draw"
	StatusOccupied = "occupied"
)

// Outcome is the result of applying one move to a board.
type Outcome struct {
	Status string
	Winner string
}

// Board is an N x N grid of coins, EmptyCell for vacant cells.
type Board [][]string

func NewBoard(size int) Board {
	board := make(Board, size)
	for i := range board {
		board[i] = make([]string, size)
	}

	return board
}

// Reset - clears every cell in place, the board is not reallocated.
func (that Board) Reset() {
	for _, row := range that {
		for i := range row {
			row[i] = EmptyCell
		}
	}
}

func (that Board) Size() int {
	return len(that)
}

// Snapshot - returns a deep copy safe to hand to encoders.
func (that Board) Snapshot() [][]string {
	snapshot := make([][]string, len(that))
	for i, row := range that {
		snapshot[i] = make([]string, len(row))
		copy(snapshot[i], row)
	}

	return snapshot
}

// FilledCount - returns the number of non-empty cells.
func (that Board) FilledCount() int {
	count := 0
	for _, row := range that {
		for _, cell := range row {
			if cell != EmptyCell {
				count++
			}
		}
	}

	return count
}

// Evaluate - applies one move to the board and reports the outcome.
// Out-of-range positions are reported as occupied, same as a filled cell:
// both are "can't move there" and callers that care range-check upstream.
// The win check runs before the fullness check so a final move that
// completes a line is never reported as a draw.
func Evaluate(board Board, x, y int, coin string) Outcome {
	size := board.Size()

	if x < 0 || x >= size || y < 0 || y >= size || board[x][y] != EmptyCell {
		return Outcome{Status: StatusOccupied}
	}

	board[x][y] = coin

	if isWin(board, coin) {
		return Outcome{Status: StatusWin, Winner: coin}
	}

	if isFull(board) {
		return Outcome{Status: StatusDraw}
	}

	return Outcome{Status: StatusAccepted}
}

func isWin(board Board, coin string) bool {
	size := board.Size()

	for i := 0; i < size; i++ {
		if lineOf(coin, size, func(j int) string { return board[i][j] }) {
			return true
		}
		if lineOf(coin, size, func(j int) string { return board[j][i] }) {
			return true
		}
	}

	if lineOf(coin, size, func(j int) string { return board[j][j] }) {
		return true
	}

	return lineOf(coin, size, func(j int) string { return board[j][size-1-j] })
}

func lineOf(coin string, size int, cell func(int) string) bool {
	for j := 0; j < size; j++ {
		if cell(j) != coin {
			return false
		}
	}

	return true
}

func isFull(board Board) bool {
	for _, row := range board {
		for _, cell := range row {
			if cell == EmptyCell {
				return false
			}
		}
	}

	return true
}
