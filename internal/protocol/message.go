package protocol

import (
	"encoding/json"
	"fmt"
)

// Event tags, the wire-visible variant names.
const (
	TypeRoomCreated        = "ROOM_CREATED"
	TypePlayerConnected    = "PLAYER_CONNECTED"
	TypePlayerDisconnected = "PLAYER_DISCONNECTED"
	TypeRoomFull           = "ROOM_FULL"
	TypeInvalidAction      = "INVALID_ACTION"
	TypeInvalidCredentials = "INVALID_CREDENTIALS"
	TypeGameStarted        = "GAME_STARTED"
	TypeYourTurn           = "YOUR_TURN"
	TypeMoveAccepted       = "MOVE_ACCEPTED"
	TypeAlreadyFilled      = "ALREADY_FILLED"
	TypeInvalidMove        = "INVALID_MOVE"
	TypeWin                = "WIN"
	TypeTie                = "TIE"
)

// ClientMessage is the inbound application payload.
type ClientMessage struct {
	Move      *GridPosition `json:"move,omitempty"`
	ClearGame bool          `json:"clearGame,omitempty"`
}

// GridPosition uses pointers so an absent coordinate is distinguishable
// from zero.
type GridPosition struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

// Event is the tagged variant carried in every outbound message. Only the
// fields of the tagged variant are populated; the rest stay off the wire.
type Event struct {
	Type    string     `json:"type"`
	Message string     `json:"message,omitempty"` // INVALID_CREDENTIALS
	Board   [][]string `json:"board,omitempty"`   // MOVE_ACCEPTED
	Coin    string     `json:"coin,omitempty"`    // WIN
}

// Response is the outbound envelope. Null fields are omitted on the wire.
type Response struct {
	UserID       string `json:"userId,omitempty"`
	RoomID       string `json:"roomId,omitempty"`
	AssignedChar string `json:"assignedChar,omitempty"`
	Message      Event  `json:"message"`
}

func EventOf(eventType string) Event {
	return Event{Type: eventType}
}

func EventInvalidCredentials(reason string) Event {
	return Event{Type: TypeInvalidCredentials, Message: reason}
}

func EventMoveAccepted(board [][]string) Event {
	return Event{Type: TypeMoveAccepted, Board: board}
}

func EventWin(coin string) Event {
	return Event{Type: TypeWin, Coin: coin}
}

// EncodeResponse - marshals one outbound message.
func EncodeResponse(response Response) ([]byte, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return data, nil
}

// DecodeClientMessage - unmarshals one inbound payload.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var message ClientMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client message: %w", err)
	}

	return &message, nil
}
