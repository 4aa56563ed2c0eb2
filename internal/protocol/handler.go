package protocol

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gridplay/tictactoe-backend/internal/apperror"
	"github.com/gridplay/tictactoe-backend/internal/game"
	"github.com/gridplay/tictactoe-backend/internal/repository"
	"github.com/gridplay/tictactoe-backend/internal/room"
	"github.com/gridplay/tictactoe-backend/internal/token"
)

// Open actions a connection may request via its query attributes.
const (
	actionCreateRoom = "create_room"
	actionJoinRoom   = "join_room"
)

// Authorization failure reasons, part of the wire contract.
const (
	reasonInvalidRoom        = "Invalid Room Id or Room Id Missing"
	reasonInvalidUser        = "Invalid User Id or User Id Missing"
	reasonMoveRequiresXY     = "Player requires x and y"
	reasonInvalidCoordinates = "Invalid X and Y Coordinates"
)

const tieWinner = "-"

// Conn is the outbound half of a connection: the transport hands the core
// something it can push text frames into.
type Conn interface {
	WriteMessage(data []byte) error
}

// Attributes is the per-connection attribute seed the transport extracts
// from the opening request's query parameters.
type Attributes struct {
	Action string
	RoomID string
	UserID string
	Coin   string
}

// Credentials is what a connection carries instead of a server-side
// session: both signed tokens and the assigned coin. Authorization is
// re-derived from these on every message.
type Credentials struct {
	RoomToken string
	UserToken string
	Coin      string
}

// Session binds a connection to its credentials.
type Session struct {
	conn  Conn
	creds Credentials
}

func (that *Session) Credentials() Credentials {
	return that.creds
}

// Handler reacts to connection-open, inbound message and connection-close
// events and fans protocol messages out to room occupants.
type Handler struct {
	logger   *slog.Logger
	tokens   *token.Authority
	registry *room.Registry
	archive  repository.MatchRepository // nil disables archiving

	connectionsMutex sync.RWMutex
	connections      map[string]Conn
}

func NewHandler(logger *slog.Logger, tokens *token.Authority, registry *room.Registry, archive repository.MatchRepository) *Handler {
	return &Handler{
		logger:      logger,
		tokens:      tokens,
		registry:    registry,
		archive:     archive,
		connections: make(map[string]Conn),
	}
}

// HandleOpen - reacts to a freshly opened connection. The requested action
// drives matchmaking; anything else answers INVALID_ACTION and leaves the
// connection unauthenticated.
func (that *Handler) HandleOpen(conn Conn, attrs Attributes) *Session {
	session := &Session{
		conn: conn,
		creds: Credentials{
			RoomToken: attrs.RoomID,
			UserToken: attrs.UserID,
			Coin:      attrs.Coin,
		},
	}

	switch attrs.Action {
	case actionCreateRoom:
		that.createRoom(session)
	case actionJoinRoom:
		that.joinRoom(session)
	default:
		that.send(session.conn, Response{Message: EventOf(TypeInvalidAction)})
	}

	return session
}

func (that *Handler) createRoom(session *Session) {
	log := that.logger.With("method", "createRoom")

	created, err := that.registry.CreateRoom()
	if err != nil {
		log.Error("failed to create room", "error", err)
		that.send(session.conn, Response{Message: EventInvalidCredentials("failed to create room")})
		return
	}

	session.creds = Credentials{
		RoomToken: created.RoomToken,
		UserToken: created.UserToken,
		Coin:      created.Coin,
	}
	that.registerConnection(created.UserToken, session.conn)

	that.send(session.conn, Response{
		UserID:       created.UserToken,
		RoomID:       created.RoomToken,
		AssignedChar: created.Coin,
		Message:      EventOf(TypeRoomCreated),
	})

	log.Info("room created", "roomID", token.Subject(created.RoomToken))
}

func (that *Handler) joinRoom(session *Session) {
	log := that.logger.With("method", "joinRoom")

	joined, err := that.registry.JoinRoom(session.creds.RoomToken)

	switch {
	case errors.Is(err, apperror.ErrInvalidToken), errors.Is(err, apperror.ErrRoomNotFound):
		that.send(session.conn, Response{Message: EventInvalidCredentials(reasonInvalidRoom)})
		return
	case errors.Is(err, apperror.ErrRoomFull):
		that.send(session.conn, Response{Message: EventOf(TypeRoomFull)})
		return
	case err != nil:
		log.Error("failed to join room", "error", err)
		that.send(session.conn, Response{Message: EventInvalidCredentials(reasonInvalidRoom)})
		return
	}

	session.creds = Credentials{
		RoomToken: joined.RoomToken,
		UserToken: joined.UserToken,
		Coin:      joined.Coin,
	}
	that.registerConnection(joined.UserToken, session.conn)

	that.send(session.conn, Response{
		UserID:       joined.UserToken,
		RoomID:       joined.RoomToken,
		AssignedChar: joined.Coin,
		Message:      EventOf(TypePlayerConnected),
	})

	if joined.Start != nil {
		that.broadcastStart(joined.RoomToken, joined.Start)
	}

	log.Info("player joined room", "roomID", token.Subject(joined.RoomToken))
}

// HandleMessage - reacts to an inbound application message. Both tokens and
// room membership are re-verified on every message since no server-side
// session exists beyond the room itself.
func (that *Handler) HandleMessage(ctx context.Context, session *Session, raw []byte) {
	log := that.logger.With("method", "HandleMessage")

	creds := session.creds

	if creds.RoomToken == "" || !that.tokens.Verify(creds.RoomToken, token.ClassRoom) {
		that.send(session.conn, Response{Message: EventInvalidCredentials(reasonInvalidRoom)})
		return
	}

	gameRoom, ok := that.registry.Lookup(creds.RoomToken)
	if !ok {
		that.send(session.conn, Response{Message: EventInvalidCredentials(reasonInvalidRoom)})
		return
	}

	if !that.tokens.Verify(creds.UserToken, token.ClassUser) || !gameRoom.IsMember(creds.UserToken) {
		that.send(session.conn, Response{Message: EventInvalidCredentials(reasonInvalidUser)})
		return
	}

	message, err := DecodeClientMessage(raw)
	if err != nil {
		log.Error("malformed payload", "error", err)
		that.send(session.conn, Response{Message: EventOf(TypeInvalidAction)})
		return
	}

	if message.ClearGame {
		that.broadcastStart(gameRoom.Token(), gameRoom.Reset())
		return
	}

	that.playMove(ctx, session, gameRoom, message.Move)
}

func (that *Handler) playMove(ctx context.Context, session *Session, gameRoom *room.Room, move *GridPosition) {
	log := that.logger.With("method", "playMove")

	roomToken := gameRoom.Token()

	// Turn order answers before an incomplete move is diagnosed, so the
	// room takes the position as optional coordinates.
	var x, y *int
	if move != nil {
		x, y = move.X, move.Y
	}

	result, err := gameRoom.PlayMove(session.creds.UserToken, x, y)

	switch {
	case errors.Is(err, apperror.ErrNotYourTurn):
		that.send(session.conn, Response{Message: EventOf(TypeInvalidMove)})
		return
	case errors.Is(err, apperror.ErrMissingCell):
		that.send(session.conn, Response{Message: EventInvalidCredentials(reasonMoveRequiresXY)})
		return
	case errors.Is(err, apperror.ErrCellOutOfRange):
		that.send(session.conn, Response{Message: EventInvalidCredentials(reasonInvalidCoordinates)})
		return
	case err != nil:
		log.Error("failed to play move", "error", err)
		that.send(session.conn, Response{Message: EventOf(TypeInvalidMove)})
		return
	}

	event := eventForOutcome(result)

	// Echo to the mover, then the same event to the opponent under its own
	// identity.
	that.send(session.conn, Response{
		UserID:       result.Mover.UserToken,
		RoomID:       roomToken,
		AssignedChar: result.Mover.Coin,
		Message:      event,
	})

	for _, occupant := range result.Others {
		that.sendToUser(occupant.UserToken, Response{
			UserID:       occupant.UserToken,
			RoomID:       roomToken,
			AssignedChar: occupant.Coin,
			Message:      event,
		})
	}

	// The queue rotated only on an accepted move; win and draw end the
	// rotation without evicting the room, a rematch may follow.
	if result.NextHead != "" {
		that.sendToUser(result.NextHead, Response{Message: EventOf(TypeYourTurn)})
		return
	}

	switch result.Outcome.Status {
	case game.StatusWin:
		that.archiveResult(ctx, roomToken, result.Outcome.Winner, result.Moves)
	case game.StatusDraw:
		that.archiveResult(ctx, roomToken, tieWinner, result.Moves)
	}
}

// HandleClose - reacts to the connection going away: the only event that
// frees a room slot.
func (that *Handler) HandleClose(session *Session) {
	log := that.logger.With("method", "HandleClose")

	creds := session.creds

	if creds.UserToken != "" {
		that.unregisterConnection(creds.UserToken)
	}

	if creds.RoomToken == "" || creds.UserToken == "" {
		return
	}

	result, err := that.registry.Leave(creds.RoomToken, creds.UserToken)
	if err != nil {
		log.Debug("close without a live room slot", "error", err)
		return
	}

	for _, occupant := range result.Remaining {
		that.sendToUser(occupant.UserToken, Response{Message: EventOf(TypePlayerDisconnected)})
	}

	log.Info("player disconnected", "roomID", token.Subject(creds.RoomToken), "roomEvicted", result.Empty)
}

// broadcastStart delivers the start plan computed under the room lock:
// every occupant learns the game (re)started, the head gets the turn.
func (that *Handler) broadcastStart(roomToken string, start *room.StartPlan) {
	for _, occupant := range start.Occupants {
		that.sendToUser(occupant.UserToken, Response{
			RoomID:  roomToken,
			Message: EventOf(TypeGameStarted),
		})
	}

	that.sendToUser(start.Head, Response{Message: EventOf(TypeYourTurn)})
}

func (that *Handler) archiveResult(ctx context.Context, roomToken, winner string, moves int) {
	if that.archive == nil {
		return
	}

	log := that.logger.With("method", "archiveResult")

	record := &repository.MatchRecord{
		RoomID:     token.Subject(roomToken),
		Winner:     winner,
		Moves:      moves,
		FinishedAt: time.Now().UTC(),
	}

	// Best effort: the archive must never affect gameplay.
	if err := that.archive.SaveResult(ctx, record); err != nil {
		log.Error("failed to archive match result", "error", err)
	}
}

func eventForOutcome(result *room.MoveResult) Event {
	switch result.Outcome.Status {
	case game.StatusWin:
		return EventWin(result.Outcome.Winner)
	case game.StatusDraw:
		return EventOf(TypeTie)
	case game.StatusOccupied:
		return EventOf(TypeAlreadyFilled)
	default:
		return EventMoveAccepted(result.Board)
	}
}

func (that *Handler) registerConnection(userToken string, conn Conn) {
	that.connectionsMutex.Lock()
	that.connections[userToken] = conn
	that.connectionsMutex.Unlock()
}

func (that *Handler) unregisterConnection(userToken string) {
	that.connectionsMutex.Lock()
	delete(that.connections, userToken)
	that.connectionsMutex.Unlock()
}

func (that *Handler) sendToUser(userToken string, response Response) {
	that.connectionsMutex.RLock()
	conn, ok := that.connections[userToken]
	that.connectionsMutex.RUnlock()

	if !ok {
		that.logger.Warn("connection not found for user", "method", "sendToUser")
		return
	}

	that.send(conn, response)
}

func (that *Handler) send(conn Conn, response Response) {
	data, err := EncodeResponse(response)
	if err != nil {
		that.logger.Error("failed to encode response", "error", err)
		return
	}

	if err = conn.WriteMessage(data); err != nil {
		that.logger.Error("failed to write message", "error", err)
	}
}
