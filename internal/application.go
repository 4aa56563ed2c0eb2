package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridplay/tictactoe-backend/internal/config"
	"github.com/gridplay/tictactoe-backend/internal/protocol"
	"github.com/gridplay/tictactoe-backend/internal/repository"
	"github.com/gridplay/tictactoe-backend/internal/repository/storage"
	"github.com/gridplay/tictactoe-backend/internal/room"
	"github.com/gridplay/tictactoe-backend/internal/token"
	"github.com/gridplay/tictactoe-backend/transport/rest"
	"github.com/gridplay/tictactoe-backend/transport/websocket"
)

var ErrMissingTokenSecrets = errors.New("token secrets are not configured")

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	if conf.Tokens.RoomSecret == "" || conf.Tokens.UserSecret == "" {
		return ErrMissingTokenSecrets
	}

	// The match archive is optional: without redis the server runs fully
	// in-memory and simply keeps no record of finished games.
	var matchRepo repository.MatchRepository
	if addr := conf.Redis.GetRedisAddr(); addr != "" {
		redisStorage, err := storage.New(ctx, addr)
		if err != nil {
			return fmt.Errorf("could not connect to redis storage: %w", err)
		}

		defer func() {
			if err = redisStorage.Close(); err != nil {
				log.Error("could not close redis storage", "error", err)
			}
		}()

		matchRepo = repository.NewMatchRepository(redisStorage.Connection)
	}

	authority := token.NewAuthority(conf.Tokens.RoomSecret, conf.Tokens.UserSecret)
	registry := room.NewRegistry(authority, conf.Game.BoardSize)
	handler := protocol.NewHandler(logger, authority, registry, matchRepo)

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.Start(conf.HTTPPort); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		wsServer := websocket.New(logger, handler)
		if wsErr := wsServer.Start(ctx, conf.SocketPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err := <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err := <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}
