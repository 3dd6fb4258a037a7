package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// frame is the wire envelope used by out-of-process workers. The payload
// schema depends on the channel name.
type frame struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// SocketBridge accepts WebSocket connections from external conversion
// workers and republishes their frames onto an Emitter. One reader per
// connection preserves the per-channel FIFO ordering the core assumes.
type SocketBridge struct {
	emitter  Emitter
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewSocketBridge creates a bridge that forwards decoded frames to emitter.
func NewSocketBridge(emitter Emitter, logger zerolog.Logger) *SocketBridge {
	return &SocketBridge{
		emitter: emitter,
		logger:  logger,
		upgrader: websocket.Upgrader{
			// Workers connect from the local machine only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and consumes worker frames until the
// connection closes.
func (b *SocketBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("worker websocket upgrade failed")
		return
	}
	defer conn.Close()

	b.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("worker connected")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Warn().Err(err).Msg("worker connection dropped")
			}
			return
		}

		if err := b.HandleFrame(data); err != nil {
			// Malformed frames are logged and skipped, never fatal.
			b.logger.Warn().Err(err).Msg("dropping malformed worker frame")
		}
	}
}

// HandleFrame decodes one worker frame and emits it on the matching channel.
func (b *SocketBridge) HandleFrame(data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode frame envelope: %w", err)
	}

	switch f.Channel {
	case ChannelProgress:
		var event ProgressEvent
		if err := json.Unmarshal(f.Payload, &event); err != nil {
			return fmt.Errorf("decode progress payload: %w", err)
		}
		b.emitter.EmitProgress(event)
	case ChannelStatus:
		var event StatusEvent
		if err := json.Unmarshal(f.Payload, &event); err != nil {
			return fmt.Errorf("decode status payload: %w", err)
		}
		b.emitter.EmitStatus(event)
	case ChannelComplete:
		var event CompleteEvent
		if err := json.Unmarshal(f.Payload, &event); err != nil {
			return fmt.Errorf("decode complete payload: %w", err)
		}
		b.emitter.EmitComplete(event)
	case ChannelError:
		var event ErrorEvent
		if err := json.Unmarshal(f.Payload, &event); err != nil {
			return fmt.Errorf("decode error payload: %w", err)
		}
		b.emitter.EmitError(event)
	default:
		return fmt.Errorf("unknown channel: %q", f.Channel)
	}

	return nil
}
