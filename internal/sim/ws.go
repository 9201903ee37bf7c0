package sim

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tj-Github30/live-flash-auction-sub000/internal/room/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	joinWait       = 10 * time.Second
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one websocket subscriber of one room.
type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// handleWS upgrades the connection, performs the explicit join handshake,
// and hands the client to its room. Membership is never implied by the
// transport connect; the client must send join_room first.
func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := bearerToken(r)
	if !ok {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	rm, join, ok := s.awaitJoin(conn, userID)
	if !ok {
		conn.Close()
		return
	}

	c := &client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	if !rm.requestJoin(c) {
		writeClose(conn, websocket.CloseGoingAway, "room is shutting down")
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(rm)

	log.Debug().
		Str("client_id", c.id).
		Str("user_id", userID).
		Str("auction_id", join.AuctionID).
		Msg("websocket client connected")
}

// awaitJoin reads the join_room frame and validates it. The credential must
// match the handshake token; a mismatch is a policy violation, which clients
// treat as an auth failure.
func (s *Service) awaitJoin(conn *websocket.Conn, userID string) (*auctionRoom, events.JoinRoomPayload, bool) {
	var join events.JoinRoomPayload

	conn.SetReadDeadline(time.Now().Add(joinWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, join, false
	}

	var msg events.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != events.TypeJoinRoom {
		writeClose(conn, websocket.CloseUnsupportedData, "expected join_room")
		return nil, join, false
	}
	if err := json.Unmarshal(msg.Data, &join); err != nil {
		writeClose(conn, websocket.CloseUnsupportedData, "malformed join_room")
		return nil, join, false
	}
	if join.Credential != userID {
		writeClose(conn, websocket.ClosePolicyViolation, "credential mismatch")
		return nil, join, false
	}

	rm, ok := s.room(join.AuctionID)
	if !ok {
		writeClose(conn, websocket.CloseNormalClosure, "unknown auction")
		return nil, join, false
	}
	return rm, join, true
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// readPump consumes client frames until the connection drops, then leaves
// the room.
func (c *client) readPump(rm *auctionRoom) {
	defer func() {
		rm.requestLeave(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg events.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debug().Err(err).Str("client_id", c.id).Msg("dropping undecodable client frame")
			continue
		}

		switch msg.Type {
		case events.TypeSendChat:
			var chat events.SendChatPayload
			if err := json.Unmarshal(msg.Data, &chat); err == nil {
				rm.requestChat(c.userID, chat.Text)
			}
		case events.TypeLeaveRoom:
			return
		default:
			log.Debug().
				Str("event", string(msg.Type)).
				Str("client_id", c.id).
				Msg("ignoring unexpected client frame")
		}
	}
}

// writePump drains the send buffer and keeps the connection alive. It exits
// when the room closes the send channel or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
