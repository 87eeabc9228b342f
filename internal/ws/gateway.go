package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/navikt/zparty/internal/metrics"
	"github.com/navikt/zparty/internal/models"
	"github.com/navikt/zparty/internal/service"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	requestTimeout = 5 * time.Second
)

var errSocketBound = fmt.Errorf("%w: socket is bound to another participant", models.ErrInvalidInput)

// handlerFunc runs one request. The reply is sent before the events are published.
type handlerFunc func(ctx context.Context, c *Client, p RoomPayload) (*Reply, []models.RoomEvent, error)

// Gateway upgrades HTTP requests to websockets and runs the room protocol
// on them. Every socket gets its own connection id; closing the socket
// disconnects the participant from all rooms.
type Gateway struct {
	coordinator *service.Coordinator
	hub         *Hub
	broadcaster service.Broadcaster
	metrics     *metrics.Recorder
	upgrader    websocket.Upgrader
	handlers    map[MessageType]handlerFunc
	newID       func() string
}

// NewGateway creates a gateway. broadcaster receives every event and is
// expected to include hub.
func NewGateway(coordinator *service.Coordinator, hub *Hub, broadcaster service.Broadcaster, rec *metrics.Recorder) *Gateway {
	g := &Gateway{
		coordinator: coordinator,
		hub:         hub,
		broadcaster: broadcaster,
		metrics:     rec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		newID: uuid.NewString,
	}

	g.handlers = map[MessageType]handlerFunc{
		MsgRoomCreate:    g.handleCreate,
		MsgRoomJoin:      g.handleJoin,
		MsgRoomConnect:   g.handleConnect,
		MsgRoomReconnect: g.handleReconnect,
		MsgRoomLeave:     g.handleLeave,
		MsgRoomKickUser:  g.handleKick,
		MsgRoomGiveHost:  g.handleGiveHost,
		MsgRoomLock:      g.handleLock,
		MsgRoomUpdate:    g.handleUpdate,
	}
	return g
}

// ServeHTTP handles GET /ws
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "ws.gateway").Msg("WebSocket upgrade failed")
		return
	}

	client := g.hub.Register(g.newID())
	g.metrics.ConnectionOpened()

	log.Debug().
		Str("module", "ws.gateway").
		Str("connection", client.id).
		Str("remote", r.RemoteAddr).
		Msg("Socket connected")

	g.hub.Send(client, Frame{Type: TypeSession, Payload: Reply{ConnectionID: client.id}})

	go g.writePump(conn, client)
	go g.readPump(conn, client)
}

func (g *Gateway) readPump(conn *websocket.Conn, c *Client) {
	defer func() {
		g.hub.Unregister(c)
		g.disconnect(c)
		g.metrics.ConnectionClosed()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("module", "ws.gateway").Str("connection", c.id).Msg("Socket read failed")
			}
			return
		}
		g.handle(c, data)
	}
}

func (g *Gateway) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// disconnect runs after the socket is gone and tells the remaining members
func (g *Gateway) disconnect(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	rooms, err := g.coordinator.Disconnect(ctx, c.id)
	if err != nil {
		log.Error().Err(err).Str("module", "ws.gateway").Str("connection", c.id).Msg("Failed to disconnect")
	}

	participantID := g.hub.ParticipantOf(c)
	for _, room := range rooms {
		service.Publish(g.broadcaster, service.PresenceEvents(room, participantID)...)
	}

	log.Debug().
		Str("module", "ws.gateway").
		Str("connection", c.id).
		Int("rooms", len(rooms)).
		Msg("Socket disconnected")
}

// handle decodes and runs one request, replying on the same socket
func (g *Gateway) handle(c *Client, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		g.hub.Send(c, errorFrame(TypeError, "", fmt.Errorf("%w: malformed message", models.ErrInvalidInput)))
		return
	}

	handler, ok := g.handlers[req.Type]
	if !ok {
		g.hub.Send(c, errorFrame(string(req.Type), req.RequestID, fmt.Errorf("%w: unknown message type", models.ErrInvalidInput)))
		return
	}

	var payload RoomPayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			g.hub.Send(c, errorFrame(string(req.Type), req.RequestID, fmt.Errorf("%w: malformed payload", models.ErrInvalidInput)))
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	reply, events, err := handler(ctx, c, payload)
	if err != nil {
		log.Debug().
			Err(err).
			Str("module", "ws.gateway").
			Str("connection", c.id).
			Str("type", string(req.Type)).
			Msg("Request failed")
		g.hub.Send(c, errorFrame(string(req.Type), req.RequestID, err))
		return
	}

	g.hub.Send(c, Frame{Type: string(req.Type), RequestID: req.RequestID, Payload: reply})
	service.Publish(g.broadcaster, events...)
}

func errorFrame(frameType, requestID string, err error) Frame {
	code := service.ResultLabel(err)
	message := err.Error()
	if code == "error" {
		message = "internal error"
	}
	return Frame{
		Type:      frameType,
		RequestID: requestID,
		Error:     &ErrorBody{Code: code, Message: message},
	}
}

// participantFor returns the participant a request acts as. The first
// request naming a participant binds the socket to it.
func (g *Gateway) participantFor(c *Client, requested string) (string, error) {
	current := g.hub.ParticipantOf(c)
	switch {
	case current == "":
		return requested, nil
	case requested == "" || requested == current:
		return current, nil
	default:
		return "", errSocketBound
	}
}

// seatView renders the room as the member whose seat the socket holds
func seatView(room *models.Room, c *Client) *models.RoomView {
	view := room.View(room.SeatOf(c.id))
	return &view
}

func (g *Gateway) handleCreate(ctx context.Context, c *Client, p RoomPayload) (*Reply, []models.RoomEvent, error) {
	participantID, err := g.participantFor(c, p.ParticipantID)
	if err != nil {
		return nil, nil, err
	}

	room, err := g.coordinator.CreateRoom(ctx, service.CreateRoomInput{
		Participant:  models.Participant{ID: participantID, Name: p.Name},
		Config:       models.RoomConfig{IsLocked: p.IsLocked, MaxMembers: p.MaxMembers},
		ConnectionID: c.id,
	})
	if err != nil {
		return nil, nil, err
	}

	host, _ := room.Host()
	g.hub.Identify(c, host.ParticipantID)
	g.hub.Subscribe(c, room.Code)

	return &Reply{ParticipantID: host.ParticipantID, Room: seatView(room, c)}, nil, nil
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, p RoomPayload) (*Reply, []models.RoomEvent, error) {
	participantID, err := g.participantFor(c, p.ParticipantID)
	if err != nil {
		return nil, nil, err
	}
	participant := models.Participant{ID: participantID, Name: p.Name}

	room, joined, err := g.coordinator.JoinRoom(ctx, p.Code, participant, c.id)
	if err != nil {
		return nil, nil, err
	}

	var events []models.RoomEvent
	if joined {
		events = service.JoinEvents(room, participantID)
	} else {
		// Already a member: attach this socket to the existing seat
		if room, err = g.coordinator.Connect(ctx, room.Code, participant, c.id, p.Secret); err != nil {
			return nil, nil, err
		}
		events = service.PresenceEvents(room, participantID)
	}

	g.hub.Identify(c, participantID)
	g.hub.Subscribe(c, room.Code)

	return &Reply{ParticipantID: participantID, Joined: &joined, Room: seatView(room, c)}, events, nil
}

func (g *Gateway) handleConnect(ctx context.Context, c *Client, p RoomPayload) (*Reply, []models.RoomEvent, error) {
	participantID, err := g.participantFor(c, p.ParticipantID)
	if err != nil {
		return nil, nil, err
	}

	room, err := g.coordinator.Connect(ctx, p.Code, models.Participant{ID: participantID, Name: p.Name}, c.id, p.Secret)
	if err != nil {
		return nil, nil, err
	}

	g.hub.Identify(c, participantID)
	g.hub.Subscribe(c, room.Code)

	return &Reply{ParticipantID: participantID, Room: seatView(room, c)}, service.PresenceEvents(room, participantID), nil
}

func (g *Gateway) handleReconnect(ctx context.Context, c *Client, p RoomPayload) (*Reply, []models.RoomEvent, error) {
	owner, err := g.coordinator.ResolveConnection(ctx, p.ConnectionID)
	if err != nil {
		return nil, nil, err
	}
	participantID, err := g.participantFor(c, owner)
	if err != nil {
		return nil, nil, err
	}

	rooms, err := g.coordinator.Reconnect(ctx, p.ConnectionID, c.id)
	if err != nil {
		return nil, nil, err
	}

	reply := &Reply{Rooms: make([]models.RoomView, 0, len(rooms))}
	if len(rooms) == 0 {
		// Superseded connection: the socket is not tied to anyone
		return reply, nil, nil
	}

	g.hub.Identify(c, participantID)
	reply.ParticipantID = participantID

	var events []models.RoomEvent
	for _, room := range rooms {
		g.hub.Subscribe(c, room.Code)
		reply.Rooms = append(reply.Rooms, *seatView(room, c))
		events = append(events, service.PresenceEvents(room, participantID)...)
	}
	return reply, events, nil
}

func (g *Gateway) handleLeave(ctx context.Context, c *Client, p RoomPayload) (*Reply, []models.RoomEvent, error) {
	participantID, err := g.participantFor(c, p.ParticipantID)
	if err != nil {
		return nil, nil, err
	}

	room, err := g.coordinator.LeaveRoom(ctx, p.Code, participantID)
	if err != nil {
		return nil, nil, err
	}

	return &Reply{ParticipantID: participantID}, service.ExitEvents(room, participantID, models.ExitReasonLeft), nil
}

func (g *Gateway) handleKick(ctx context.Context, c *Client, p RoomPayload) (*Reply, []models.RoomEvent, error) {
	room, err := g.coordinator.Kick(ctx, p.Code, p.Secret, p.TargetID)
	if err != nil {
		return nil, nil, err
	}

	caller := g.hub.ParticipantOf(c)
	return &Reply{ParticipantID: caller, Room: seatView(room, c)}, service.ExitEvents(room, p.TargetID, models.ExitReasonKicked), nil
}

func (g *Gateway) handleGiveHost(ctx context.Context, c *Client, p RoomPayload) (*Reply, []models.RoomEvent, error) {
	room, err := g.coordinator.TransferHost(ctx, p.Code, p.Secret, p.TargetID)
	if err != nil {
		return nil, nil, err
	}

	caller := g.hub.ParticipantOf(c)
	return &Reply{ParticipantID: caller, Room: seatView(room, c)}, service.UpdateEvents(room, caller), nil
}

func (g *Gateway) handleLock(ctx context.Context, c *Client, p RoomPayload) (*Reply, []models.RoomEvent, error) {
	room, err := g.coordinator.ToggleLock(ctx, p.Code, p.Secret)
	if err != nil {
		return nil, nil, err
	}

	caller := g.hub.ParticipantOf(c)
	return &Reply{ParticipantID: caller, Room: seatView(room, c)}, service.UpdateEvents(room, caller), nil
}

func (g *Gateway) handleUpdate(ctx context.Context, c *Client, p RoomPayload) (*Reply, []models.RoomEvent, error) {
	room, err := g.coordinator.UpdateRoom(ctx, p.Code, p.Secret, models.RoomConfig{IsLocked: p.IsLocked, MaxMembers: p.MaxMembers})
	if err != nil {
		return nil, nil, err
	}

	caller := g.hub.ParticipantOf(c)
	return &Reply{ParticipantID: caller, Room: seatView(room, c)}, service.UpdateEvents(room, caller), nil
}
