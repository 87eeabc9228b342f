package ws_test

import (
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/navikt/zparty/internal/config"
	"github.com/navikt/zparty/internal/metrics"
	"github.com/navikt/zparty/internal/models"
	"github.com/navikt/zparty/internal/repository"
	"github.com/navikt/zparty/internal/service"
	"github.com/navikt/zparty/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
	Error     *ws.ErrorBody   `json:"error"`
}

func (f frame) reply(t *testing.T) ws.Reply {
	t.Helper()
	require.Nil(t, f.Error, "request failed: %+v", f.Error)
	var r ws.Reply
	require.NoError(t, json.Unmarshal(f.Payload, &r))
	return r
}

func (f frame) event(t *testing.T) models.EventMessage {
	t.Helper()
	var m models.EventMessage
	require.NoError(t, json.Unmarshal(f.Payload, &m))
	return m
}

type testClient struct {
	t            *testing.T
	conn         *websocket.Conn
	connectionID string
	nextID       int
}

func dial(t *testing.T, server *httptest.Server) *testClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &testClient{t: t, conn: conn}
	session := c.await(func(f frame) bool { return f.Type == ws.TypeSession })
	c.connectionID = session.reply(t).ConnectionID
	require.NotEmpty(t, c.connectionID)
	return c
}

func (c *testClient) await(match func(f frame) bool) frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(c.t, c.conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func (c *testClient) request(msgType ws.MessageType, payload ws.RoomPayload) frame {
	c.t.Helper()
	c.nextID++
	id := strconv.Itoa(c.nextID)

	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(ws.Request{Type: msgType, RequestID: id, Payload: raw}))

	return c.await(func(f frame) bool { return f.RequestID == id })
}

func (c *testClient) awaitEvent(op models.EventOperation, match func(m models.EventMessage) bool) models.EventMessage {
	c.t.Helper()
	f := c.await(func(f frame) bool {
		if f.Type != ws.TypeEvent {
			return false
		}
		var m models.EventMessage
		if json.Unmarshal(f.Payload, &m) != nil || m.Operation != op {
			return false
		}
		return match == nil || match(m)
	})
	return f.event(c.t)
}

func memberConnected(participantID string, connected bool) func(m models.EventMessage) bool {
	return func(m models.EventMessage) bool {
		for _, member := range m.Data.Members {
			if member.ID == participantID {
				return member.Connected == connected
			}
		}
		return false
	}
}

func setupGateway(t *testing.T) (*httptest.Server, *ws.Hub) {
	t.Helper()

	stores := repository.NewMemoryStores()
	coordinator, err := service.NewCoordinator(stores.Rooms, stores.Presence, config.RoomsConfig{
		CodeAlphabet:    "ABCDEFGHJKLMNPQRSTUVWXYZ23456789",
		CodeLength:      6,
		CodeMaxAttempts: 50,
		MaxMembersLimit: 20,
		MinNameLength:   2,
		MaxNameLength:   20,
		MinMembers:      2,
	})
	require.NoError(t, err)

	hub := ws.NewHub()
	fanout := service.NewFanout()
	fanout.Register(hub)

	server := httptest.NewServer(ws.NewGateway(coordinator, hub, fanout, metrics.NewRecorder()))
	t.Cleanup(server.Close)
	return server, hub
}

func TestGatewayRoomFlow(t *testing.T) {
	server, hub := setupGateway(t)

	host := dial(t, server)
	created := host.request(ws.MsgRoomCreate, ws.RoomPayload{ParticipantID: "host", Name: "Host"}).reply(t)
	require.NotNil(t, created.Room)
	code := created.Room.Code
	secret := created.Room.Secret
	assert.Equal(t, "host", created.ParticipantID)
	assert.NotEmpty(t, secret)

	guest := dial(t, server)
	joined := guest.request(ws.MsgRoomJoin, ws.RoomPayload{Code: strings.ToLower(code), ParticipantID: "guest", Name: "Guest"}).reply(t)
	require.NotNil(t, joined.Joined)
	assert.True(t, *joined.Joined)
	assert.Empty(t, joined.Room.Secret)

	t.Run("HostSeesJoinWithSecret", func(t *testing.T) {
		event := host.awaitEvent(models.EventRoomJoined, nil)
		assert.Equal(t, "guest", event.Data.ParticipantID)
		require.NotNil(t, event.Data.Room)
		assert.Equal(t, secret, event.Data.Room.Secret)

		guestEvent := guest.awaitEvent(models.EventRoomJoined, nil)
		assert.Empty(t, guestEvent.Data.Room.Secret)
	})

	t.Run("SocketCloseDisconnects", func(t *testing.T) {
		require.NoError(t, guest.conn.Close())
		host.awaitEvent(models.EventRoomMembersUpdated, memberConnected("guest", false))
	})

	replacement := dial(t, server)

	t.Run("Reconnect", func(t *testing.T) {
		reply := replacement.request(ws.MsgRoomReconnect, ws.RoomPayload{ConnectionID: guest.connectionID}).reply(t)
		assert.Equal(t, "guest", reply.ParticipantID)
		require.Len(t, reply.Rooms, 1)
		assert.Equal(t, code, reply.Rooms[0].Code)

		host.awaitEvent(models.EventRoomMembersUpdated, memberConnected("guest", true))
	})

	t.Run("SocketStaysBoundToParticipant", func(t *testing.T) {
		f := replacement.request(ws.MsgRoomLeave, ws.RoomPayload{Code: code, ParticipantID: "host"})
		require.NotNil(t, f.Error)
		assert.Equal(t, "invalid_input", f.Error.Code)
	})

	t.Run("Kick", func(t *testing.T) {
		f := replacement.request(ws.MsgRoomKickUser, ws.RoomPayload{Code: code, Secret: "guess", TargetID: "host"})
		require.NotNil(t, f.Error)
		assert.Equal(t, "unauthorized", f.Error.Code)

		reply := host.request(ws.MsgRoomKickUser, ws.RoomPayload{Code: code, Secret: secret, TargetID: "guest"}).reply(t)
		assert.Len(t, reply.Room.Members, 1)

		exited := replacement.awaitEvent(models.EventRoomExited, nil)
		assert.Equal(t, models.ExitReasonKicked, exited.Data.Reason)
		assert.Equal(t, "guest", exited.Data.ParticipantID)

		require.Eventually(t, func() bool { return hub.Subscribers(code) == 1 }, time.Second, 10*time.Millisecond)
	})

	t.Run("LockAndUpdate", func(t *testing.T) {
		reply := host.request(ws.MsgRoomLock, ws.RoomPayload{Code: code, Secret: secret}).reply(t)
		assert.True(t, reply.Room.IsLocked)

		late := dial(t, server)
		f := late.request(ws.MsgRoomJoin, ws.RoomPayload{Code: code, ParticipantID: "late", Name: "Late"})
		require.NotNil(t, f.Error)
		assert.Equal(t, "conflict", f.Error.Code)

		unlocked := false
		maxMembers := 4
		reply = host.request(ws.MsgRoomUpdate, ws.RoomPayload{Code: code, Secret: secret, IsLocked: &unlocked, MaxMembers: &maxMembers}).reply(t)
		assert.False(t, reply.Room.IsLocked)
		assert.Equal(t, 4, reply.Room.MaxMembers)

		host.awaitEvent(models.EventRoomUpdated, func(m models.EventMessage) bool {
			return m.Data.Room != nil && m.Data.Room.MaxMembers == 4
		})
	})

	t.Run("GiveHostAndLeave", func(t *testing.T) {
		next := dial(t, server)
		next.request(ws.MsgRoomConnect, ws.RoomPayload{Code: code, ParticipantID: "next", Name: "Next"}).reply(t)

		reply := host.request(ws.MsgRoomGiveHost, ws.RoomPayload{Code: code, Secret: secret, TargetID: "next"}).reply(t)
		assert.Equal(t, "next", reply.Room.HostID)
		assert.Empty(t, reply.Room.Secret)

		event := next.awaitEvent(models.EventRoomUpdated, func(m models.EventMessage) bool {
			return m.Data.Room != nil && m.Data.Room.HostID == "next"
		})
		assert.NotEmpty(t, event.Data.Room.Secret, "the new host receives the rotated secret")
		assert.NotEqual(t, secret, event.Data.Room.Secret)

		host.request(ws.MsgRoomLeave, ws.RoomPayload{Code: code}).reply(t)
		next.awaitEvent(models.EventRoomExited, func(m models.EventMessage) bool { return m.Data.ParticipantID == "host" })
	})
}

func TestGatewaySeatTakeover(t *testing.T) {
	server, hub := setupGateway(t)

	host := dial(t, server)
	created := host.request(ws.MsgRoomCreate, ws.RoomPayload{ParticipantID: "host", Name: "Host"}).reply(t)
	code := created.Room.Code
	secret := created.Room.Secret

	guest := dial(t, server)
	guest.request(ws.MsgRoomJoin, ws.RoomPayload{Code: code, ParticipantID: "guest", Name: "Guest"}).reply(t)
	require.Equal(t, 2, hub.Subscribers(code))

	t.Run("HostSeatWithoutSecret", func(t *testing.T) {
		intruder := dial(t, server)
		f := intruder.request(ws.MsgRoomConnect, ws.RoomPayload{Code: code, ParticipantID: created.Room.HostID, Name: "Host"})
		require.NotNil(t, f.Error)
		assert.Equal(t, "unauthorized", f.Error.Code)

		f = intruder.request(ws.MsgRoomJoin, ws.RoomPayload{Code: code, ParticipantID: created.Room.HostID, Name: "Host"})
		require.NotNil(t, f.Error)
		assert.Equal(t, "unauthorized", f.Error.Code)
		assert.Equal(t, 2, hub.Subscribers(code))
	})

	t.Run("LiveSeat", func(t *testing.T) {
		intruder := dial(t, server)
		f := intruder.request(ws.MsgRoomJoin, ws.RoomPayload{Code: code, ParticipantID: "guest", Name: "Guest"})
		require.NotNil(t, f.Error)
		assert.Equal(t, "conflict", f.Error.Code)
		assert.Equal(t, 2, hub.Subscribers(code))
	})

	t.Run("ReplayedReconnect", func(t *testing.T) {
		require.NoError(t, guest.conn.Close())
		host.awaitEvent(models.EventRoomMembersUpdated, memberConnected("guest", false))

		first := dial(t, server)
		reply := first.request(ws.MsgRoomReconnect, ws.RoomPayload{ConnectionID: guest.connectionID}).reply(t)
		assert.Equal(t, "guest", reply.ParticipantID)
		require.Len(t, reply.Rooms, 1)
		assert.Empty(t, reply.Rooms[0].Secret)

		replay := dial(t, server)
		reply = replay.request(ws.MsgRoomReconnect, ws.RoomPayload{ConnectionID: guest.connectionID}).reply(t)
		assert.Empty(t, reply.ParticipantID)
		assert.Empty(t, reply.Rooms)

		// The replaying socket was never tied to the guest
		joined := replay.request(ws.MsgRoomJoin, ws.RoomPayload{Code: code, ParticipantID: "other", Name: "Other"}).reply(t)
		assert.Equal(t, "other", joined.ParticipantID)
	})

	t.Run("HostReattachesWithSecret", func(t *testing.T) {
		require.NoError(t, host.conn.Close())
		require.Eventually(t, func() bool { return hub.Subscribers(code) == 2 }, time.Second, 10*time.Millisecond)

		returning := dial(t, server)
		reply := returning.request(ws.MsgRoomConnect, ws.RoomPayload{Code: code, ParticipantID: "host", Name: "Host", Secret: secret}).reply(t)
		require.NotNil(t, reply.Room)
		assert.Equal(t, secret, reply.Room.Secret)
	})
}

func TestGatewayRejectsBadMessages(t *testing.T) {
	server, _ := setupGateway(t)
	c := dial(t, server)

	t.Run("UnknownType", func(t *testing.T) {
		f := c.request("room.explode", ws.RoomPayload{})
		require.NotNil(t, f.Error)
		assert.Equal(t, "invalid_input", f.Error.Code)
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		f := c.await(func(f frame) bool { return f.Type == ws.TypeError })
		require.NotNil(t, f.Error)
		assert.Equal(t, "invalid_input", f.Error.Code)
	})

	t.Run("UnknownRoom", func(t *testing.T) {
		f := c.request(ws.MsgRoomJoin, ws.RoomPayload{Code: "ZZZZZZ", ParticipantID: "p1", Name: "Player"})
		require.NotNil(t, f.Error)
		assert.Equal(t, "not_found", f.Error.Code)
	})

	t.Run("UnknownConnection", func(t *testing.T) {
		f := c.request(ws.MsgRoomReconnect, ws.RoomPayload{ConnectionID: "never-seen"})
		require.NotNil(t, f.Error)
		assert.Equal(t, "not_found", f.Error.Code)
	})
}
