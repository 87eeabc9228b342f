package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/navikt/zparty/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoom() *models.Room {
	now := time.Now()
	return &models.Room{
		Code: "ABC234",
		Members: []models.Member{
			{ParticipantID: "host", Name: "Host", ConnectionID: "c-host", IsHost: true, Connected: true},
			{ParticipantID: "guest", Name: "Guest", ConnectionID: "c-guest", Connected: true},
		},
		HostSecret: "s3cret",
		State:      models.RoomStateActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// receive decodes the next queued event for a client
func receive(t *testing.T, c *Client) models.EventMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var frame struct {
			Type    string              `json:"type"`
			Payload models.EventMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &frame))
		require.Equal(t, TypeEvent, frame.Type)
		return frame.Payload
	default:
		t.Fatal("no frame queued")
		return models.EventMessage{}
	}
}

func assertNothingQueued(t *testing.T, c *Client) {
	t.Helper()
	assert.Empty(t, c.send)
}

func subscribed(h *Hub, id, participantID, code string) *Client {
	c := h.Register(id)
	h.Identify(c, participantID)
	h.Subscribe(c, code)
	return c
}

func TestHubRendersPerViewer(t *testing.T) {
	h := NewHub()
	room := testRoom()

	host := subscribed(h, "c-host", "host", room.Code)
	guest := subscribed(h, "c-guest", "guest", room.Code)
	other := subscribed(h, "c-other", "other", "ZZZZZZ")
	// Claims the host identity without holding the host seat
	impostor := subscribed(h, "c-impostor", "host", room.Code)

	h.Notify(room.Code, models.NewRoomEvent(models.EventRoomUpdated, room, "host"))

	hostMsg := receive(t, host)
	require.NotNil(t, hostMsg.Data.Room)
	assert.Equal(t, "s3cret", hostMsg.Data.Room.Secret)

	impostorMsg := receive(t, impostor)
	require.NotNil(t, impostorMsg.Data.Room)
	assert.Empty(t, impostorMsg.Data.Room.Secret)

	guestMsg := receive(t, guest)
	require.NotNil(t, guestMsg.Data.Room)
	assert.Empty(t, guestMsg.Data.Room.Secret)

	assertNothingQueued(t, other)
}

func TestHubExitUnsubscribes(t *testing.T) {
	t.Run("Member", func(t *testing.T) {
		h := NewHub()
		room := testRoom()
		host := subscribed(h, "c-host", "host", room.Code)
		guest := subscribed(h, "c-guest", "guest", room.Code)

		room.RemoveMember("guest")
		h.Notify(room.Code, models.NewExitEvent(room.Code, models.ExitReasonKicked, "guest", room))

		assert.Equal(t, models.ExitReasonKicked, receive(t, guest).Data.Reason, "the kicked member hears about it")
		receive(t, host)
		assert.Equal(t, 1, h.Subscribers(room.Code))

		h.Notify(room.Code, models.NewRoomEvent(models.EventRoomMembersUpdated, room, "guest"))
		receive(t, host)
		assertNothingQueued(t, guest)
	})

	t.Run("RoomClosed", func(t *testing.T) {
		h := NewHub()
		room := testRoom()
		subscribed(h, "c-host", "host", room.Code)
		subscribed(h, "c-guest", "guest", room.Code)

		room.Members = nil
		room.State = models.RoomStateClosed
		h.Notify(room.Code, models.NewExitEvent(room.Code, models.ExitReasonRoomClosed, "host", room))

		assert.Equal(t, 0, h.Subscribers(room.Code))
	})
}

func TestHubUnregister(t *testing.T) {
	h := NewHub()
	room := testRoom()
	c := subscribed(h, "c-host", "host", room.Code)

	h.Unregister(c)
	h.Unregister(c)

	_, open := <-c.send
	assert.False(t, open, "send queue is closed")
	assert.Equal(t, 0, h.Subscribers(room.Code))

	assert.NotPanics(t, func() {
		h.Notify(room.Code, models.NewRoomEvent(models.EventRoomUpdated, room, "host"))
		h.Send(c, Frame{Type: TypeSession})
		h.Subscribe(c, room.Code)
	})
	assert.Equal(t, 0, h.Subscribers(room.Code))
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub()
	room := testRoom()
	c := subscribed(h, "c-host", "host", room.Code)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sendBuffer+10; i++ {
			h.Notify(room.Code, models.NewRoomEvent(models.EventRoomUpdated, room, "host"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full socket")
	}
	assert.Len(t, c.send, sendBuffer)
}
