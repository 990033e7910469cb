package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialChat(t *testing.T, env *testEnv, token string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/chat/ws?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial chat socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil drains events until one with the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string, match func(chatEvent) bool) chatEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	if err := conn.SetReadDeadline(deadline); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	for {
		var received chatEvent
		if err := conn.ReadJSON(&received); err != nil {
			t.Fatalf("waiting for %q event: %v", event, err)
		}
		if received.Event != event {
			continue
		}
		if match == nil || match(received) {
			return received
		}
	}
}

func TestChatSocketDeliversSeedRooms(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.tokenFor(t, ownerClaims())
	conn := dialChat(t, env, token)

	rooms := readUntil(t, conn, "rooms", func(e chatEvent) bool { return len(e.Rooms) == 3 })
	names := map[string]bool{}
	for _, room := range rooms.Rooms {
		names[room.Name] = true
	}
	for _, expected := range []string{"General Chat", "Cheese Making Tips", "Local Producers"} {
		if !names[expected] {
			t.Fatalf("missing seed room %q in %v", expected, names)
		}
	}
}

func TestChatSocketRoundTripMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	token, profile := env.tokenFor(t, ownerClaims())
	conn := dialChat(t, env, token)

	if err := conn.WriteJSON(chatCommand{Action: "create_room", Name: "Washed Rinds"}); err != nil {
		t.Fatalf("send create_room: %v", err)
	}
	created := readUntil(t, conn, "room_created", nil)
	if created.RoomID == "" {
		t.Fatal("expected room id in room_created event")
	}

	if err := conn.WriteJSON(chatCommand{Action: "select_room", RoomID: created.RoomID}); err != nil {
		t.Fatalf("send select_room: %v", err)
	}
	if err := conn.WriteJSON(chatCommand{Action: "send_message", Text: "anyone tried raw milk epoisses?"}); err != nil {
		t.Fatalf("send message: %v", err)
	}

	messages := readUntil(t, conn, "messages", func(e chatEvent) bool { return len(e.Messages) > 0 })
	found := messages.Messages[0]
	if found.Text != "anyone tried raw milk epoisses?" {
		t.Fatalf("unexpected message %+v", found)
	}
	if found.UserID != profile.UserID || found.UserName != profile.DisplayName {
		t.Fatalf("message author mismatch: %+v", found)
	}
}

func TestChatSocketReportsCommandErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.tokenFor(t, ownerClaims())
	conn := dialChat(t, env, token)

	// sending without a selected room
	if err := conn.WriteJSON(chatCommand{Action: "send_message", Text: "hello"}); err != nil {
		t.Fatalf("send message: %v", err)
	}
	event := readUntil(t, conn, "error", nil)
	if event.Error != "no_room_selected" {
		t.Fatalf("unexpected error code %q", event.Error)
	}

	if err := conn.WriteJSON(chatCommand{Action: "warp"}); err != nil {
		t.Fatalf("send unknown action: %v", err)
	}
	event = readUntil(t, conn, "error", nil)
	if event.Error != "unknown_action" {
		t.Fatalf("unexpected error code %q", event.Error)
	}
}

func TestChatSocketHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	token, _ := env.tokenFor(t, ownerClaims())
	conn := dialChat(t, env, token)

	if err := conn.WriteJSON(chatCommand{Action: "create_room", Name: "Archive"}); err != nil {
		t.Fatalf("send create_room: %v", err)
	}
	created := readUntil(t, conn, "room_created", nil)

	if err := conn.WriteJSON(chatCommand{Action: "select_room", RoomID: created.RoomID}); err != nil {
		t.Fatalf("send select_room: %v", err)
	}
	if err := conn.WriteJSON(chatCommand{Action: "send_message", Text: "first"}); err != nil {
		t.Fatalf("send message: %v", err)
	}
	readUntil(t, conn, "messages", func(e chatEvent) bool { return len(e.Messages) == 1 })

	if err := conn.WriteJSON(chatCommand{Action: "history", RoomID: created.RoomID, Limit: 10}); err != nil {
		t.Fatalf("send history: %v", err)
	}
	history := readUntil(t, conn, "history", nil)
	if history.RoomID != created.RoomID || len(history.Messages) != 1 {
		t.Fatalf("unexpected history event %+v", history)
	}
}
