package chat

import (
	"errors"
	"testing"
)

func roomNames(rooms []ChatRoom) map[string]bool {
	names := make(map[string]bool, len(rooms))
	for _, room := range rooms {
		names[room.Name] = true
	}
	return names
}

func TestBootstrapSeedsDefaultRooms(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")

	stream, cancel := service.Rooms()
	defer cancel()

	rooms := waitFor(t, stream, func(rooms []ChatRoom) bool {
		return len(rooms) == 3
	}, "seeded room list")

	names := roomNames(rooms)
	for _, expected := range []string{"General Chat", "Cheese Making Tips", "Local Producers"} {
		if !names[expected] {
			t.Fatalf("expected seed room %q, got %v", expected, names)
		}
	}
	for _, room := range rooms {
		if room.ID == "" {
			t.Fatalf("expected backend-assigned identifier, got %+v", room)
		}
	}
}

func TestBootstrapAddsNothingWhenRoomsExist(t *testing.T) {
	backend := newTestBackend(t)
	first := newTestService(t, backend, "user-1", "Marie")
	first.Close(t.Context())

	second := newTestService(t, backend, "user-2", "Pierre")
	stream, cancel := second.Rooms()
	defer cancel()

	rooms := waitFor(t, stream, func(rooms []ChatRoom) bool {
		return len(rooms) >= 3
	}, "room list")
	if len(rooms) != 3 {
		t.Fatalf("expected bootstrap to add zero rooms, got %d", len(rooms))
	}
}

func TestCreateRoomReturnsBackendAssignedID(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")

	id, err := service.CreateRoom(t.Context(), "Alpine Cheeses", "Tomme and friends")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a room identifier")
	}

	var stored ChatRoom
	if err := backend.Read(t.Context(), roomsPath+"/"+id, &stored); err != nil {
		t.Fatalf("expected room node at assigned key: %v", err)
	}
	if stored.Name != "Alpine Cheeses" || stored.MemberCount != 1 {
		t.Fatalf("unexpected room payload: %+v", stored)
	}
	if stored.Type != RoomTypePublic || stored.Status != RoomStatusActive || !stored.Active {
		t.Fatalf("expected public active defaults, got %+v", stored)
	}
	if stored.CreatedBy != "user-1" {
		t.Fatalf("expected creator snapshot, got %q", stored.CreatedBy)
	}
}

func TestCreateRoomRequiresAuthenticatedUser(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "", "")

	if _, err := service.CreateRoom(t.Context(), "Orphan Room", ""); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSelectRoomRejectsBlankAndSlashIdentifiers(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")
	roomID, err := service.CreateRoom(t.Context(), "Ripening Logs", "")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	service.SelectRoom(t.Context(), roomID)
	if _, err := service.SendMessage(t.Context(), "first batch is in", MessageTypeText); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	stream, cancel := service.Messages()
	defer cancel()
	waitFor(t, stream, func(messages []ChatMessage) bool {
		return len(messages) == 1
	}, "selected room messages")

	// A blank id would subscribe to the whole messages base path and decode
	// each room subtree as a zero-valued message; a slash would escape the
	// room's subtree. Both leave the current selection untouched.
	for _, invalid := range []string{"", "   ", roomID + "/deeper"} {
		service.SelectRoom(t.Context(), invalid)
	}
	if current := service.CurrentRoom(); current != roomID {
		t.Fatalf("expected selection to remain %q, got %q", roomID, current)
	}
	expectNoValue(t, stream, func(messages []ChatMessage) bool {
		for _, message := range messages {
			if message.ID == "" || message.Timestamp == 0 {
				return true
			}
		}
		return false
	}, "zero-valued message")

	var presence UserPresence
	if err := backend.Read(t.Context(), presenceKey("user-1"), &presence); err != nil {
		t.Fatalf("unexpected presence read error: %v", err)
	}
	if presence.CurrentRoom != roomID {
		t.Fatalf("expected presence to keep room %q, got %q", roomID, presence.CurrentRoom)
	}
}

func TestSendMessageRejectsBlankText(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")
	roomID, err := service.CreateRoom(t.Context(), "Test Room", "")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	service.SelectRoom(t.Context(), roomID)

	if _, err := service.SendMessage(t.Context(), "   \t\n ", MessageTypeText); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	snapshot, err := backend.ReadOnce(t.Context(), messagesPath(roomID))
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if snapshot.HasChildren() {
		t.Fatalf("blank message must not reach the backend, found %d nodes", len(snapshot.Children))
	}
}

func TestSendMessageRejectsWithoutSelectedRoom(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")

	if _, err := service.SendMessage(t.Context(), "hello", MessageTypeText); !errors.Is(err, ErrNoRoomSelected) {
		t.Fatalf("expected ErrNoRoomSelected, got %v", err)
	}
}

func TestSendMessageRejectsWithoutUser(t *testing.T) {
	backend := newTestBackend(t)
	authed := newTestService(t, backend, "user-1", "Marie")
	roomID, err := authed.CreateRoom(t.Context(), "Test Room", "")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	anonymous := newTestService(t, backend, "", "")
	anonymous.SelectRoom(t.Context(), roomID)

	if _, err := anonymous.SendMessage(t.Context(), "hello", MessageTypeText); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSendMessageUpdatesDenormalizedLastMessage(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")
	roomID, err := service.CreateRoom(t.Context(), "Test Room", "")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	service.SelectRoom(t.Context(), roomID)

	sent, err := service.SendMessage(t.Context(), "hello", MessageTypeText)
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	if sent.ID == "" {
		t.Fatal("expected a message identifier")
	}
	if sent.UserName != "Marie" {
		t.Fatalf("expected author name snapshot, got %q", sent.UserName)
	}

	var room ChatRoom
	if err := backend.Read(t.Context(), roomsPath+"/"+roomID, &room); err != nil {
		t.Fatalf("unexpected room read error: %v", err)
	}
	if room.LastMessage == nil {
		t.Fatal("expected denormalized last message")
	}
	if room.LastMessage.Text != "hello" || room.LastMessage.Timestamp != sent.Timestamp {
		t.Fatalf("last message does not match sent message: %+v", room.LastMessage)
	}
}

func TestMessagesPublishedNewestFirstRegardlessOfInsertionOrder(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")
	roomID, err := service.CreateRoom(t.Context(), "Test Room", "")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	// Insert with timestamps deliberately out of order: 300, 100, 200.
	for _, timestamp := range []int64{300, 100, 200} {
		message := ChatMessage{UserID: "user-1", Text: "m", Timestamp: timestamp, Type: MessageTypeText}
		if _, err := backend.Append(t.Context(), messagesPath(roomID), message); err != nil {
			t.Fatalf("unexpected append error: %v", err)
		}
	}

	stream, cancel := service.Messages()
	defer cancel()
	service.SelectRoom(t.Context(), roomID)

	list := waitFor(t, stream, func(messages []ChatMessage) bool {
		return len(messages) == 3
	}, "message list")

	expected := []int64{300, 200, 100}
	for index, timestamp := range expected {
		if list[index].Timestamp != timestamp {
			t.Fatalf("expected descending timestamps %v, got %v at index %d",
				expected, list[index].Timestamp, index)
		}
	}
}

func TestSelectRoomDiscardsStaleSubscription(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")
	roomA, err := service.CreateRoom(t.Context(), "Room A", "")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	roomB, err := service.CreateRoom(t.Context(), "Room B", "")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	stream, cancel := service.Messages()
	defer cancel()

	service.SelectRoom(t.Context(), roomA)
	service.SelectRoom(t.Context(), roomB)
	if service.CurrentRoom() != roomB {
		t.Fatalf("expected current room %s, got %s", roomB, service.CurrentRoom())
	}

	// A write into room A must not surface through the selected-room stream.
	message := ChatMessage{UserID: "user-2", Text: "stray", Timestamp: 999, Type: MessageTypeText}
	if _, err := backend.Append(t.Context(), messagesPath(roomA), message); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	expectNoValue(t, stream, func(messages []ChatMessage) bool {
		for _, m := range messages {
			if m.RoomID == roomA {
				return true
			}
		}
		return false
	}, "message list from the deselected room")
}

func TestDeleteRoomRemovesRoomAndMessageSubtree(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")
	roomID, err := service.CreateRoom(t.Context(), "Doomed Room", "")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	service.SelectRoom(t.Context(), roomID)
	if _, err := service.SendMessage(t.Context(), "goodbye", MessageTypeText); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	if err := service.DeleteRoom(t.Context(), roomID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	var room ChatRoom
	if err := backend.Read(t.Context(), roomsPath+"/"+roomID, &room); err == nil {
		t.Fatal("expected room node to be absent")
	}
	snapshot, err := backend.ReadOnce(t.Context(), messagesPath(roomID))
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if snapshot.HasChildren() {
		t.Fatalf("expected message subtree to be absent, found %d nodes", len(snapshot.Children))
	}
}

func TestDeleteMessageRemovesNode(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")
	roomID, err := service.CreateRoom(t.Context(), "Test Room", "")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	service.SelectRoom(t.Context(), roomID)
	sent, err := service.SendMessage(t.Context(), "delete me", MessageTypeText)
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	if err := service.DeleteMessage(t.Context(), sent.ID, roomID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	var message ChatMessage
	if err := backend.Read(t.Context(), messagesPath(roomID)+"/"+sent.ID, &message); err == nil {
		t.Fatal("expected message node to be absent")
	}
}

func TestPresenceLifecycle(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")

	var record UserPresence
	if err := backend.Read(t.Context(), presenceKey("user-1"), &record); err != nil {
		t.Fatalf("expected presence record after construction: %v", err)
	}
	if !record.Online {
		t.Fatalf("expected online record, got %+v", record)
	}

	roomID, err := service.CreateRoom(t.Context(), "Test Room", "")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	service.SelectRoom(t.Context(), roomID)
	if err := backend.Read(t.Context(), presenceKey("user-1"), &record); err != nil {
		t.Fatalf("unexpected presence read error: %v", err)
	}
	if record.CurrentRoom != roomID {
		t.Fatalf("expected current room %s, got %q", roomID, record.CurrentRoom)
	}

	service.Close(t.Context())
	if err := backend.Read(t.Context(), presenceKey("user-1"), &record); err != nil {
		t.Fatalf("unexpected presence read error: %v", err)
	}
	if record.Online {
		t.Fatalf("expected offline record after close, got %+v", record)
	}
}

func TestOnlineUsersFiltersOfflineRecords(t *testing.T) {
	backend := newTestBackend(t)
	offline := UserPresence{UserID: "user-9", Online: false, LastSeen: 1}
	if err := backend.Write(t.Context(), presenceKey("user-9"), offline); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	service := newTestService(t, backend, "user-1", "Marie")
	stream, cancel := service.OnlineUsers()
	defer cancel()

	users := waitFor(t, stream, func(users []UserPresence) bool {
		return len(users) >= 1
	}, "online user list")
	for _, user := range users {
		if user.UserID == "user-9" {
			t.Fatalf("expected offline user to be filtered, got %v", users)
		}
	}
}

func TestMessageHistoryDoesNotDisturbSelectedRoom(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")
	roomA, err := service.CreateRoom(t.Context(), "Room A", "")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	roomB, err := service.CreateRoom(t.Context(), "Room B", "")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	service.SelectRoom(t.Context(), roomA)
	if _, err := service.SendMessage(t.Context(), "in room a", MessageTypeText); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	message := ChatMessage{UserID: "user-2", Text: "archive", Timestamp: 500, Type: MessageTypeText}
	if _, err := backend.Append(t.Context(), messagesPath(roomB), message); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	history, cancel, err := service.MessageHistory(t.Context(), roomB, 10)
	if err != nil {
		t.Fatalf("unexpected history error: %v", err)
	}
	defer cancel()

	list := waitFor(t, history, func(messages []ChatMessage) bool {
		return len(messages) == 1
	}, "history list")
	if list[0].Text != "archive" {
		t.Fatalf("unexpected history payload: %+v", list[0])
	}
	if service.CurrentRoom() != roomA {
		t.Fatalf("history must not change the selected room, got %s", service.CurrentRoom())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	backend := newTestBackend(t)
	service := newTestService(t, backend, "user-1", "Marie")
	service.Close(t.Context())
	service.Close(t.Context())

	if _, err := service.SendMessage(t.Context(), "late", MessageTypeText); !errors.Is(err, ErrServiceClosed) {
		t.Fatalf("expected ErrServiceClosed, got %v", err)
	}
}
