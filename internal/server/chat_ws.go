package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/caseus-app/caseus-backend/internal/auth"
	"github.com/caseus-app/caseus-backend/internal/chat"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var chatUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
}

type chatCommand struct {
	Action      string `json:"action"`
	RoomID      string `json:"room_id,omitempty"`
	Text        string `json:"text,omitempty"`
	MessageType string `json:"message_type,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

type chatEvent struct {
	Event    string              `json:"event"`
	RoomID   string              `json:"room_id,omitempty"`
	Rooms    []chat.ChatRoom     `json:"rooms,omitempty"`
	Messages []chat.ChatMessage  `json:"messages,omitempty"`
	Users    []chat.UserPresence `json:"users,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// handleChatSocket authenticates the upgrade request, builds one chat service
// instance scoped to the connection, and bridges its live sequences onto the
// socket. All socket writes happen on a single goroutine.
func (h *httpHandler) handleChatSocket(c *gin.Context) {
	token, err := auth.TokenFromRequest(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("chat socket token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userName := h.users.DisplayNameFor(userID)

	conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	service, err := chat.NewService(c.Request.Context(), chat.ServiceConfig{
		Backend:       h.chatBackend,
		Logger:        h.logger,
		UserID:        userID,
		UserName:      userName,
		MessageWindow: h.messageWindow,
	})
	if err != nil {
		h.logger.Error("chat service construction failed", zap.Error(err))
		return
	}
	defer service.Close(context.Background())

	roomsCh, cancelRooms := service.Rooms()
	defer cancelRooms()
	messagesCh, cancelMessages := service.Messages()
	defer cancelMessages()
	onlineCh, cancelOnline := service.OnlineUsers()
	defer cancelOnline()

	outbound := make(chan chatEvent, 32)
	done := make(chan struct{})
	defer close(done)

	// Single-writer pump. Closing the connection on exit unblocks the read
	// loop below.
	go func() {
		defer conn.Close()
		for {
			select {
			case rooms, ok := <-roomsCh:
				if !ok {
					return
				}
				if conn.WriteJSON(chatEvent{Event: "rooms", Rooms: rooms}) != nil {
					return
				}
			case messages, ok := <-messagesCh:
				if !ok {
					return
				}
				if conn.WriteJSON(chatEvent{Event: "messages", RoomID: service.CurrentRoom(), Messages: messages}) != nil {
					return
				}
			case online, ok := <-onlineCh:
				if !ok {
					return
				}
				if conn.WriteJSON(chatEvent{Event: "online", Users: online}) != nil {
					return
				}
			case event := <-outbound:
				if conn.WriteJSON(event) != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		var command chatCommand
		if err := conn.ReadJSON(&command); err != nil {
			h.logger.Debug("chat socket closed", zap.String("user_id", userID), zap.Error(err))
			return
		}
		h.dispatchChatCommand(c.Request.Context(), service, command, outbound, done)
	}
}

func (h *httpHandler) dispatchChatCommand(ctx context.Context, service *chat.Service, command chatCommand, outbound chan<- chatEvent, done <-chan struct{}) {
	switch strings.TrimSpace(command.Action) {
	case "select_room":
		service.SelectRoom(ctx, command.RoomID)
	case "send_message":
		messageType := chat.MessageType(command.MessageType)
		if messageType == "" {
			messageType = chat.MessageTypeText
		}
		if _, err := service.SendMessage(ctx, command.Text, messageType); err != nil {
			sendEvent(outbound, done, chatEvent{Event: "error", Error: commandErrorCode(err)})
		}
	case "create_room":
		roomID, err := service.CreateRoom(ctx, command.Name, command.Description)
		if err != nil {
			sendEvent(outbound, done, chatEvent{Event: "error", Error: commandErrorCode(err)})
			return
		}
		sendEvent(outbound, done, chatEvent{Event: "room_created", RoomID: roomID})
	case "delete_room":
		if err := service.DeleteRoom(ctx, command.RoomID); err != nil {
			sendEvent(outbound, done, chatEvent{Event: "error", Error: commandErrorCode(err)})
		}
	case "delete_message":
		if err := service.DeleteMessage(ctx, command.MessageID, command.RoomID); err != nil {
			sendEvent(outbound, done, chatEvent{Event: "error", Error: commandErrorCode(err)})
		}
	case "history":
		limit := command.Limit
		if limit <= 0 || limit > h.historyLimit {
			limit = h.historyLimit
		}
		stream, cancel, err := service.MessageHistory(ctx, command.RoomID, limit)
		if err != nil {
			sendEvent(outbound, done, chatEvent{Event: "error", Error: commandErrorCode(err)})
			return
		}
		roomID := command.RoomID
		go func() {
			defer cancel()
			select {
			case messages, ok := <-stream:
				if ok {
					sendEvent(outbound, done, chatEvent{Event: "history", RoomID: roomID, Messages: messages})
				}
			case <-done:
			}
		}()
	default:
		sendEvent(outbound, done, chatEvent{Event: "error", Error: "unknown_action"})
	}
}

func sendEvent(outbound chan<- chatEvent, done <-chan struct{}, event chatEvent) {
	select {
	case outbound <- event:
	case <-done:
	}
}

func commandErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, chat.ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, chat.ErrNoRoomSelected):
		return "no_room_selected"
	case errors.Is(err, chat.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, chat.ErrEmptyRoomName):
		return "empty_room_name"
	case errors.Is(err, chat.ErrServiceClosed):
		return "closed"
	default:
		return "operation_failed"
	}
}
