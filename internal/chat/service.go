package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/caseus-app/caseus-backend/internal/rtdb"
	"go.uber.org/zap"
)

const (
	roomsPath        = "chats/rooms"
	messagesBasePath = "chats/messages"
	presencePath     = "chats/presence"

	defaultMessageWindow = 50
	defaultHistoryLimit  = 100
)

var (
	// ErrNotAuthenticated rejects mutating operations with no signed-in user.
	ErrNotAuthenticated = errors.New("chat: no authenticated user")
	// ErrNoRoomSelected rejects sends while no room is selected.
	ErrNoRoomSelected = errors.New("chat: no room selected")
	// ErrEmptyMessage rejects blank or whitespace-only message text.
	ErrEmptyMessage = errors.New("chat: message text is empty")
	// ErrEmptyRoomName rejects room creation with a blank name.
	ErrEmptyRoomName = errors.New("chat: room name is empty")
	// ErrServiceClosed rejects operations after Close.
	ErrServiceClosed = errors.New("chat: service closed")

	errMissingBackend = errors.New("chat: backend is required")
)

// seedRooms are written exactly once when the rooms path has no children.
var seedRooms = []ChatRoom{
	{Name: "General Chat", Description: "Open discussion for everyone"},
	{Name: "Cheese Making Tips", Description: "Techniques, recipes and troubleshooting"},
	{Name: "Local Producers", Description: "Find and talk to producers near you"},
}

// Backend is the slice of the realtime tree store the synchronization layer
// depends on. *rtdb.Store satisfies it.
type Backend interface {
	Write(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Append(ctx context.Context, path string, value any) (string, error)
	Delete(ctx context.Context, path string) error
	ReadOnce(ctx context.Context, path string) (rtdb.Snapshot, error)
	Subscribe(ctx context.Context, path string, query rtdb.Query) (<-chan rtdb.Snapshot, func(), error)
}

// ServiceConfig bundles the dependencies for one synchronization layer
// instance. UserID and UserName may be empty for a read-only observer;
// mutating operations then reject with ErrNotAuthenticated.
type ServiceConfig struct {
	Backend       Backend
	Logger        *zap.Logger
	Clock         func() time.Time
	UserID        string
	UserName      string
	MessageWindow int
}

// Service bridges the realtime tree into live sequences for the room list,
// the messages of the currently selected room and the online users, plus
// the imperative send/delete/create operations. Each instance owns its
// subscriptions and caches; callers obtain one per scope (for example per
// WebSocket connection) and must call Close exactly once when the scope ends.
type Service struct {
	backend  Backend
	logger   *zap.Logger
	clock    func() time.Time
	userID   string
	userName string
	window   int

	runCtx    context.Context
	runCancel context.CancelFunc

	mu             sync.Mutex
	closed         bool
	currentRoom    string
	generation     int64
	cancelRooms    func()
	cancelMessages func()
	cancelPresence func()

	rooms    *broadcaster[[]ChatRoom]
	messages *broadcaster[[]ChatMessage]
	online   *broadcaster[[]UserPresence]
}

// NewService seeds the default rooms when the rooms path is empty, begins
// the permanent rooms subscription and, for authenticated users, writes an
// online presence record and begins the presence subscription. Subscription
// registration failures are logged, not returned: the corresponding live
// sequence then simply never emits.
func NewService(ctx context.Context, cfg ServiceConfig) (*Service, error) {
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.MessageWindow
	if window <= 0 {
		window = defaultMessageWindow
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	service := &Service{
		backend:   cfg.Backend,
		logger:    logger,
		clock:     clock,
		userID:    strings.TrimSpace(cfg.UserID),
		userName:  strings.TrimSpace(cfg.UserName),
		window:    window,
		runCtx:    runCtx,
		runCancel: runCancel,
		rooms:     newBroadcaster[[]ChatRoom](),
		messages:  newBroadcaster[[]ChatMessage](),
		online:    newBroadcaster[[]UserPresence](),
	}

	service.bootstrap(ctx)
	service.startRooms()
	if service.userID != "" {
		service.goOnline(ctx)
		service.startPresence()
	}

	return service, nil
}

// bootstrap seeds the three default rooms when the rooms path has no
// children. Two instances starting concurrently against an empty store can
// both observe zero children and both seed; the duplicate rooms are
// advisory waste, not a correctness violation.
func (s *Service) bootstrap(ctx context.Context) {
	snapshot, err := s.backend.ReadOnce(ctx, roomsPath)
	if err != nil {
		s.logger.Error("rooms bootstrap read failed", zap.Error(err))
		return
	}
	if snapshot.HasChildren() {
		return
	}
	for _, seed := range seedRooms {
		room := seed
		room.MemberCount = 0
		room.Active = true
		room.CreatedAt = s.clock().UnixMilli()
		room.CreatedBy = "system"
		room.Type = RoomTypePublic
		room.Status = RoomStatusActive
		if _, err := s.backend.Append(ctx, roomsPath, room); err != nil {
			s.logger.Error("room seed failed", zap.String("room", seed.Name), zap.Error(err))
		}
	}
}

func (s *Service) startRooms() {
	stream, cancel, err := s.backend.Subscribe(s.runCtx, roomsPath, rtdb.Query{})
	if err != nil {
		s.logger.Error("rooms subscription failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.cancelRooms = cancel
	s.mu.Unlock()
	go s.consumeRooms(stream)
}

func (s *Service) startPresence() {
	stream, cancel, err := s.backend.Subscribe(s.runCtx, presencePath, rtdb.Query{})
	if err != nil {
		s.logger.Error("presence subscription failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.cancelPresence = cancel
	s.mu.Unlock()
	go s.consumeOnline(stream)
}

func (s *Service) goOnline(ctx context.Context) {
	record := UserPresence{
		UserID:   s.userID,
		Online:   true,
		LastSeen: s.clock().UnixMilli(),
	}
	if err := s.backend.Write(ctx, presenceKey(s.userID), record); err != nil {
		s.logger.Error("presence write failed", zap.String("user_id", s.userID), zap.Error(err))
	}
}

// Rooms returns the live room-list sequence. Every change anywhere under the
// rooms path re-emits the full, freshly decoded list.
func (s *Service) Rooms() (<-chan []ChatRoom, func()) {
	return s.rooms.Subscribe()
}

// Messages returns the live message sequence of the currently selected room,
// newest first.
func (s *Service) Messages() (<-chan []ChatMessage, func()) {
	return s.messages.Subscribe()
}

// OnlineUsers returns the live sequence of users currently marked online.
func (s *Service) OnlineUsers() (<-chan []UserPresence, func()) {
	return s.online.Subscribe()
}

// CurrentRoom returns the identifier of the selected room, or empty.
func (s *Service) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRoom
}

// SelectRoom tears down the previous room's message subscription, records
// roomID as current, subscribes to the room's most recent messages and
// writes the caller's presence. Failures are logged, not surfaced. Each call
// advances the subscription generation; a callback from a superseded
// generation is discarded, so a stale subscription can never publish after
// SelectRoom returns.
func (s *Service) SelectRoom(ctx context.Context, roomID string) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" || strings.Contains(roomID, "/") {
		// A blank id would subscribe to the whole messages base path and a
		// slash would escape the room's subtree.
		s.logger.Warn("room selection rejected", zap.String("room_id", roomID))
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.generation++
	generation := s.generation
	if s.cancelMessages != nil {
		s.cancelMessages()
		s.cancelMessages = nil
	}
	s.currentRoom = roomID
	s.mu.Unlock()

	stream, cancel, err := s.backend.Subscribe(s.runCtx, messagesPath(roomID), rtdb.Query{
		OrderBy:     "timestamp",
		LimitToLast: s.window,
	})
	if err != nil {
		s.logger.Error("message subscription failed", zap.String("room_id", roomID), zap.Error(err))
	} else {
		s.mu.Lock()
		if s.closed || s.generation != generation {
			s.mu.Unlock()
			cancel()
		} else {
			s.cancelMessages = cancel
			s.mu.Unlock()
			go s.consumeMessages(generation, roomID, stream)
		}
	}

	if s.userID != "" {
		record := UserPresence{
			UserID:      s.userID,
			Online:      true,
			LastSeen:    s.clock().UnixMilli(),
			CurrentRoom: roomID,
		}
		if err := s.backend.Write(ctx, presenceKey(s.userID), record); err != nil {
			s.logger.Error("presence write failed", zap.String("user_id", s.userID), zap.Error(err))
		}
	}
}

// SendMessage appends a message to the current room and overwrites the
// room's denormalized lastMessage field. The two writes are separate and
// not atomic: a failure between them leaves lastMessage stale while the
// message itself is durably stored.
func (s *Service) SendMessage(ctx context.Context, text string, messageType MessageType) (ChatMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ChatMessage{}, ErrServiceClosed
	}
	roomID := s.currentRoom
	s.mu.Unlock()
	if roomID == "" {
		return ChatMessage{}, ErrNoRoomSelected
	}
	if s.userID == "" {
		return ChatMessage{}, ErrNotAuthenticated
	}
	if messageType == "" {
		messageType = MessageTypeText
	}

	message := ChatMessage{
		RoomID:    roomID,
		UserID:    s.userID,
		UserName:  s.userName,
		Text:      trimmed,
		Timestamp: s.clock().UnixMilli(),
		Type:      messageType,
	}

	id, err := s.backend.Append(ctx, messagesPath(roomID), message)
	if err != nil {
		s.logger.Error("message append failed", zap.String("room_id", roomID), zap.Error(err))
		return ChatMessage{}, err
	}
	message.ID = id

	if err := s.backend.Update(ctx, roomsPath+"/"+roomID, map[string]any{"lastMessage": message}); err != nil {
		s.logger.Error("last message update failed", zap.String("room_id", roomID), zap.Error(err))
		return message, err
	}

	return message, nil
}

// DeleteMessage removes the message node. Authorization is the backend
// rules' concern; the layer deletes whatever it is asked to delete.
func (s *Service) DeleteMessage(ctx context.Context, messageID, roomID string) error {
	if messageID == "" || roomID == "" {
		return rtdb.ErrInvalidPath
	}
	if err := s.backend.Delete(ctx, messagesPath(roomID)+"/"+messageID); err != nil {
		s.logger.Error("message delete failed",
			zap.String("room_id", roomID),
			zap.String("message_id", messageID),
			zap.Error(err))
		return err
	}
	return nil
}

// CreateRoom appends a new public room and returns its backend-assigned
// identifier.
func (s *Service) CreateRoom(ctx context.Context, name, description string) (string, error) {
	if s.userID == "" {
		return "", ErrNotAuthenticated
	}
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return "", ErrEmptyRoomName
	}

	room := ChatRoom{
		Name:        trimmedName,
		Description: strings.TrimSpace(description),
		MemberCount: 1,
		Active:      true,
		CreatedAt:   s.clock().UnixMilli(),
		CreatedBy:   s.userID,
		Type:        RoomTypePublic,
		Status:      RoomStatusActive,
	}
	id, err := s.backend.Append(ctx, roomsPath, room)
	if err != nil {
		s.logger.Error("room create failed", zap.String("name", trimmedName), zap.Error(err))
		return "", err
	}
	return id, nil
}

// DeleteRoom hard-deletes the room node and, separately, the entire message
// subtree. The two deletes are independent; a crash between them can leave
// orphaned messages, which is accepted.
func (s *Service) DeleteRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return rtdb.ErrInvalidPath
	}
	if err := s.backend.Delete(ctx, roomsPath+"/"+roomID); err != nil {
		s.logger.Error("room delete failed", zap.String("room_id", roomID), zap.Error(err))
		return err
	}
	if err := s.backend.Delete(ctx, messagesPath(roomID)); err != nil {
		s.logger.Error("room messages delete failed", zap.String("room_id", roomID), zap.Error(err))
		return err
	}
	return nil
}

// MessageHistory opens an independent live sequence over a room's recent
// messages, newest first, without disturbing the selected-room view. The
// sequence ends when the returned cancel function runs or the service
// closes.
func (s *Service) MessageHistory(ctx context.Context, roomID string, limit int) (<-chan []ChatMessage, func(), error) {
	if roomID == "" {
		return nil, nil, rtdb.ErrInvalidPath
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	stream, cancel, err := s.backend.Subscribe(s.runCtx, messagesPath(roomID), rtdb.Query{
		OrderBy:     "timestamp",
		LimitToLast: limit,
	})
	if err != nil {
		s.logger.Error("history subscription failed", zap.String("room_id", roomID), zap.Error(err))
		return nil, nil, err
	}

	out := make(chan []ChatMessage, broadcastBuffer)
	go func() {
		defer close(out)
		for {
			select {
			case snapshot, ok := <-stream:
				if !ok {
					return
				}
				select {
				case out <- s.decodeMessages(roomID, snapshot):
				default:
				}
			case <-s.runCtx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}

// Close tears down the rooms, message and presence subscriptions and writes
// a best-effort offline presence record. It is safe to call more than once;
// only the first call has effect.
func (s *Service) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	cancels := []func(){s.cancelRooms, s.cancelMessages, s.cancelPresence}
	s.cancelRooms, s.cancelMessages, s.cancelPresence = nil, nil, nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
	s.runCancel()

	if s.userID != "" {
		record := UserPresence{
			UserID:   s.userID,
			Online:   false,
			LastSeen: s.clock().UnixMilli(),
		}
		if err := s.backend.Write(ctx, presenceKey(s.userID), record); err != nil {
			s.logger.Warn("offline presence write failed", zap.String("user_id", s.userID), zap.Error(err))
		}
	}

	s.rooms.Close()
	s.messages.Close()
	s.online.Close()
}

func (s *Service) consumeRooms(stream <-chan rtdb.Snapshot) {
	for {
		select {
		case snapshot, ok := <-stream:
			if !ok {
				return
			}
			s.rooms.Publish(s.decodeRooms(snapshot))
		case <-s.runCtx.Done():
			return
		}
	}
}

func (s *Service) consumeMessages(generation int64, roomID string, stream <-chan rtdb.Snapshot) {
	for {
		select {
		case snapshot, ok := <-stream:
			if !ok {
				return
			}
			list := s.decodeMessages(roomID, snapshot)
			s.mu.Lock()
			stale := s.generation != generation
			s.mu.Unlock()
			if stale {
				return
			}
			s.messages.Publish(list)
		case <-s.runCtx.Done():
			return
		}
	}
}

func (s *Service) consumeOnline(stream <-chan rtdb.Snapshot) {
	for {
		select {
		case snapshot, ok := <-stream:
			if !ok {
				return
			}
			s.online.Publish(s.decodeOnline(snapshot))
		case <-s.runCtx.Done():
			return
		}
	}
}

func (s *Service) decodeRooms(snapshot rtdb.Snapshot) []ChatRoom {
	rooms := make([]ChatRoom, 0, len(snapshot.Children))
	for _, child := range snapshot.Children {
		var room ChatRoom
		if err := json.Unmarshal(child.Raw, &room); err != nil {
			s.logger.Warn("room decode failed", zap.String("key", child.Key), zap.Error(err))
			continue
		}
		room.ID = child.Key
		rooms = append(rooms, room)
	}
	return rooms
}

// decodeMessages re-sorts the server-side ascending window into descending
// timestamp order before publication; display order is defined by the
// timestamp field, not by arrival order.
func (s *Service) decodeMessages(roomID string, snapshot rtdb.Snapshot) []ChatMessage {
	messages := make([]ChatMessage, 0, len(snapshot.Children))
	for _, child := range snapshot.Children {
		var message ChatMessage
		if err := json.Unmarshal(child.Raw, &message); err != nil {
			s.logger.Warn("message decode failed", zap.String("key", child.Key), zap.Error(err))
			continue
		}
		message.ID = child.Key
		message.RoomID = roomID
		messages = append(messages, message)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].Timestamp != messages[j].Timestamp {
			return messages[i].Timestamp > messages[j].Timestamp
		}
		return messages[i].ID > messages[j].ID
	})
	return messages
}

func (s *Service) decodeOnline(snapshot rtdb.Snapshot) []UserPresence {
	users := make([]UserPresence, 0, len(snapshot.Children))
	for _, child := range snapshot.Children {
		var record UserPresence
		if err := json.Unmarshal(child.Raw, &record); err != nil {
			s.logger.Warn("presence decode failed", zap.String("key", child.Key), zap.Error(err))
			continue
		}
		if !record.Online {
			continue
		}
		record.UserID = child.Key
		users = append(users, record)
	}
	return users
}

func messagesPath(roomID string) string {
	return messagesBasePath + "/" + roomID
}

func presenceKey(userID string) string {
	return presencePath + "/" + userID
}
