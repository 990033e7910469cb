package photos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const jpegContentType = "image/jpeg"

var (
	// ErrPositionOutOfRange indicates a slot outside the album's 1..count range.
	ErrPositionOutOfRange = errors.New("photos: position out of range")
	// ErrInvalidOrder indicates a reorder request that is not a permutation of
	// the album's current slots.
	ErrInvalidOrder = errors.New("photos: order is not a permutation of the album")
)

// Photo is one album entry. Position is the 1-based slot encoded in the key.
type Photo struct {
	Key      string `json:"key"`
	Position int    `json:"position"`
	Size     int    `json:"size,omitempty"`
}

// AlbumService manages per-cheese photo albums on top of an ObjectStore.
// Photos occupy dense ordinal slots named {cheeseId}-{n}.jpeg; because object
// stores have no rename, removal and reordering rewrite the affected slots.
type AlbumService struct {
	store  ObjectStore
	logger *zap.Logger
}

// AlbumConfig carries the album service dependencies.
type AlbumConfig struct {
	Store  ObjectStore
	Logger *zap.Logger
}

// NewAlbumService validates the configuration and returns the service.
func NewAlbumService(cfg AlbumConfig) (*AlbumService, error) {
	if cfg.Store == nil {
		return nil, errors.New("photos: object store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlbumService{store: cfg.Store, logger: logger}, nil
}

// Add appends the image at the album's next free slot and returns its key.
func (s *AlbumService) Add(ctx context.Context, cheeseID string, data []byte) (Photo, error) {
	if strings.TrimSpace(cheeseID) == "" {
		return Photo{}, fmt.Errorf("%w: empty cheese id", ErrInvalidKey)
	}
	if len(data) == 0 {
		return Photo{}, errors.New("photos: empty image payload")
	}
	existing, err := s.List(ctx, cheeseID)
	if err != nil {
		return Photo{}, err
	}
	position := len(existing) + 1
	key := slotKey(cheeseID, position)
	if err := s.store.Put(ctx, key, data, jpegContentType); err != nil {
		s.logError("album.add", "store_write_failed", err, cheeseID)
		return Photo{}, err
	}
	return Photo{Key: key, Position: position, Size: len(data)}, nil
}

// List returns the album's photos ordered by slot.
func (s *AlbumService) List(ctx context.Context, cheeseID string) ([]Photo, error) {
	keys, err := s.store.List(ctx, albumPrefix(cheeseID))
	if err != nil {
		s.logError("album.list", "store_list_failed", err, cheeseID)
		return nil, err
	}
	photos := make([]Photo, 0, len(keys))
	for _, key := range keys {
		position, ok := slotPosition(cheeseID, key)
		if !ok {
			continue
		}
		photos = append(photos, Photo{Key: key, Position: position})
	}
	sort.Slice(photos, func(i, j int) bool { return photos[i].Position < photos[j].Position })
	return photos, nil
}

// Get reads the image at the given slot.
func (s *AlbumService) Get(ctx context.Context, cheeseID string, position int) ([]byte, error) {
	if position < 1 {
		return nil, ErrPositionOutOfRange
	}
	data, err := s.store.Get(ctx, slotKey(cheeseID, position))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, ErrPositionOutOfRange
	}
	return data, err
}

// Remove deletes the slot and shifts every later photo down one position so
// the album stays dense.
func (s *AlbumService) Remove(ctx context.Context, cheeseID string, position int) error {
	photos, err := s.List(ctx, cheeseID)
	if err != nil {
		return err
	}
	if position < 1 || position > len(photos) {
		return ErrPositionOutOfRange
	}
	for slot := position + 1; slot <= len(photos); slot++ {
		data, err := s.store.Get(ctx, slotKey(cheeseID, slot))
		if err != nil {
			s.logError("album.remove", "store_read_failed", err, cheeseID)
			return err
		}
		if err := s.store.Put(ctx, slotKey(cheeseID, slot-1), data, jpegContentType); err != nil {
			s.logError("album.remove", "store_write_failed", err, cheeseID)
			return err
		}
	}
	if err := s.store.Delete(ctx, slotKey(cheeseID, len(photos))); err != nil {
		s.logError("album.remove", "store_delete_failed", err, cheeseID)
		return err
	}
	return nil
}

// Reorder rewrites the album so that slot i holds the photo previously at
// order[i-1]. The order must be a permutation of 1..count.
func (s *AlbumService) Reorder(ctx context.Context, cheeseID string, order []int) error {
	photos, err := s.List(ctx, cheeseID)
	if err != nil {
		return err
	}
	if len(order) != len(photos) {
		return ErrInvalidOrder
	}
	seen := make(map[int]bool, len(order))
	for _, position := range order {
		if position < 1 || position > len(photos) || seen[position] {
			return ErrInvalidOrder
		}
		seen[position] = true
	}
	images := make([][]byte, len(order))
	for index, position := range order {
		data, err := s.store.Get(ctx, slotKey(cheeseID, position))
		if err != nil {
			s.logError("album.reorder", "store_read_failed", err, cheeseID)
			return err
		}
		images[index] = data
	}
	for index, data := range images {
		if err := s.store.Put(ctx, slotKey(cheeseID, index+1), data, jpegContentType); err != nil {
			s.logError("album.reorder", "store_write_failed", err, cheeseID)
			return err
		}
	}
	return nil
}

// Clear removes every photo in the album. Called when a cheese is deleted.
func (s *AlbumService) Clear(ctx context.Context, cheeseID string) error {
	photos, err := s.List(ctx, cheeseID)
	if err != nil {
		return err
	}
	for _, photo := range photos {
		if err := s.store.Delete(ctx, photo.Key); err != nil {
			s.logError("album.clear", "store_delete_failed", err, cheeseID)
			return err
		}
	}
	return nil
}

func (s *AlbumService) logError(operation string, reason string, err error, cheeseID string) {
	s.logger.Error("photo album operation failed",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("cheese_id", cheeseID),
		zap.Error(err),
	)
}

func albumPrefix(cheeseID string) string {
	return "cheeses/" + cheeseID
}

func slotKey(cheeseID string, position int) string {
	return fmt.Sprintf("cheeses/%s/%s-%d.jpeg", cheeseID, cheeseID, position)
}

func slotPosition(cheeseID string, key string) (int, bool) {
	prefix := albumPrefix(cheeseID) + "/" + cheeseID + "-"
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ".jpeg") {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".jpeg")
	position, err := strconv.Atoi(digits)
	if err != nil || position < 1 {
		return 0, false
	}
	return position, true
}
