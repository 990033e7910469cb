package rtdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultStreamBuffer = 16

var (
	errMissingDatabase = errors.New("rtdb: database handle is required")
	errNilValue        = errors.New("rtdb: value must not be nil")
)

// StoreConfig bundles the dependencies for a Store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	Logger     *zap.Logger
	BufferSize int
}

// Store implements the hierarchical realtime tree the client SDK exposes:
// write, append, update, delete, read-once and subscribe, with every
// mutation fanned out to overlapping listeners as a full snapshot.
type Store struct {
	db      *gorm.DB
	clock   func() time.Time
	logger  *zap.Logger
	pushIDs *pushIDSource

	// writeMu serializes mutations with snapshot evaluation so listeners
	// observe snapshots in mutation order.
	writeMu sync.Mutex

	mu          sync.RWMutex
	subscribers map[int64]*treeSubscriber
	nextID      int64
	bufferSize  int
}

type treeSubscriber struct {
	id     int64
	path   string
	query  Query
	stream chan Snapshot
	done   chan struct{}
}

// NewStore constructs a Store backed by the provided database handle.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultStreamBuffer
	}
	return &Store{
		db:          cfg.Database,
		clock:       clock,
		logger:      logger,
		pushIDs:     newPushIDSource(clock),
		subscribers: make(map[int64]*treeSubscriber),
		bufferSize:  bufferSize,
	}, nil
}

// Write stores value as the JSON document at path, replacing any existing
// document and any subtree beneath it.
func (s *Store) Write(ctx context.Context, rawPath string, value any) error {
	path, err := NormalizePath(rawPath)
	if err != nil {
		return err
	}
	if value == nil {
		return errNilValue
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("rtdb: encode value at %s: %w", path, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(subtreeCondition, path, likeChildren(path)).Delete(&Node{}).Error; err != nil {
			return err
		}
		node := Node{Path: path, Value: string(encoded), UpdatedAtMillis: s.clock().UnixMilli()}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&node).Error
	})
	if err != nil {
		return fmt.Errorf("rtdb: write %s: %w", path, err)
	}

	s.notify(ctx, path)
	return nil
}

// Update merges fields into the JSON document at path. Missing nodes are
// created from the fields alone.
func (s *Store) Update(ctx context.Context, rawPath string, fields map[string]any) error {
	path, err := NormalizePath(rawPath)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		document := map[string]any{}
		var node Node
		err := tx.Where("path = ?", path).Take(&node).Error
		if err == nil {
			if err := json.Unmarshal([]byte(node.Value), &document); err != nil {
				return fmt.Errorf("decode existing document: %w", err)
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		for key, value := range fields {
			if value == nil {
				delete(document, key)
				continue
			}
			document[key] = value
		}
		encoded, err := json.Marshal(document)
		if err != nil {
			return err
		}
		merged := Node{Path: path, Value: string(encoded), UpdatedAtMillis: s.clock().UnixMilli()}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&merged).Error
	})
	if err != nil {
		return fmt.Errorf("rtdb: update %s: %w", path, err)
	}

	s.notify(ctx, path)
	return nil
}

// Append stores value under a freshly generated push identifier below path
// and returns the identifier.
func (s *Store) Append(ctx context.Context, rawPath string, value any) (string, error) {
	path, err := NormalizePath(rawPath)
	if err != nil {
		return "", err
	}
	id := s.pushIDs.NewID()
	if err := s.Write(ctx, path+"/"+id, value); err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes the node at path together with its entire subtree.
func (s *Store) Delete(ctx context.Context, rawPath string) error {
	path, err := NormalizePath(rawPath)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.WithContext(ctx).Where(subtreeCondition, path, likeChildren(path)).Delete(&Node{}).Error; err != nil {
		return fmt.Errorf("rtdb: delete %s: %w", path, err)
	}

	s.notify(ctx, path)
	return nil
}

// ReadOnce returns a snapshot of the direct children below path without
// registering a listener.
func (s *Store) ReadOnce(ctx context.Context, rawPath string) (Snapshot, error) {
	path, err := NormalizePath(rawPath)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(ctx, path, Query{})
}

// Read decodes the single document stored at path into target.
func (s *Store) Read(ctx context.Context, rawPath string, target any) error {
	path, err := NormalizePath(rawPath)
	if err != nil {
		return err
	}
	var node Node
	err = s.db.WithContext(ctx).Where("path = ?", path).Take(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNodeNotFound
	}
	if err != nil {
		return fmt.Errorf("rtdb: read %s: %w", path, err)
	}
	return json.Unmarshal([]byte(node.Value), target)
}

// Subscribe registers a listener rooted at path. The current snapshot is
// delivered immediately; afterwards every overlapping mutation re-emits the
// full snapshot. The returned cancel function detaches the listener; a
// snapshot already buffered may still be received after cancellation.
func (s *Store) Subscribe(ctx context.Context, rawPath string, query Query) (<-chan Snapshot, func(), error) {
	path, err := NormalizePath(rawPath)
	if err != nil {
		return nil, nil, err
	}

	subscriber := &treeSubscriber{
		id:     s.nextSequence(),
		path:   path,
		query:  query,
		stream: make(chan Snapshot, s.bufferSize),
		done:   make(chan struct{}),
	}

	// writeMu is held while the initial snapshot is computed, the listener
	// registered and the snapshot enqueued, so a concurrent mutation lands
	// either in the initial snapshot or in a later notification. Without it
	// a mutation committed between the query and registration would enqueue
	// its snapshot ahead of the older initial one.
	s.writeMu.Lock()
	initial, err := s.snapshot(ctx, path, query)
	if err != nil {
		s.writeMu.Unlock()
		return nil, nil, err
	}
	s.mu.Lock()
	s.subscribers[subscriber.id] = subscriber
	s.mu.Unlock()
	subscriber.stream <- initial
	s.writeMu.Unlock()

	cancel := func() {
		s.mu.Lock()
		_, active := s.subscribers[subscriber.id]
		delete(s.subscribers, subscriber.id)
		s.mu.Unlock()
		if active {
			close(subscriber.done)
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-subscriber.done:
		}
	}()

	return subscriber.stream, cancel, nil
}

func (s *Store) nextSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *Store) snapshot(ctx context.Context, path string, query Query) (Snapshot, error) {
	var nodes []Node
	err := s.db.WithContext(ctx).
		Where(childrenCondition, likeChildren(path)).
		Order("path ASC").
		Find(&nodes).Error
	if err != nil {
		return Snapshot{}, fmt.Errorf("rtdb: snapshot %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(nodes))
	children := make([]ChildSnapshot, 0, len(nodes))
	for _, node := range nodes {
		key, ok := childKey(path, node.Path)
		if !ok {
			continue
		}
		if _, duplicate := seen[key]; duplicate {
			// A deeper descendant of an already collected child; the child
			// document itself carries the data the listeners decode.
			continue
		}
		seen[key] = struct{}{}
		raw := json.RawMessage(node.Value)
		if node.Path != path+"/"+key {
			// Child exists only through deeper descendants; expose it with
			// an empty document so its key is still visible.
			raw = json.RawMessage("{}")
		}
		children = append(children, ChildSnapshot{Key: key, Raw: raw})
	}

	return Snapshot{Path: path, Children: query.apply(children)}, nil
}

// notify re-evaluates and delivers snapshots for every listener overlapping
// the mutated path. Delivery is non-blocking: a listener that cannot keep up
// loses older buffered snapshots, never the newest one, so a consumer that
// resumes draining always converges on the latest state.
func (s *Store) notify(ctx context.Context, mutatedPath string) {
	s.mu.RLock()
	affected := make([]*treeSubscriber, 0, len(s.subscribers))
	for _, subscriber := range s.subscribers {
		if pathsOverlap(subscriber.path, mutatedPath) {
			affected = append(affected, subscriber)
		}
	}
	s.mu.RUnlock()

	for _, subscriber := range affected {
		snapshot, err := s.snapshot(ctx, subscriber.path, subscriber.query)
		if err != nil {
			s.logger.Error("snapshot evaluation failed",
				zap.String("path", subscriber.path),
				zap.Error(err))
			continue
		}
		select {
		case subscriber.stream <- snapshot:
		default:
			// Full buffer: evict the oldest buffered snapshot to make room.
			// Each buffered entry is a full snapshot, so skipping one loses
			// nothing the newer one does not carry.
			select {
			case <-subscriber.stream:
			default:
			}
			select {
			case subscriber.stream <- snapshot:
			default:
			}
		}
	}
}

const (
	subtreeCondition  = `path = ? OR path LIKE ? ESCAPE '\'`
	childrenCondition = `path LIKE ? ESCAPE '\'`
)

func likeChildren(path string) string {
	return escapeLike(path) + "/%"
}

// escapeLike neutralizes LIKE wildcards inside path segments.
func escapeLike(path string) string {
	replaced := make([]byte, 0, len(path))
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '%', '_', '\\':
			replaced = append(replaced, '\\')
		}
		replaced = append(replaced, path[i])
	}
	return string(replaced)
}
