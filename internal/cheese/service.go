package cheese

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrNotFound indicates that no cheese exists with the given identifier.
	ErrNotFound = errors.New("cheese: not found")
	// ErrNotOwner indicates the caller does not own the cheese.
	ErrNotOwner = errors.New("cheese: not owned by caller")
	// ErrNotPublic indicates the cheese is not visible to non-owners.
	ErrNotPublic = errors.New("cheese: not public")

	noOpLogger = zap.NewNop()
)

// ServiceError carries a structured operation.reason code alongside the
// underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code exposes the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "cheese.service.new"
	opCreate        = "cheese.create"
	opGet           = "cheese.get"
	opList          = "cheese.list"
	opUpdate        = "cheese.update"
	opDelete        = "cheese.delete"
	opGallery       = "cheese.gallery"
	opLike          = "cheese.like"
	opUnlike        = "cheese.unlike"
	opOriginSummary = "cheese.origin_summary"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues identifiers for new cheeses.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the dependencies of the cheese service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service implements CRUD over tracked cheese batches plus the public
// gallery, likes and the origin summary backing the world map view.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Create stores a new cheese owned by ownerID and returns it.
func (s *Service) Create(ctx context.Context, ownerID string, input Input) (Cheese, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Cheese{}, newServiceError(opCreate, "missing_owner", ErrInvalidOwnerID)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Cheese{}, newServiceError(opCreate, "missing_name", ErrEmptyName)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Cheese{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	record := s.applyInput(Cheese{ID: id, OwnerID: ownerID}, input)
	record.Name = name
	if record.DateSeconds == 0 {
		record.DateSeconds = s.clock().UTC().Unix()
	}
	if record.Status == "" {
		record.Status = StatusPlanned
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("owner_id", ownerID))
		return Cheese{}, newServiceError(opCreate, "insert_failed", err)
	}
	return record, nil
}

// Get returns the cheese when the caller owns it or it is public.
func (s *Service) Get(ctx context.Context, callerID, cheeseID string) (Cheese, error) {
	record, err := s.load(ctx, opGet, cheeseID)
	if err != nil {
		return Cheese{}, err
	}
	if record.OwnerID != callerID && !record.Public {
		return Cheese{}, newServiceError(opGet, "not_visible", ErrNotPublic)
	}
	return record, nil
}

// ListByOwner returns all cheeses of one owner, most recent first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Cheese, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, newServiceError(opList, "missing_owner", ErrInvalidOwnerID)
	}
	var records []Cheese
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("date_s DESC").
		Find(&records).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return records, nil
}

// Update overwrites the caller-editable fields of an owned cheese.
func (s *Service) Update(ctx context.Context, callerID, cheeseID string, input Input) (Cheese, error) {
	record, err := s.load(ctx, opUpdate, cheeseID)
	if err != nil {
		return Cheese{}, err
	}
	if record.OwnerID != callerID {
		return Cheese{}, newServiceError(opUpdate, "not_owner", ErrNotOwner)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Cheese{}, newServiceError(opUpdate, "missing_name", ErrEmptyName)
	}

	record = s.applyInput(record, input)
	record.Name = name
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logError(opUpdate, "save_failed", err, zap.String("cheese_id", cheeseID))
		return Cheese{}, newServiceError(opUpdate, "save_failed", err)
	}
	return record, nil
}

// Delete removes an owned cheese and its likes.
func (s *Service) Delete(ctx context.Context, callerID, cheeseID string) error {
	record, err := s.load(ctx, opDelete, cheeseID)
	if err != nil {
		return err
	}
	if record.OwnerID != callerID {
		return newServiceError(opDelete, "not_owner", ErrNotOwner)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cheese_id = ?", cheeseID).Delete(&Like{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Cheese{ID: cheeseID}).Error
	})
	if err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("cheese_id", cheeseID))
		return newServiceError(opDelete, "delete_failed", err)
	}
	return nil
}

// Gallery returns public cheeses with their like counts, newest first.
func (s *Service) Gallery(ctx context.Context, limit int) ([]GalleryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []Cheese
	err := s.db.WithContext(ctx).
		Where("public = ?", true).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		s.logError(opGallery, "query_failed", err)
		return nil, newServiceError(opGallery, "query_failed", err)
	}

	entries := make([]GalleryEntry, 0, len(records))
	for _, record := range records {
		var likeCount int64
		if err := s.db.WithContext(ctx).Model(&Like{}).
			Where("cheese_id = ?", record.ID).
			Count(&likeCount).Error; err != nil {
			s.logError(opGallery, "like_count_failed", err, zap.String("cheese_id", record.ID))
			return nil, newServiceError(opGallery, "like_count_failed", err)
		}
		entries = append(entries, GalleryEntry{Cheese: record, LikeCount: likeCount})
	}
	return entries, nil
}

// Like records userID's like of a public cheese. Liking twice is a no-op.
func (s *Service) Like(ctx context.Context, userID, cheeseID string) error {
	record, err := s.load(ctx, opLike, cheeseID)
	if err != nil {
		return err
	}
	if !record.Public && record.OwnerID != userID {
		return newServiceError(opLike, "not_visible", ErrNotPublic)
	}
	like := Like{CheeseID: cheeseID, UserID: userID}
	err = s.db.WithContext(ctx).
		Where("cheese_id = ? AND user_id = ?", cheeseID, userID).
		FirstOrCreate(&like).Error
	if err != nil {
		s.logError(opLike, "insert_failed", err, zap.String("cheese_id", cheeseID))
		return newServiceError(opLike, "insert_failed", err)
	}
	return nil
}

// Unlike removes userID's like, if present.
func (s *Service) Unlike(ctx context.Context, userID, cheeseID string) error {
	err := s.db.WithContext(ctx).
		Where("cheese_id = ? AND user_id = ?", cheeseID, userID).
		Delete(&Like{}).Error
	if err != nil {
		s.logError(opUnlike, "delete_failed", err, zap.String("cheese_id", cheeseID))
		return newServiceError(opUnlike, "delete_failed", err)
	}
	return nil
}

// LikeCount returns the number of likes for a cheese.
func (s *Service) LikeCount(ctx context.Context, cheeseID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Like{}).
		Where("cheese_id = ?", cheeseID).
		Count(&count).Error
	if err != nil {
		s.logError(opLike, "count_failed", err, zap.String("cheese_id", cheeseID))
		return 0, newServiceError(opLike, "count_failed", err)
	}
	return count, nil
}

// OriginSummary aggregates public cheeses by milk origin, largest first.
func (s *Service) OriginSummary(ctx context.Context) ([]OriginCount, error) {
	var counts []OriginCount
	err := s.db.WithContext(ctx).Model(&Cheese{}).
		Select("milk_origin, COUNT(*) AS count").
		Where("public = ? AND milk_origin <> ''", true).
		Group("milk_origin").
		Order("count DESC").
		Find(&counts).Error
	if err != nil {
		s.logError(opOriginSummary, "query_failed", err)
		return nil, newServiceError(opOriginSummary, "query_failed", err)
	}
	return counts, nil
}

func (s *Service) load(ctx context.Context, operation, cheeseID string) (Cheese, error) {
	if strings.TrimSpace(cheeseID) == "" {
		return Cheese{}, newServiceError(operation, "missing_cheese_id", ErrInvalidCheeseID)
	}
	var record Cheese
	err := s.db.WithContext(ctx).Where("cheese_id = ?", cheeseID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Cheese{}, newServiceError(operation, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "select_failed", err, zap.String("cheese_id", cheeseID))
		return Cheese{}, newServiceError(operation, "select_failed", err)
	}
	return record, nil
}

func (s *Service) applyInput(record Cheese, input Input) Cheese {
	record.Description = strings.TrimSpace(input.Description)
	if input.DateSeconds > 0 {
		record.DateSeconds = input.DateSeconds
	}
	record.Status = input.Status
	record.MilkType = strings.TrimSpace(input.MilkType)
	record.MilkOrigin = strings.TrimSpace(input.MilkOrigin)
	record.MilkQuantityL = input.MilkQuantityL
	record.Public = input.Public
	record.Making = input.Making
	record.Ripening = input.Ripening
	record.Taste = input.Taste
	return record
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("cheese service error", attrs...)
}
