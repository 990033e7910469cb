package cheese

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status tracks where a batch is in its production lifecycle.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusMaking    Status = "making"
	StatusRipening  Status = "ripening"
	StatusCompleted Status = "completed"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidCheeseID indicates an empty or oversized cheese identifier.
	ErrInvalidCheeseID = errors.New("cheese: invalid cheese id")
	// ErrInvalidOwnerID indicates an empty or oversized owner identifier.
	ErrInvalidOwnerID = errors.New("cheese: invalid owner id")
	// ErrEmptyName indicates a blank cheese name.
	ErrEmptyName = errors.New("cheese: name is required")
)

// CheeseID represents a validated cheese identifier.
type CheeseID string

// NewCheeseID validates raw input and returns a CheeseID.
func NewCheeseID(rawInput string) (CheeseID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCheeseID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCheeseID, maxIdentifierLength)
	}
	return CheeseID(trimmed), nil
}

// String returns the underlying string identifier.
func (id CheeseID) String() string {
	return string(id)
}

// MakingRecord captures the production-day details of a batch.
type MakingRecord struct {
	Date            string  `json:"date,omitempty"`
	MilkTemperature float64 `json:"milkTemperature,omitempty"`
	Starter         string  `json:"starter,omitempty"`
	Rennet          string  `json:"rennet,omitempty"`
	CurdlingMinutes int     `json:"curdlingMinutes,omitempty"`
	Notes           string  `json:"notes,omitempty"`
}

// RipeningRecord captures cave conditions and duration.
type RipeningRecord struct {
	StartDate    string  `json:"startDate,omitempty"`
	Location     string  `json:"location,omitempty"`
	TemperatureC float64 `json:"temperatureC,omitempty"`
	HumidityPct  float64 `json:"humidityPct,omitempty"`
	DurationDays int     `json:"durationDays,omitempty"`
	Notes        string  `json:"notes,omitempty"`
}

// TasteRecord captures the tasting outcome of a finished batch.
type TasteRecord struct {
	Date    string `json:"date,omitempty"`
	Texture string `json:"texture,omitempty"`
	Flavor  string `json:"flavor,omitempty"`
	Rating  int    `json:"rating,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// Cheese models one tracked batch. The nested making/ripening/taste records
// are optional and stored as JSON documents alongside the flat columns.
type Cheese struct {
	ID              string          `gorm:"column:cheese_id;primaryKey;size:190;not null" json:"id"`
	OwnerID         string          `gorm:"column:owner_id;size:190;not null;index:idx_cheeses_owner" json:"ownerId"`
	Name            string          `gorm:"column:name;size:320;not null" json:"name"`
	Description     string          `gorm:"column:description;type:text" json:"description,omitempty"`
	DateSeconds     int64           `gorm:"column:date_s;not null" json:"dateSeconds"`
	Status          Status          `gorm:"column:status;size:32;not null" json:"status"`
	MilkType        string          `gorm:"column:milk_type;size:64" json:"milkType,omitempty"`
	MilkOrigin      string          `gorm:"column:milk_origin;size:190;index:idx_cheeses_origin" json:"milkOrigin,omitempty"`
	MilkQuantityL   float64         `gorm:"column:milk_quantity_l" json:"milkQuantityLiters,omitempty"`
	Public          bool            `gorm:"column:public;not null;default:false;index:idx_cheeses_public" json:"public"`
	Making          *MakingRecord   `gorm:"column:making_json;serializer:json" json:"making,omitempty"`
	Ripening        *RipeningRecord `gorm:"column:ripening_json;serializer:json" json:"ripening,omitempty"`
	Taste           *TasteRecord    `gorm:"column:taste_json;serializer:json" json:"taste,omitempty"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Cheese) TableName() string {
	return "cheeses"
}

// Like records one user's like of a public cheese.
type Like struct {
	CheeseID  string    `gorm:"column:cheese_id;primaryKey;size:190;not null" json:"cheeseId"`
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"userId"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Like) TableName() string {
	return "cheese_likes"
}

// Input carries the caller-editable fields of a cheese.
type Input struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	DateSeconds   int64           `json:"dateSeconds"`
	Status        Status          `json:"status"`
	MilkType      string          `json:"milkType"`
	MilkOrigin    string          `json:"milkOrigin"`
	MilkQuantityL float64         `json:"milkQuantityLiters"`
	Public        bool            `json:"public"`
	Making        *MakingRecord   `json:"making"`
	Ripening      *RipeningRecord `json:"ripening"`
	Taste         *TasteRecord    `json:"taste"`
}

// GalleryEntry pairs a public cheese with its like count for list views.
type GalleryEntry struct {
	Cheese    Cheese `json:"cheese"`
	LikeCount int64  `json:"likeCount"`
}

// OriginCount aggregates public cheeses by milk origin for the world map.
type OriginCount struct {
	Origin string `gorm:"column:milk_origin" json:"origin"`
	Count  int64  `gorm:"column:count" json:"count"`
}
