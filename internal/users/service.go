package users

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/caseus-app/caseus-backend/internal/auth"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUnknownUser indicates no identity maps to the requested canonical id.
	ErrUnknownUser = errors.New("users: unknown user")
)

const anonymousDisplayName = "Anonymous"

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Resolve returns the canonical profile for verified provider claims. It mints
// a new canonical user id when the provider+subject pair has not been seen
// before, and refreshes the stored profile fields on every later sign-in.
func (s *Service) Resolve(claims auth.ProviderClaims) (Profile, error) {
	provider := providerFromIssuer(claims.Issuer)
	subject := normalize(claims.Subject)
	if subject == "" {
		return Profile{}, ErrInvalidIdentity
	}

	var identity Identity
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      uuid.Must(uuid.NewV7()).String(),
			Email:       normalize(claims.Email),
			DisplayName: displayNameFrom(claims),
			AvatarURL:   normalize(claims.AvatarURL),
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return Profile{}, err
		}
	} else if err != nil {
		return Profile{}, err
	} else {
		updates := map[string]interface{}{}
		if email := normalize(claims.Email); email != "" && email != identity.Email {
			updates["user_email"] = email
			identity.Email = email
		}
		if display := displayNameFrom(claims); display != anonymousDisplayName && display != identity.DisplayName {
			updates["user_display_name"] = display
			identity.DisplayName = display
		}
		if avatar := normalize(claims.AvatarURL); avatar != "" && avatar != identity.AvatarURL {
			updates["user_avatar_url"] = avatar
			identity.AvatarURL = avatar
		}
		updates["last_seen_at"] = s.now()
		_ = s.db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error
	}

	profile := Profile{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
	}
	s.cache.Store(identity.UserID, profile)
	return profile, nil
}

// ProfileFor returns the stored profile for a canonical user id. Profiles
// cached by Resolve are served without a database read; Resolve re-stores
// the entry on every sign-in, so the cache never outlives a refresh.
func (s *Service) ProfileFor(userID string) (Profile, error) {
	trimmed := normalize(userID)
	if trimmed == "" {
		return Profile{}, ErrUnknownUser
	}
	if cached, ok := s.cache.Load(trimmed); ok {
		if profile, ok := cached.(Profile); ok {
			return profile, nil
		}
	}

	var identity Identity
	err := s.db.
		Where("user_id = ?", trimmed).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrUnknownUser
	}
	if err != nil {
		return Profile{}, err
	}
	profile := Profile{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
	}
	s.cache.Store(profile.UserID, profile)
	return profile, nil
}

// DisplayNameFor returns the author name chat messages should carry for the
// user. Unknown users fall back to the anonymous label rather than failing.
func (s *Service) DisplayNameFor(userID string) string {
	profile, err := s.ProfileFor(userID)
	if err != nil || profile.DisplayName == "" {
		return anonymousDisplayName
	}
	return profile.DisplayName
}

func displayNameFrom(claims auth.ProviderClaims) string {
	if name := normalize(claims.Name); name != "" {
		return name
	}
	if email := normalize(claims.Email); email != "" {
		if at := strings.IndexByte(email, '@'); at > 0 {
			return email[:at]
		}
		return email
	}
	return anonymousDisplayName
}

func providerFromIssuer(issuer string) string {
	trimmed := normalize(issuer)
	trimmed = strings.TrimPrefix(trimmed, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return "default"
	}
	return trimmed
}
