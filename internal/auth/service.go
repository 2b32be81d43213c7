package auth

import (
	"errors"
	"fmt"
	"strings"

	"dq-engine/internal/storage"
	"dq-engine/internal/util"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// KeyPrefix marks a bearer credential as an API key rather than a JWT.
const KeyPrefix = "dq_"

var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrDuplicateName = errors.New("an api key with this name already exists")
)

type APIKeyService struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewAPIKeyService(db *gorm.DB, clock clockwork.Clock) *APIKeyService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &APIKeyService{DB: db, Clock: clock}
}

// CreateAPIKey returns the stored key and its plaintext. The plaintext is
// not recoverable afterwards.
func (s *APIKeyService) CreateAPIKey(name string) (*APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", errors.New("name is required")
	}

	prefix, err := util.RandomToken(6)
	if err != nil {
		return nil, "", err
	}
	secret, err := util.RandomToken(24)
	if err != nil {
		return nil, "", err
	}
	plain := KeyPrefix + prefix + "." + secret

	hashed, err := util.HashPassword(plain)
	if err != nil {
		return nil, "", err
	}

	key := APIKey{Name: name, Prefix: prefix, Hash: hashed}
	if err := s.DB.Create(&key).Error; err != nil {
		if storage.IsConflict(err) {
			return nil, "", ErrDuplicateName
		}
		return nil, "", fmt.Errorf("create api key: %w", err)
	}
	return &key, plain, nil
}

func (s *APIKeyService) ListAPIKeys() ([]APIKey, error) {
	var keys []APIKey
	if err := s.DB.Order("id ASC").Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *APIKeyService) RevokeAPIKey(globalID string) error {
	now := s.Clock.Now().UTC()
	res := s.DB.Model(&APIKey{}).
		Where("global_id = ? AND revoked_at IS NULL", globalID).
		Update("revoked_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// VerifyAPIKey checks a plaintext key and stamps its last use.
func (s *APIKeyService) VerifyAPIKey(plain string) (*APIKey, error) {
	rest, ok := strings.CutPrefix(plain, KeyPrefix)
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	prefix, _, ok := strings.Cut(rest, ".")
	if !ok || prefix == "" {
		return nil, ErrInvalidAPIKey
	}

	var key APIKey
	err := s.DB.Where("prefix = ? AND revoked_at IS NULL", prefix).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	if util.VerifyPassword(plain, key.Hash) != nil {
		return nil, ErrInvalidAPIKey
	}

	now := s.Clock.Now().UTC()
	key.LastUsedAt = &now
	if err := s.DB.Model(&key).Update("last_used_at", now).Error; err != nil {
		return nil, err
	}
	return &key, nil
}
