// Package gormstore implements the SigningKeyRepository and ApiKeyRepository
// interfaces over GORM with a Postgres driver, following the model/TableName
// conventions and AutoMigrate bootstrap gourdiantoken-master's
// gourdiantoken.repository.gorm.imp.go uses for its own token tables.
package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/internal/authcore/repository"
)

// signingKeyModel is the GORM row for a signing key lifecycle record.
type signingKeyModel struct {
	KeyID         string `gorm:"primaryKey;type:varchar(64)"`
	PrivateKeyPEM []byte
	PublicKeyPEM  []byte
	Algorithm     string `gorm:"type:varchar(16);not null"`
	Status        string `gorm:"type:varchar(16);index;not null"`
	CreatedAt     time.Time
	ActivatedAt   *time.Time
	DeprecatedAt  *time.Time
	RetiredAt     *time.Time
}

func (signingKeyModel) TableName() string { return "signing_keys" }

func toModel(rec repository.SigningKeyRecord) signingKeyModel {
	return signingKeyModel{
		KeyID: rec.KeyID, PrivateKeyPEM: rec.PrivateKeyPEM, PublicKeyPEM: rec.PublicKeyPEM,
		Algorithm: rec.Algorithm, Status: string(rec.Status), CreatedAt: rec.CreatedAt,
		ActivatedAt: rec.ActivatedAt, DeprecatedAt: rec.DeprecatedAt, RetiredAt: rec.RetiredAt,
	}
}

func fromModel(m signingKeyModel) repository.SigningKeyRecord {
	return repository.SigningKeyRecord{
		KeyID: m.KeyID, PrivateKeyPEM: m.PrivateKeyPEM, PublicKeyPEM: m.PublicKeyPEM,
		Algorithm: m.Algorithm, Status: repository.KeyStatus(m.Status), CreatedAt: m.CreatedAt,
		ActivatedAt: m.ActivatedAt, DeprecatedAt: m.DeprecatedAt, RetiredAt: m.RetiredAt,
	}
}

// SigningKeyStore implements repository.SigningKeyRepository over GORM.
type SigningKeyStore struct {
	db *gorm.DB
}

// NewSigningKeyStore validates the connection and auto-migrates the
// signing_keys table, mirroring NewGormTokenRepository's bootstrap steps.
func NewSigningKeyStore(db *gorm.DB) (*SigningKeyStore, error) {
	if db == nil {
		return nil, autherr.New(autherr.StateViolation, "gorm db must not be nil")
	}
	if err := db.AutoMigrate(&signingKeyModel{}); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "migrate signing_keys", err)
	}
	return &SigningKeyStore{db: db}, nil
}

func (s *SigningKeyStore) Store(ctx context.Context, rec repository.SigningKeyRecord) error {
	m := toModel(rec)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return autherr.Wrap(autherr.Transient, "insert signing key", err)
	}
	return nil
}

func (s *SigningKeyStore) FindActive(ctx context.Context) (*repository.SigningKeyRecord, error) {
	var m signingKeyModel
	err := s.db.WithContext(ctx).Where("status = ?", string(repository.KeyActive)).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "find active signing key", err)
	}
	rec := fromModel(m)
	return &rec, nil
}

func (s *SigningKeyStore) FindByID(ctx context.Context, id string) (*repository.SigningKeyRecord, error) {
	var m signingKeyModel
	err := s.db.WithContext(ctx).Where("key_id = ?", id).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "find signing key by id", err)
	}
	rec := fromModel(m)
	return &rec, nil
}

func (s *SigningKeyStore) FindByStatus(ctx context.Context, status repository.KeyStatus) ([]repository.SigningKeyRecord, error) {
	var ms []signingKeyModel
	if err := s.db.WithContext(ctx).Where("status = ?", string(status)).Find(&ms).Error; err != nil {
		return nil, autherr.Wrap(autherr.Transient, "find signing keys by status", err)
	}
	out := make([]repository.SigningKeyRecord, 0, len(ms))
	for _, m := range ms {
		out = append(out, fromModel(m))
	}
	return out, nil
}

func (s *SigningKeyStore) FindAll(ctx context.Context) ([]repository.SigningKeyRecord, error) {
	var ms []signingKeyModel
	if err := s.db.WithContext(ctx).Find(&ms).Error; err != nil {
		return nil, autherr.Wrap(autherr.Transient, "find all signing keys", err)
	}
	out := make([]repository.SigningKeyRecord, 0, len(ms))
	for _, m := range ms {
		out = append(out, fromModel(m))
	}
	return out, nil
}

func (s *SigningKeyStore) FindAllForVerification(ctx context.Context) ([]repository.SigningKeyRecord, error) {
	var ms []signingKeyModel
	statuses := []string{string(repository.KeyActive), string(repository.KeyDeprecated)}
	if err := s.db.WithContext(ctx).Where("status IN ?", statuses).Find(&ms).Error; err != nil {
		return nil, autherr.Wrap(autherr.Transient, "find verification signing keys", err)
	}
	out := make([]repository.SigningKeyRecord, 0, len(ms))
	for _, m := range ms {
		out = append(out, fromModel(m))
	}
	return out, nil
}

func (s *SigningKeyStore) UpdateStatus(ctx context.Context, id string, status repository.KeyStatus, at time.Time) error {
	updates := map[string]interface{}{"status": string(status)}
	switch status {
	case repository.KeyActive:
		updates["activated_at"] = at
	case repository.KeyDeprecated:
		updates["deprecated_at"] = at
	case repository.KeyRetired:
		updates["retired_at"] = at
	}
	if err := s.db.WithContext(ctx).Model(&signingKeyModel{}).Where("key_id = ?", id).Updates(updates).Error; err != nil {
		return autherr.Wrap(autherr.Transient, "update signing key status", err)
	}
	return nil
}

func (s *SigningKeyStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("key_id = ?", id).Delete(&signingKeyModel{}).Error; err != nil {
		return autherr.Wrap(autherr.Transient, "delete signing key", err)
	}
	return nil
}

// apiKeyModel is the GORM row for a hashed API key.
type apiKeyModel struct {
	KeyID       string `gorm:"primaryKey;type:varchar(16)"`
	Hash        string `gorm:"uniqueIndex;type:varchar(64);not null"`
	Name        string
	Description string
	Permissions string // comma-joined
	CreatedBy   string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Revoked     bool `gorm:"index"`
}

func (apiKeyModel) TableName() string { return "api_keys" }

// APIKeyStore implements repository.ApiKeyRepository over GORM.
type APIKeyStore struct {
	db *gorm.DB
}

func NewAPIKeyStore(db *gorm.DB) (*APIKeyStore, error) {
	if db == nil {
		return nil, autherr.New(autherr.StateViolation, "gorm db must not be nil")
	}
	if err := db.AutoMigrate(&apiKeyModel{}); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "migrate api_keys", err)
	}
	return &APIKeyStore{db: db}, nil
}

func joinPerms(perms []string) string {
	out := ""
	for i, p := range perms {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func splitPerms(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

func (s *APIKeyStore) Store(ctx context.Context, rec repository.APIKeyRecord) error {
	m := apiKeyModel{
		KeyID: rec.KeyID, Hash: rec.Hash, Name: rec.Name, Description: rec.Description,
		Permissions: joinPerms(rec.Permissions), CreatedBy: rec.CreatedBy,
		CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt, Revoked: rec.Revoked,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return autherr.Wrap(autherr.Transient, "insert api key", err)
	}
	return nil
}

func apiRecFromModel(m apiKeyModel) repository.APIKeyRecord {
	return repository.APIKeyRecord{
		KeyID: m.KeyID, Hash: m.Hash, Name: m.Name, Description: m.Description,
		Permissions: splitPerms(m.Permissions), CreatedBy: m.CreatedBy,
		CreatedAt: m.CreatedAt, ExpiresAt: m.ExpiresAt, Revoked: m.Revoked,
	}
}

func (s *APIKeyStore) FindByHash(ctx context.Context, hash string) (*repository.APIKeyRecord, error) {
	var m apiKeyModel
	err := s.db.WithContext(ctx).Where("hash = ?", hash).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "find api key by hash", err)
	}
	rec := apiRecFromModel(m)
	return &rec, nil
}

func (s *APIKeyStore) FindByKeyID(ctx context.Context, keyID string) (*repository.APIKeyRecord, error) {
	var m apiKeyModel
	err := s.db.WithContext(ctx).Where("key_id = ?", keyID).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "find api key by id", err)
	}
	rec := apiRecFromModel(m)
	return &rec, nil
}

func (s *APIKeyStore) FindAdmin(ctx context.Context) (*repository.APIKeyRecord, error) {
	var ms []apiKeyModel
	if err := s.db.WithContext(ctx).Where("revoked = ?", false).Find(&ms).Error; err != nil {
		return nil, autherr.Wrap(autherr.Transient, "find admin api key candidates", err)
	}
	for _, m := range ms {
		rec := apiRecFromModel(m)
		if rec.IsAdmin() {
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *APIKeyStore) Revoke(ctx context.Context, keyID string) error {
	err := s.db.WithContext(ctx).Model(&apiKeyModel{}).Where("key_id = ?", keyID).Update("revoked", true).Error
	if err != nil {
		return autherr.Wrap(autherr.Transient, "revoke api key", err)
	}
	return nil
}
