package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConflict is returned when the credential record changed between read and write.
var ErrConflict = errors.New("credential record was modified concurrently")

const maxUpdateAttempts = 3

// CredentialRepository is the durable store of the credential record. All mutations go through
// Update, which reads the whole record, applies mutate and writes it back in one statement.
type CredentialRepository interface {
	Get(ctx context.Context) (*Credential, error)
	Update(ctx context.Context, mutate func(c *Credential) error) (*Credential, error)
}

// gormCredentialRepo is a GORM-backed implementation of CredentialRepository.
// Use constructor NewCredentialRepository to obtain an instance.
type gormCredentialRepo struct{ db *gorm.DB }

// NewCredentialRepository creates a CredentialRepository. Accepts *gorm.DB to avoid global access.
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &gormCredentialRepo{db: db}
}

// Get returns the stored record, or DefaultCredential when nothing has been stored yet.
func (r *gormCredentialRepo) Get(ctx context.Context) (*Credential, error) {
	if r.db == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	var cred Credential
	err := r.db.WithContext(ctx).First(&cred, "id = ?", credentialID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultCredential(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential record: %w", err)
	}
	return &cred, nil
}

// Update performs a read-modify-write of the record. The write only succeeds if the version read
// is still current; on conflict the whole sequence is retried with a fresh read.
func (r *gormCredentialRepo) Update(ctx context.Context, mutate func(c *Credential) error) (*Credential, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		cred, err := r.Get(ctx)
		if err != nil {
			return nil, err
		}
		expected := cred.Version
		if err := mutate(cred); err != nil {
			return nil, err
		}
		err = r.save(ctx, cred, expected)
		if errors.Is(err, ErrConflict) {
			log.Warn().Int("attempt", attempt).Int64("version", expected).Msg("Credential record changed underneath us, retrying update")
			continue
		}
		if err != nil {
			return nil, err
		}
		return cred, nil
	}
	return nil, ErrConflict
}

func (r *gormCredentialRepo) save(ctx context.Context, cred *Credential, expected int64) error {
	cred.ID = credentialID
	cred.Version = expected + 1

	if expected == 0 {
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(cred)
		if res.Error != nil {
			return fmt.Errorf("failed to insert credential record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	}

	res := r.db.WithContext(ctx).Model(&Credential{}).
		Where("id = ? AND version = ?", credentialID, expected).
		Select("*").
		Updates(cred)
	if res.Error != nil {
		return fmt.Errorf("failed to update credential record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}
