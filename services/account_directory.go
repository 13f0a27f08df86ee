package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/kendall-kelly/support-chat-api/repository"
	"gorm.io/gorm"
)

// AccountDirectory resolves account identities for the chat and notification layers
type AccountDirectory interface {
	Lookup(ctx context.Context, id uint) (*models.Account, error)
	LookupMany(ctx context.Context, ids []uint) (map[uint]models.Account, error)
	FindByAuth0ID(ctx context.Context, auth0ID string) (*models.Account, error)
	ListStaffIDs(ctx context.Context) ([]uint, error)
	EmailsFor(ctx context.Context, ids []uint) ([]string, error)
}

// GormAccountDirectory reads and writes the accounts table
type GormAccountDirectory struct {
	db       *gorm.DB
	accounts repository.Repository[models.Account]
}

// NewGormAccountDirectory creates an account directory on db
func NewGormAccountDirectory(db *gorm.DB) *GormAccountDirectory {
	return &GormAccountDirectory{
		db:       db,
		accounts: repository.NewGormRepository[models.Account](db),
	}
}

// Lookup loads one account; repository.ErrNotFound when it does not exist
func (d *GormAccountDirectory) Lookup(ctx context.Context, id uint) (*models.Account, error) {
	return d.accounts.GetByID(ctx, id)
}

// LookupMany loads the given accounts keyed by id; unknown ids are left out
func (d *GormAccountDirectory) LookupMany(ctx context.Context, ids []uint) (map[uint]models.Account, error) {
	result := make(map[uint]models.Account, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	accounts, err := d.accounts.Find(ctx, "id IN ?", ids)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		result[a.ID] = a
	}
	return result, nil
}

// FindByAuth0ID loads the account linked to an Auth0 subject
func (d *GormAccountDirectory) FindByAuth0ID(ctx context.Context, auth0ID string) (*models.Account, error) {
	accounts, err := d.accounts.Find(ctx, "auth0_id = ?", auth0ID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, repository.ErrNotFound
	}
	return &accounts[0], nil
}

// ListStaffIDs returns the ids of the staff pool
func (d *GormAccountDirectory) ListStaffIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := d.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("role = ?", models.RoleStaff).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	return ids, nil
}

// EmailsFor returns the email addresses of the given accounts
func (d *GormAccountDirectory) EmailsFor(ctx context.Context, ids []uint) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var emails []string
	err := d.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id IN ? AND email <> ''", ids).
		Order("id ASC").
		Pluck("email", &emails).Error
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	return emails, nil
}

// Register creates an account. A duplicate Auth0 id or email is a conflict.
func (d *GormAccountDirectory) Register(ctx context.Context, account *models.Account) error {
	if account.Role != models.RoleCustomer && account.Role != models.RoleStaff {
		return validationError("role must be customer or staff")
	}
	if err := d.accounts.Create(ctx, account); err != nil {
		if isUniqueViolation(err) {
			return conflictError("an account with this Auth0 ID or email already exists")
		}
		return err
	}
	return nil
}

// ProfileUpdate holds the editable profile fields; empty values are left unchanged
type ProfileUpdate struct {
	Name      string
	Email     string
	AvatarURL string
}

// UpdateProfile applies update to the account and returns the stored result
func (d *GormAccountDirectory) UpdateProfile(ctx context.Context, id uint, update ProfileUpdate) (*models.Account, error) {
	account, err := d.Lookup(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("account not found")
	}
	if err != nil {
		return nil, err
	}

	if update.Name != "" {
		account.Name = update.Name
	}
	if update.Email != "" {
		account.Email = update.Email
	}
	if update.AvatarURL != "" {
		account.AvatarURL = update.AvatarURL
	}

	if err := d.accounts.Update(ctx, account); err != nil {
		if isUniqueViolation(err) {
			return nil, conflictError("an account with this email already exists")
		}
		return nil, err
	}
	return account, nil
}
