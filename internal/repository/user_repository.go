package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vantage-crm/vantage-api/internal/models"
)

// UserRepository reads CRM user (subject) records.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs the repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, first_name, last_name, company, role, active, compliance_status, compliance_updated_at, last_login, created_at, updated_at`

// FindByID fetches a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail fetches a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListConsents returns the subject's consent records.
func (r *UserRepository) ListConsents(ctx context.Context, userID string) ([]models.Consent, error) {
	const query = `SELECT id, user_id, consent_type, granted, granted_at, revoked_at, created_at
FROM consents WHERE user_id = $1 ORDER BY consent_type ASC`
	var consents []models.Consent
	if err := r.db.SelectContext(ctx, &consents, query, userID); err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	return consents, nil
}
