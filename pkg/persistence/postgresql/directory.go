package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
)

type UserRepository struct {
	db *sql.DB
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, kyc_status
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.KYCStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrUserNotFound, email)
		}

		return nil, fmt.Errorf("failed to query user %s: %w", email, err)
	}

	return &user, nil
}

func (r *UserRepository) Save(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, first_name, last_name, kyc_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email
		  , first_name = EXCLUDED.first_name
		  , last_name = EXCLUDED.last_name
		  , kyc_status = EXCLUDED.kyc_status
	`, user.ID, user.Email, user.FirstName, user.LastName, user.KYCStatus)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", user.ID, err)
	}

	return nil
}

type DealRepository struct {
	db *sql.DB
}

func (r *DealRepository) FindByID(ctx context.Context, id string) (*models.Deal, error) {
	var deal models.Deal

	err := r.db.QueryRowContext(ctx, `SELECT id, name, status, updated_at FROM deals WHERE id = $1`, id).
		Scan(&deal.ID, &deal.Name, &deal.Status, &deal.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrDealNotFound, id)
		}

		return nil, fmt.Errorf("failed to query deal %s: %w", id, err)
	}

	return &deal, nil
}

func (r *DealRepository) UpdateStatus(ctx context.Context, id, status string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE deals SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update deal %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update deal %s: %w", id, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrDealNotFound, id)
	}

	return nil
}

func (r *DealRepository) Save(ctx context.Context, deal *models.Deal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deals (id, name, status, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , status = EXCLUDED.status
		  , updated_at = EXCLUDED.updated_at
	`, deal.ID, deal.Name, deal.Status)
	if err != nil {
		return fmt.Errorf("failed to save deal %s: %w", deal.ID, err)
	}

	return nil
}

type EmailTemplateRepository struct {
	db *sql.DB
}

func (r *EmailTemplateRepository) FindByID(ctx context.Context, id string) (*models.EmailTemplate, error) {
	var tmpl models.EmailTemplate

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, subject, html_body, text_body FROM email_templates WHERE id = $1
	`, id).Scan(&tmpl.ID, &tmpl.Name, &tmpl.Subject, &tmpl.HTMLBody, &tmpl.TextBody)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrEmailTemplateNotFound, id)
		}

		return nil, fmt.Errorf("failed to query email template %s: %w", id, err)
	}

	return &tmpl, nil
}

func (r *EmailTemplateRepository) Save(ctx context.Context, tmpl *models.EmailTemplate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_templates (id, name, subject, html_body, text_body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , subject = EXCLUDED.subject
		  , html_body = EXCLUDED.html_body
		  , text_body = EXCLUDED.text_body
	`, tmpl.ID, tmpl.Name, tmpl.Subject, tmpl.HTMLBody, tmpl.TextBody)
	if err != nil {
		return fmt.Errorf("failed to save email template %s: %w", tmpl.ID, err)
	}

	return nil
}
