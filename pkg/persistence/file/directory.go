package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
)

const (
	usersDir     = "users"
	dealsDir     = "deals"
	templatesDir = "email_templates"
)

type UserRepository struct {
	store *store
}

func (ur *UserRepository) FindByEmail(_ context.Context, email string) (*models.User, error) {
	ur.store.mu.RLock()
	defer ur.store.mu.RUnlock()

	users, err := list[models.User](ur.store, usersDir)
	if err != nil {
		return nil, err
	}

	for _, user := range users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", persistence.ErrUserNotFound, email)
}

func (ur *UserRepository) Save(_ context.Context, user *models.User) error {
	ur.store.mu.Lock()
	defer ur.store.mu.Unlock()

	return write(ur.store, usersDir, user.ID, user)
}

type DealRepository struct {
	store *store
}

func (dr *DealRepository) FindByID(_ context.Context, id string) (*models.Deal, error) {
	dr.store.mu.RLock()
	defer dr.store.mu.RUnlock()

	return dr.get(id)
}

func (dr *DealRepository) get(id string) (*models.Deal, error) {
	deal, err := read[models.Deal](dr.store, dealsDir, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrDealNotFound, id)
		}

		return nil, err
	}

	return deal, nil
}

func (dr *DealRepository) UpdateStatus(_ context.Context, id, status string) error {
	dr.store.mu.Lock()
	defer dr.store.mu.Unlock()

	deal, err := dr.get(id)
	if err != nil {
		return err
	}

	deal.Status = status
	deal.UpdatedAt = time.Now().UTC()

	return write(dr.store, dealsDir, id, deal)
}

func (dr *DealRepository) Save(_ context.Context, deal *models.Deal) error {
	dr.store.mu.Lock()
	defer dr.store.mu.Unlock()

	return write(dr.store, dealsDir, deal.ID, deal)
}

type EmailTemplateRepository struct {
	store *store
}

func (tr *EmailTemplateRepository) FindByID(_ context.Context, id string) (*models.EmailTemplate, error) {
	tr.store.mu.RLock()
	defer tr.store.mu.RUnlock()

	tmpl, err := read[models.EmailTemplate](tr.store, templatesDir, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrEmailTemplateNotFound, id)
		}

		return nil, err
	}

	return tmpl, nil
}

func (tr *EmailTemplateRepository) Save(_ context.Context, tmpl *models.EmailTemplate) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	return write(tr.store, templatesDir, tmpl.ID, tmpl)
}
