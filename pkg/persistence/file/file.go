// Package file provides file-based persistence: one JSON document per record under a root directory.
package file

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fractal-assets/flowengine/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// A single lock serializes writes so execution and workflow counter updates stay consistent.
type Persistence struct {
	root string

	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	userRepo      *UserRepository
	dealRepo      *DealRepository
	templateRepo  *EmailTemplateRepository
}

// NewPersistence creates the root directory if needed and wires the repositories.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	if err := os.MkdirAll(cleanRoot, 0750); err != nil {
		return nil, fmt.Errorf("failed to create persistence root %s: %w", cleanRoot, err)
	}

	s := &store{root: cleanRoot, mu: &sync.RWMutex{}}

	workflows := &WorkflowRepository{store: s}

	return &Persistence{
		root:          cleanRoot,
		workflowRepo:  workflows,
		executionRepo: &ExecutionRepository{store: s, workflows: workflows},
		userRepo:      &UserRepository{store: s},
		dealRepo:      &DealRepository{store: s},
		templateRepo:  &EmailTemplateRepository{store: s},
	}, nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) UserRepository() persistence.UserRepository {
	return fp.userRepo
}

func (fp *Persistence) DealRepository() persistence.DealRepository {
	return fp.dealRepo
}

func (fp *Persistence) EmailTemplateRepository() persistence.EmailTemplateRepository {
	return fp.templateRepo
}
