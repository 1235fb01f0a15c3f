package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fractal-assets/flowengine/pkg/cmd"
	"github.com/fractal-assets/flowengine/pkg/eventbus"
	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/log"
	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/registry"
	cli "github.com/urfave/cli/v3"
)

var (
	ErrMissingFile      = errors.New("a workflow definition file is required")
	ErrInvalidWorkflows = errors.New("invalid workflows found")
)

func NewWorkflowsCommand() *cli.Command {
	return &cli.Command{
		Name:    "workflows",
		Aliases: []string{"w"},
		Usage:   "Validate and import workflow definitions",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Aliases:   []string{"v"},
				Usage:     "Check a workflow definition file without storing it",
				ArgsUsage: "<file.json>",
				Flags:     []cli.Flag{databaseURLFlag(), pluginsPathFlag()},
				Action: func(ctx context.Context, command *cli.Command) error {
					return withDefinitions(ctx, command, func(_ persistence.Persistence, _ []*models.Workflow) error {
						return nil
					})
				},
			},
			{
				Name:      "import",
				Aliases:   []string{"i"},
				Usage:     "Validate a workflow definition file and store its workflows",
				ArgsUsage: "<file.json>",
				Flags:     []cli.Flag{databaseURLFlag(), pluginsPathFlag()},
				Action: func(ctx context.Context, command *cli.Command) error {
					return withDefinitions(ctx, command, func(store persistence.Persistence, workflows []*models.Workflow) error {
						out := command.Root().Writer

						for _, wf := range workflows {
							if err := store.WorkflowRepository().Save(ctx, wf); err != nil {
								return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
							}

							_, _ = fmt.Fprintf(out, "imported %s (%s)\n", wf.Name, wf.ID)
						}

						return nil
					})
				},
			},
		},
	}
}

// withDefinitions loads and checks the file named by the first argument, prints a report and
// hands the workflows to fn only when every one of them is valid.
func withDefinitions(
	ctx context.Context,
	command *cli.Command,
	fn func(persistence.Persistence, []*models.Workflow) error,
) error {
	path := command.Args().First()
	if path == "" {
		return ErrMissingFile
	}

	logger := log.WithModule("flowengine").With("action", command.Name)

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	reg, err := cmd.NewRegistry(logger, command.String("plugins-path"), store, discardPublisher{})
	if err != nil {
		return err
	}

	workflows, err := loadWorkflows(path)
	if err != nil {
		return err
	}

	out := command.Root().Writer
	invalid := 0

	for _, wf := range workflows {
		if err := checkWorkflow(reg, wf); err != nil {
			invalid++

			_, _ = fmt.Fprintf(out, "INVALID %s (%s): %v\n", wf.Name, wf.ID, err)

			continue
		}

		_, _ = fmt.Fprintf(out, "ok      %s (%s): %d steps\n", wf.Name, wf.ID, len(wf.Steps))
	}

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidWorkflows, invalid, len(workflows))
	}

	return fn(store, workflows)
}

// loadWorkflows reads a file holding one workflow object or an array of them.
func loadWorkflows(path string) ([]*models.Workflow, error) {
	f, err := os.Open(path) // #nosec G304 -- path is an operator supplied argument
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return decodeWorkflows(f)
}

func decodeWorkflows(r io.Reader) ([]*models.Workflow, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)

	if bytes.HasPrefix(raw, []byte("[")) {
		var workflows []*models.Workflow
		if err := json.Unmarshal(raw, &workflows); err != nil {
			return nil, fmt.Errorf("failed to parse workflows: %w", err)
		}

		return workflows, nil
	}

	var wf models.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}

	return []*models.Workflow{&wf}, nil
}

// checkWorkflow applies defaults, validates the step graph and makes sure every action step
// names a registered action.
func checkWorkflow(reg *registry.Registry, wf *models.Workflow) error {
	wf.ApplyDefaults()

	if err := wf.Validate(); err != nil {
		return err
	}

	var errs []error

	for _, step := range wf.Steps {
		if step.Type == models.StepTypeAction && !reg.HasAction(step.Action) {
			errs = append(errs, fmt.Errorf("step %s: %w: %s", step.ID, registry.ErrUnknownAction, step.Action))
		}
	}

	return errors.Join(errs...)
}

// discardPublisher satisfies the action factories when no execution will run.
type discardPublisher struct{}

var _ eventbus.EventPublisher = discardPublisher{}

func (discardPublisher) Publish(context.Context, string, events.Event) error {
	return nil
}
