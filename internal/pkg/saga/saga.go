package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Step is one forward action of a saga and the action that undoes it.
// Compensate may be nil for steps with nothing to undo.
type Step struct {
	Name       string
	Do         func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// ErrCompensation marks a failure while undoing completed steps. It is
// joined to the step error, so errors.Is still matches the original cause.
var ErrCompensation = errors.New("saga compensation failed")

// Saga runs steps in order and, when one fails, compensates the completed
// ones in reverse.
type Saga struct {
	name  string
	steps []Step
}

func New(name string) *Saga {
	return &Saga{name: name}
}

// Add appends a step and returns the saga for chaining.
func (s *Saga) Add(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run executes the saga. On failure it returns the failing step's error,
// joined with ErrCompensation if any undo also failed.
func (s *Saga) Run(ctx context.Context) error {
	done := make([]Step, 0, len(s.steps))

	for _, step := range s.steps {
		if err := step.Do(ctx); err != nil {
			log.Warn().
				Err(err).
				Str("saga", s.name).
				Str("step", step.Name).
				Int("compensations", len(done)).
				Msg("Saga step failed, compensating")

			if cerr := s.compensate(ctx, done); cerr != nil {
				return errors.Join(err, cerr)
			}
			return err
		}
		done = append(done, step)
	}
	return nil
}

// compensate runs on a context detached from cancellation so undo work is
// not abandoned when the caller's context expires mid-failure.
func (s *Saga) compensate(ctx context.Context, done []Step) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			log.Error().
				Err(err).
				Str("saga", s.name).
				Str("step", step.Name).
				Msg("Saga compensation failed")
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrCompensation, errors.Join(errs...))
}
