package paginate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/h0rv/jex/internal/checkpoint"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a paginated job.
type State int

const (
	StateNotStarted State = iota
	StateInProgress
	StateRetry
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "in_progress"
	case StateRetry:
		return "retry"
	case StateComplete:
		return "complete"
	default:
		return "not_started"
	}
}

// Decision is the answer to the resume-or-discard question.
type Decision int

const (
	DecisionResume Decision = iota
	DecisionDiscard
)

// Prompter decides what to do with an unfinished checkpoint.
type Prompter interface {
	Decide(cp *checkpoint.Checkpoint) (Decision, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(cp *checkpoint.Checkpoint) (Decision, error)

// Decide calls f(cp).
func (f PrompterFunc) Decide(cp *checkpoint.Checkpoint) (Decision, error) { return f(cp) }

// Always returns a Prompter that gives the same answer without asking.
func Always(d Decision) Prompter {
	return PrompterFunc(func(*checkpoint.Checkpoint) (Decision, error) { return d, nil })
}

// Page is the outcome of one successful step.
type Page struct {
	Info    PageInfo
	Results []json.RawMessage // Appended to the checkpoint data block
}

// Step fetches the page at the cursor position.
type Step func(ctx context.Context, c Cursor) (Page, error)

// Options configures a Manager.
type Options struct {
	Key      string // Job kind stored in the checkpoint
	Query    string
	Kind     Kind
	PageSize int
	Prompter Prompter
	// OnDiscard releases whatever the results of a discarded checkpoint refer to.
	OnDiscard func(cp *checkpoint.Checkpoint) error
	Logger    zerolog.Logger
}

// Manager runs the pagination state machine of one job and persists a
// checkpoint after every page.
type Manager struct {
	store  *checkpoint.Store
	opts   Options
	log    zerolog.Logger
	state  State
	cursor Cursor
	cp     *checkpoint.Checkpoint
	begun  bool

	retries int
}

// NewManager creates a Manager backed by store.
func NewManager(store *checkpoint.Store, opts Options) *Manager {
	if opts.Prompter == nil {
		opts.Prompter = Always(DecisionResume)
	}
	return &Manager{
		store: store,
		opts:  opts,
		log:   opts.Logger.With().Str("job", opts.Key).Logger(),
		state: StateNotStarted,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return m.state }

// Cursor returns the current cursor, or nil before Begin.
func (m *Manager) Cursor() Cursor { return m.cursor }

// Retries returns the number of consecutive failed attempts at the current position.
func (m *Manager) Retries() int { return m.retries }

// Begin loads any existing checkpoint and positions the cursor.
// An unfinished checkpoint for the same query is resumed or discarded as the
// Prompter decides. It reports whether the job resumed.
func (m *Manager) Begin() (bool, error) {
	m.begun = true

	cp, err := m.store.Load()
	if err != nil {
		return false, err
	}

	if cp != nil {
		switch {
		case cp.Status == checkpoint.StatusComplete:
			m.log.Debug().Msg("dropping checkpoint of a completed job")
			if err := m.discard(cp); err != nil {
				return false, err
			}
		case cp.Query != m.opts.Query || cp.Key != m.opts.Key:
			m.log.Warn().Str("saved_query", cp.Query).Msg("checkpoint belongs to a different query; starting over")
			if err := m.discard(cp); err != nil {
				return false, err
			}
		default:
			decision, err := m.opts.Prompter.Decide(cp)
			if err != nil {
				return false, fmt.Errorf("resume prompt: %w", err)
			}
			if decision == DecisionResume {
				cursor, err := restoreCursor(m.opts.Kind, m.opts.PageSize, cp)
				if err != nil {
					return false, err
				}
				m.cp = cp
				m.cursor = cursor
				m.state = StateInProgress
				m.log.Info().Str("cursor", cursor.String()).Int("point", cp.Point).Msg("resuming from checkpoint")
				return true, nil
			}
			if err := m.discard(cp); err != nil {
				return false, err
			}
		}
	}

	m.cp = &checkpoint.Checkpoint{
		Key:       m.opts.Key,
		Query:     m.opts.Query,
		Status:    checkpoint.StatusNotStarted,
		DataBlock: []json.RawMessage{},
	}
	m.cursor = NewCursor(m.opts.Kind, m.opts.PageSize)
	m.state = StateNotStarted
	if err := m.store.Save(m.cp); err != nil {
		return false, err
	}
	return false, nil
}

func (m *Manager) discard(cp *checkpoint.Checkpoint) error {
	if m.opts.OnDiscard != nil {
		if err := m.opts.OnDiscard(cp); err != nil {
			return fmt.Errorf("discard checkpoint results: %w", err)
		}
	}
	return m.store.Clear()
}

// Run calls step until the cursor is exhausted and returns every result
// collected, including those restored from a resumed checkpoint.
// The checkpoint is saved after each page and before the next request, so an
// interruption loses at most the page in flight.
func (m *Manager) Run(ctx context.Context, step Step) ([]json.RawMessage, error) {
	if !m.begun {
		if _, err := m.Begin(); err != nil {
			return nil, err
		}
	}

	for !m.cursor.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m.state = StateInProgress
		page, err := step(ctx, m.cursor)
		if err != nil {
			return nil, fmt.Errorf("page at %s: %w", m.cursor, err)
		}
		m.retries = 0
		m.state = StateInProgress

		if err := m.cursor.Advance(page.Info); err != nil {
			return nil, err
		}

		m.cp.DataBlock = append(m.cp.DataBlock, page.Results...)
		m.cp.Point += page.Info.Rows
		m.cp.Status = checkpoint.StatusInProgress
		m.cursor.record(m.cp)
		if err := m.store.Save(m.cp); err != nil {
			return nil, err
		}

		m.log.Debug().Str("cursor", m.cursor.String()).Int("point", m.cp.Point).Msg("page saved")
	}

	m.state = StateComplete
	return m.cp.DataBlock, nil
}

// MarkRetry records a failed attempt at the current position.
func (m *Manager) MarkRetry(attempt int, err error) {
	m.state = StateRetry
	m.retries = attempt
	m.log.Warn().Err(err).Int("attempt", attempt).Msg("page fetch failed; retrying")
}

// Complete marks the job finished and deletes its checkpoint.
// It must only be called once the job's output has been written.
func (m *Manager) Complete() error {
	if m.state != StateComplete {
		return errors.New("pagination has not finished")
	}
	m.cp.Status = checkpoint.StatusComplete
	return m.store.Clear()
}
