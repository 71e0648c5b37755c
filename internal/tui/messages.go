// Package tui provides the Bubble Tea prompt that asks whether to resume an
// unfinished export.
package tui

import "github.com/h0rv/jex/internal/paginate"

// DecisionMsg is emitted when the user picks resume or start over.
type DecisionMsg struct {
	Decision paginate.Decision
}

// QuitMsg is emitted when the user leaves the prompt without choosing.
type QuitMsg struct{}
