package dashboard

import (
	"sync"

	"github.com/3leaps/batchdeck/pkg/view"
)

// BusyLabel replaces a control's label while its action is in flight.
const BusyLabel = "Running..."

// Control is a trigger button owned by the dashboard.
//
// It is handed to TriggerJob explicitly so the action can disable it for the
// duration of the call and restore it on every exit path.
type Control struct {
	jobType string
	label   string

	mu       sync.Mutex
	disabled bool
}

// NewControl creates an enabled control for jobType.
func NewControl(jobType, label string) *Control {
	if label == "" {
		label = jobType
	}
	return &Control{jobType: jobType, label: label}
}

// JobType returns the job the control triggers.
func (c *Control) JobType() string {
	return c.jobType
}

// TryDisable disables the control. It returns false when the control was
// already disabled, i.e. its action is still in flight.
func (c *Control) TryDisable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return false
	}
	c.disabled = true
	return true
}

// Enable re-enables the control and restores its label.
func (c *Control) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = false
}

// Disabled reports whether the control's action is in flight.
func (c *Control) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// View returns the control's render model.
func (c *Control) View() view.Control {
	c.mu.Lock()
	defer c.mu.Unlock()
	label := c.label
	if c.disabled {
		label = BusyLabel
	}
	return view.Control{JobType: c.jobType, Label: label, Disabled: c.disabled}
}
