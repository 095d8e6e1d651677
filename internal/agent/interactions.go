package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// ActionType represents the type of interaction action
type ActionType string

const (
	// ActionTypeText types text into an input
	ActionTypeText ActionType = "type"
	// ActionClick performs a mouse click on an element
	ActionClick ActionType = "click"
	// ActionWait pauses execution for a specified duration
	ActionWait ActionType = "wait"
)

// Action represents a single interaction action to perform
type Action struct {
	// Type is the kind of action to execute
	Type ActionType
	// Selector is an XPath or CSS selector
	Selector string
	// Text is typed by ActionTypeText actions
	Text string
	// Duration is the wait time for wait actions
	Duration time.Duration
	// Timeout is the maximum time to wait for this action to complete
	Timeout time.Duration
	// Description is a human-readable description of this action
	Description string
}

// InteractionPlan represents a sequence of actions to execute
type InteractionPlan struct {
	// Name is a descriptive name for this interaction plan
	Name string
	// Actions is the ordered list of actions to execute
	Actions []Action
	// DefaultTimeout is the default timeout for actions that don't specify one
	DefaultTimeout time.Duration
}

// NewTypeAction creates an action that waits for an input and types text into it
func NewTypeAction(selector, text, description string) Action {
	return Action{
		Type:        ActionTypeText,
		Selector:    selector,
		Text:        text,
		Description: description,
	}
}

// NewClickAction creates a new click action
func NewClickAction(selector, description string) Action {
	return Action{
		Type:        ActionClick,
		Selector:    selector,
		Description: description,
	}
}

// NewWaitAction creates a new wait action
func NewWaitAction(duration time.Duration, description string) Action {
	return Action{
		Type:        ActionWait,
		Duration:    duration,
		Description: description,
	}
}

// ExecuteAction executes a single action using chromedp
func ExecuteAction(ctx context.Context, action Action, defaultTimeout time.Duration) error {
	timeout := action.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if timeout == 0 {
		timeout = DefaultWaitTimeout
	}

	switch action.Type {
	case ActionTypeText:
		return executeType(ctx, action, timeout)
	case ActionClick:
		return executeClick(ctx, action, timeout)
	case ActionWait:
		return executeWait(ctx, action)
	default:
		return fmt.Errorf("unknown action type: %s", action.Type)
	}
}

func executeType(ctx context.Context, action Action, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := chromedp.Run(timeoutCtx,
		chromedp.WaitVisible(action.Selector, chromedp.BySearch),
		chromedp.SendKeys(action.Selector, action.Text, chromedp.BySearch),
	)
	if err != nil {
		return waitError(action.Selector, timeout, err)
	}
	return nil
}

func executeClick(ctx context.Context, action Action, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := chromedp.Run(timeoutCtx,
		chromedp.WaitVisible(action.Selector, chromedp.BySearch),
		chromedp.Click(action.Selector, chromedp.BySearch),
	)
	if err != nil {
		return waitError(action.Selector, timeout, err)
	}
	return nil
}

func executeWait(ctx context.Context, action Action) error {
	select {
	case <-time.After(action.Duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecutePlan executes an entire interaction plan
func ExecutePlan(ctx context.Context, plan InteractionPlan) error {
	for i, action := range plan.Actions {
		if err := ExecuteAction(ctx, action, plan.DefaultTimeout); err != nil {
			return fmt.Errorf("failed to execute action %d (%s): %w", i, action.Description, err)
		}
	}
	return nil
}

// RunPlan executes plan against the managed browser
func (bm *BrowserManager) RunPlan(plan InteractionPlan) error {
	return ExecutePlan(bm.ctx, plan)
}
