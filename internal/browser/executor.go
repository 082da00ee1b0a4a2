// internal/browser/executor.go
package browser

import "context"

// Executor is the minimal page surface the Resolver and Detector need.
// Session implements it against a live tab; tests implement it with fakes.
type Executor interface {
	// Evaluate runs a JavaScript expression and unmarshals the result into res.
	Evaluate(ctx context.Context, script string, res interface{}) error
	// PressKey dispatches a key event to the focused element.
	PressKey(ctx context.Context, keys string) error
	// CurrentURL returns the URL of the active page.
	CurrentURL(ctx context.Context) (string, error)
}

var _ Executor = (*Session)(nil)
