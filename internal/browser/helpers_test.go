// internal/browser/helpers_test.go
package browser

import (
	"context"
	"encoding/json"
	"sync"
)

// fakeExecutor implements Executor for tests. Script evaluation is delegated
// to evalFn; pressed keys and evaluated scripts are recorded for inspection.
type fakeExecutor struct {
	mu sync.Mutex

	url    string
	urlErr error
	evalFn func(script string) (interface{}, error)

	scripts []string
	keys    []string
}

func (f *fakeExecutor) Evaluate(ctx context.Context, script string, res interface{}) error {
	f.mu.Lock()
	f.scripts = append(f.scripts, script)
	f.mu.Unlock()

	if f.evalFn == nil {
		return nil
	}
	value, err := f.evalFn(script)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, res)
}

func (f *fakeExecutor) PressKey(ctx context.Context, keys string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keys)
	return nil
}

func (f *fakeExecutor) CurrentURL(ctx context.Context) (string, error) {
	return f.url, f.urlErr
}

func (f *fakeExecutor) evaluatedScripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.scripts))
	copy(out, f.scripts)
	return out
}

func (f *fakeExecutor) pressedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}
