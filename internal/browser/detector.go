// internal/browser/detector.go
package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// StateType classifies the UI state a snapshot landed in.
type StateType string

const (
	StateNavigation  StateType = "navigation"
	StateModal       StateType = "modal"
	StateForm        StateType = "form"
	StateDropdown    StateType = "dropdown"
	StateSuccess     StateType = "success"
	StateLoading     StateType = "loading"
	StateInteraction StateType = "interaction"
)

// PageState is the result of one detection pass.
type PageState struct {
	Type         StateType
	URL          string
	StateChanged bool
	URLChanged   bool
	Modals       []string
	Forms        int
	Dropdowns    int
	Success      []string
	Loading      bool
}

// Signature is the compact identity of the state, used for change detection.
func (p PageState) Signature() string {
	return fmt.Sprintf("%s_%d_%d_%d", p.URL, len(p.Modals), p.Forms, p.Dropdowns)
}

// Detector tracks UI state between interactions. Many states carry no URL
// change (modals, dropdowns, inline forms), so detection leans on DOM
// structure as much as on the address bar.
type Detector struct {
	exec   Executor
	logger *zap.Logger

	previousURL       string
	previousSignature string
}

// NewDetector creates a state detector bound to a page executor.
func NewDetector(exec Executor, logger *zap.Logger) *Detector {
	return &Detector{
		exec:   exec,
		logger: logger.Named("state_detector"),
	}
}

// Reset clears the remembered state. Must be called when the detector is
// pointed at a fresh app session, otherwise the first snapshot diffs against
// leftovers from the previous task.
func (d *Detector) Reset() {
	d.previousURL = ""
	d.previousSignature = ""
}

// stateSnapshotScript gathers the DOM facts for one detection pass.
const stateSnapshotScript = `
(function() {
	const isVisible = (el) => {
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		return rect.width > 0 && rect.height > 0 && style.display !== 'none' &&
			style.visibility !== 'hidden' && style.opacity !== '0';
	};

	const modalSelectors = [
		'[role="dialog"]', '.modal', '[class*="Modal"]', '[class*="Dialog"]',
		'[class*="Overlay"]', '[class*="Popup"]',
		'[data-testid*="modal"]', '[data-testid*="dialog"]'
	];
	const modals = [];
	for (const sel of modalSelectors) {
		for (const el of document.querySelectorAll(sel)) {
			if (!isVisible(el)) continue;
			const text = (el.innerText || '').slice(0, 50);
			modals.push(text ? sel + ': ' + text : sel);
		}
	}

	let forms = 0;
	for (const el of document.querySelectorAll('form, [role="form"]')) {
		if (isVisible(el)) forms++;
	}

	const dropdownSelectors = [
		'[role="menu"]', '[role="listbox"]', '[class*="Dropdown"]',
		'[class*="Menu"]', 'select[open]'
	];
	let dropdowns = 0;
	for (const sel of dropdownSelectors) {
		for (const el of document.querySelectorAll(sel)) {
			if (isVisible(el)) dropdowns++;
		}
	}

	const successTexts = ['success', 'created', 'saved', 'completed', 'done'];
	const bodyText = (document.body.innerText || '').toLowerCase();
	const success = successTexts.filter(t => bodyText.includes(t));

	const loadingSelectors = [
		'[class*="Loading"]', '[class*="Spinner"]',
		'[aria-busy="true"]', '[data-testid*="loading"]'
	];
	const loading = loadingSelectors.some(sel => document.querySelector(sel) !== null);

	return {modals: modals, forms: forms, dropdowns: dropdowns, success: success, loading: loading};
})()
`

type stateSnapshot struct {
	Modals    []string `json:"modals"`
	Forms     int      `json:"forms"`
	Dropdowns int      `json:"dropdowns"`
	Success   []string `json:"success"`
	Loading   bool     `json:"loading"`
}

// Detect takes a snapshot of the page, classifies it, and diffs it against
// the previous snapshot.
func (d *Detector) Detect(ctx context.Context) (PageState, error) {
	currentURL, err := d.exec.CurrentURL(ctx)
	if err != nil {
		return PageState{}, fmt.Errorf("failed to read URL for state detection: %w", err)
	}

	var snap stateSnapshot
	if err := d.exec.Evaluate(ctx, stateSnapshotScript, &snap); err != nil {
		return PageState{}, fmt.Errorf("state snapshot failed: %w", err)
	}

	urlChanged := currentURL != d.previousURL

	state := PageState{
		URL:        currentURL,
		URLChanged: urlChanged,
		Modals:     snap.Modals,
		Forms:      snap.Forms,
		Dropdowns:  snap.Dropdowns,
		Success:    snap.Success,
		Loading:    snap.Loading,
	}
	state.Type = classify(state)
	state.StateChanged = state.Signature() != d.previousSignature

	d.previousURL = currentURL
	d.previousSignature = state.Signature()

	d.logger.Debug("State detected.",
		zap.String("type", string(state.Type)),
		zap.Bool("changed", state.StateChanged),
		zap.String("url", currentURL),
	)
	return state, nil
}

// classify picks the state type by fixed priority: navigation wins over
// overlays, overlays over passive indicators.
func classify(s PageState) StateType {
	switch {
	case s.URLChanged:
		return StateNavigation
	case len(s.Modals) > 0:
		return StateModal
	case s.Forms > 0:
		return StateForm
	case s.Dropdowns > 0:
		return StateDropdown
	case len(s.Success) > 0:
		return StateSuccess
	case s.Loading:
		return StateLoading
	default:
		return StateInteraction
	}
}
