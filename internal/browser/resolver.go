// internal/browser/resolver.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Resolver locates UI elements described in natural language and interacts
// with them. Location runs through an ordered cascade of strategies; the first
// one that lands a click wins.
type Resolver struct {
	exec        Executor
	logger      *zap.Logger
	maxVariants int
	settleDelay time.Duration
}

// ClickResult reports which strategy found the element.
type ClickResult struct {
	Strategy   string
	CurrentURL string
}

// ResolveError is returned when every strategy failed. It carries how many
// strategies were tried and the first few per-strategy failures.
type ResolveError struct {
	Target          string
	TriedStrategies int
	Attempts        []string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("could not find element '%s'; tried %d strategies: %s",
		e.Target, e.TriedStrategies, strings.Join(e.Attempts, ", "))
}

// clickStrategy is one entry in the location cascade.
type clickStrategy struct {
	name string
	run  func(ctx context.Context, target string) (bool, error)
}

// NewResolver builds a Resolver on top of a page executor.
func NewResolver(exec Executor, maxVariants int, settleDelay time.Duration, logger *zap.Logger) *Resolver {
	if maxVariants <= 0 {
		maxVariants = 5
	}
	if settleDelay <= 0 {
		settleDelay = 2 * time.Second
	}
	return &Resolver{
		exec:        exec,
		logger:      logger.Named("resolver"),
		maxVariants: maxVariants,
		settleDelay: settleDelay,
	}
}

// Click resolves the target description to an element and clicks it.
func (r *Resolver) Click(ctx context.Context, target string) (ClickResult, error) {
	strategies := []clickStrategy{
		{"exact_text", func(ctx context.Context, t string) (bool, error) {
			return r.evalClick(ctx, clickByTextScript(t, true))
		}},
		{"partial_text", func(ctx context.Context, t string) (bool, error) {
			return r.evalClick(ctx, clickByTextScript(t, false))
		}},
		{"semantic_variant", r.clickBySemanticVariant},
		{"role", func(ctx context.Context, t string) (bool, error) {
			return r.evalClick(ctx, clickByRoleScript(t))
		}},
		{"attributes", func(ctx context.Context, t string) (bool, error) {
			return r.evalClick(ctx, clickByAttributesScript(t))
		}},
		{"css_selector", r.clickBySelector},
		{"keyboard", r.clickByKeyboard},
	}

	var attempts []string
	tried := 0

	for _, strategy := range strategies {
		tried++
		clicked, err := strategy.run(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return ClickResult{}, ctx.Err()
			}
			if len(attempts) < 3 {
				attempts = append(attempts, fmt.Sprintf("%s failed: %s", strategy.name, truncate(err.Error(), 50)))
			}
			continue
		}
		if !clicked {
			if len(attempts) < 3 {
				attempts = append(attempts, fmt.Sprintf("%s: no match", strategy.name))
			}
			continue
		}

		r.logger.Debug("Element clicked.",
			zap.String("target", target), zap.String("strategy", strategy.name))

		// Fixed settle delay so modals, forms, and dropdowns have time to appear.
		if err := wait(ctx, r.settleDelay); err != nil {
			return ClickResult{}, err
		}

		url, err := r.exec.CurrentURL(ctx)
		if err != nil {
			return ClickResult{}, fmt.Errorf("failed to read URL after click: %w", err)
		}
		return ClickResult{Strategy: strategy.name, CurrentURL: url}, nil
	}

	return ClickResult{}, &ResolveError{Target: target, TriedStrategies: tried, Attempts: attempts}
}

// Fill locates an input by label text, placeholder, or a nearby labelled
// sibling and sets its value.
func (r *Resolver) Fill(ctx context.Context, label, value string) error {
	var filled bool
	if err := r.exec.Evaluate(ctx, fillInputScript(label, value), &filled); err != nil {
		return fmt.Errorf("fill evaluation for '%s' failed: %w", label, err)
	}
	if !filled {
		return fmt.Errorf("could not find input for: %s", label)
	}
	if err := wait(ctx, r.settleDelay/4); err != nil {
		return err
	}
	return nil
}

func (r *Resolver) evalClick(ctx context.Context, script string) (bool, error) {
	var clicked bool
	if err := r.exec.Evaluate(ctx, script, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

// clickBySemanticVariant retries the text strategies with synonyms of the
// action verb and plain entity names.
func (r *Resolver) clickBySemanticVariant(ctx context.Context, target string) (bool, error) {
	for _, variant := range SemanticVariants(target, r.maxVariants) {
		if variant == target {
			continue
		}
		clicked, err := r.evalClick(ctx, clickByTextScript(variant, true))
		if err != nil {
			return false, err
		}
		if !clicked {
			clicked, err = r.evalClick(ctx, clickByTextScript(variant, false))
			if err != nil {
				return false, err
			}
		}
		if clicked {
			r.logger.Debug("Clicked by semantic variant.",
				zap.String("variant", variant), zap.String("target", target))
			return true, nil
		}
	}
	return false, nil
}

// clickBySelector treats the target as a raw CSS selector when it looks like one.
func (r *Resolver) clickBySelector(ctx context.Context, target string) (bool, error) {
	if !looksLikeSelector(target) {
		return false, nil
	}
	return r.evalClick(ctx, clickBySelectorScript(target))
}

var keyShortcutRe = regexp.MustCompile(`['"]?([A-Za-z])['"]?\s*[kK]ey`)

// clickByKeyboard handles step text like "press the 'C' key".
func (r *Resolver) clickByKeyboard(ctx context.Context, target string) (bool, error) {
	lower := strings.ToLower(target)
	if !strings.Contains(lower, "press") && !strings.Contains(lower, "key") {
		return false, nil
	}
	m := keyShortcutRe.FindStringSubmatch(target)
	if m == nil {
		return false, nil
	}
	key := strings.ToLower(m[1])
	if err := r.exec.PressKey(ctx, key); err != nil {
		return false, err
	}
	r.logger.Debug("Pressed keyboard shortcut.", zap.String("key", key))
	return true, nil
}

func looksLikeSelector(s string) bool {
	return strings.HasPrefix(s, ".") || strings.HasPrefix(s, "#") ||
		strings.HasPrefix(s, "[") || strings.Contains(s, " > ")
}

// actionSynonyms maps action verbs to interchangeable UI wordings.
var actionSynonyms = map[string][]string{
	"create": {"add", "new", "make", "+"},
	"add":    {"create", "new", "make", "+"},
	"new":    {"create", "add", "make", "+"},
	"edit":   {"update", "modify", "change"},
	"update": {"edit", "modify", "change"},
	"delete": {"remove", "trash", "archive"},
	"remove": {"delete", "trash", "archive"},
}

// commonEntities are the objects web apps most often create.
var commonEntities = []string{
	"project", "issue", "task", "board", "card", "page", "database", "workspace", "team",
}

// SemanticVariants generates alternate wordings for an action description,
// capped at limit entries. The original target is always first.
func SemanticVariants(target string, limit int) []string {
	lower := strings.ToLower(target)
	variants := []string{target}

	words := strings.Fields(lower)

	var actionVerb, entity string
	for i, word := range words {
		if _, ok := actionSynonyms[word]; ok {
			actionVerb = word
			if i+1 < len(words) {
				entity = strings.Join(words[i+1:], " ")
			}
			break
		}
	}

	if actionVerb != "" && entity != "" {
		for _, synonym := range actionSynonyms[actionVerb] {
			if synonym == "+" {
				variants = append(variants, "+ "+capitalize(entity))
			} else {
				variants = append(variants, capitalize(synonym)+" "+entity)
				variants = append(variants, capitalize(entity))
			}
		}
	}

	for _, entityWord := range commonEntities {
		if strings.Contains(lower, entityWord) {
			variants = append(variants, capitalize(entityWord))
			variants = append(variants, "+ "+capitalize(entityWord))
			break
		}
	}

	// Dedupe case-insensitively, preserving order.
	seen := make(map[string]struct{}, len(variants))
	result := make([]string, 0, len(variants))
	for _, v := range variants {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, v)
	}

	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// wait sleeps for d, honoring the context.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// jsString safely encodes a Go string as a JavaScript string literal.
func jsString(v string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}

// Shared helpers injected into every click script. Visibility follows the
// rendered box and computed style, not just DOM presence.
const clickHelpersJS = `
	const isVisible = (el) => {
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		return rect.width > 0 && rect.height > 0 && style.display !== 'none' &&
			style.visibility !== 'hidden' && style.opacity !== '0';
	};
	const doClick = (el) => {
		el.scrollIntoView({block: 'center', inline: 'center'});
		el.click();
		return true;
	};
	const clickableFor = (el) =>
		el.closest('button, a, [role="button"], [role="link"], [role="menuitem"]') || el;
`

func clickByTextScript(target string, exact bool) string {
	return fmt.Sprintf(`
(function(target, exact) {
	%s
	const wanted = target.trim().toLowerCase();
	if (!wanted) return false;
	let best = null;
	let bestLen = Infinity;
	for (const el of document.querySelectorAll('body *')) {
		const text = (el.innerText || '').trim();
		if (!text || text.length > 200) continue;
		const matches = exact ? text.toLowerCase() === wanted : text.toLowerCase().includes(wanted);
		if (!matches || !isVisible(el)) continue;
		if (text.length < bestLen) { best = el; bestLen = text.length; }
	}
	if (!best) return false;
	return doClick(clickableFor(best));
})(%s, %t)`, clickHelpersJS, jsString(target), exact)
}

func clickByRoleScript(target string) string {
	return fmt.Sprintf(`
(function(target) {
	%s
	const wanted = target.trim().toLowerCase();
	if (!wanted) return false;
	for (const el of document.querySelectorAll('button, [role="button"], a, [role="link"]')) {
		if (!isVisible(el)) continue;
		const name = ((el.getAttribute('aria-label') || '') + ' ' + (el.innerText || '')).toLowerCase();
		if (name.includes(wanted)) return doClick(el);
	}
	return false;
})(%s)`, clickHelpersJS, jsString(target))
}

func clickByAttributesScript(target string) string {
	return fmt.Sprintf(`
(function(target) {
	%s
	const dashed = target.trim().toLowerCase().replace(/\s+/g, '-');
	const selectors = [
		'[data-testid*=' + JSON.stringify(dashed) + ']',
		'[aria-label*=' + JSON.stringify(target) + ' i]',
		'[data-label*=' + JSON.stringify(target) + ' i]'
	];
	for (const sel of selectors) {
		let found = null;
		try { found = document.querySelector(sel); } catch (e) { continue; }
		if (found && isVisible(found)) return doClick(found);
	}
	const wanted = target.trim().toLowerCase();
	if (wanted) {
		for (const el of document.querySelectorAll('button, a')) {
			if (!isVisible(el)) continue;
			if ((el.innerText || '').trim().toLowerCase().includes(wanted)) return doClick(el);
		}
	}
	return false;
})(%s)`, clickHelpersJS, jsString(target))
}

func clickBySelectorScript(selector string) string {
	return fmt.Sprintf(`
(function(sel) {
	%s
	let el = null;
	try { el = document.querySelector(sel); } catch (e) { return false; }
	if (!el || !isVisible(el)) return false;
	return doClick(el);
})(%s)`, clickHelpersJS, jsString(selector))
}

func fillInputScript(label, value string) string {
	return fmt.Sprintf(`
(function(label, value) {
	%s
	const setValue = (input) => {
		const proto = input.tagName === 'TEXTAREA'
			? window.HTMLTextAreaElement.prototype
			: window.HTMLInputElement.prototype;
		const desc = Object.getOwnPropertyDescriptor(proto, 'value');
		input.focus();
		if (desc && desc.set) { desc.set.call(input, value); } else { input.value = value; }
		input.dispatchEvent(new Event('input', {bubbles: true}));
		input.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	};
	const wanted = label.trim().toLowerCase();
	if (!wanted) return false;

	for (const lab of document.querySelectorAll('label')) {
		if (!(lab.innerText || '').toLowerCase().includes(wanted)) continue;
		let input = null;
		const forId = lab.getAttribute('for');
		if (forId) input = document.getElementById(forId);
		if (!input) input = lab.querySelector('input, textarea');
		if (input && isVisible(input)) return setValue(input);
	}

	for (const input of document.querySelectorAll('input, textarea')) {
		const placeholder = (input.getAttribute('placeholder') || '').toLowerCase();
		if (placeholder.includes(wanted) && isVisible(input)) return setValue(input);
	}

	for (const el of document.querySelectorAll('body *')) {
		const text = (el.innerText || '').trim().toLowerCase();
		if (!text || text.length > 80 || !text.includes(wanted)) continue;
		const parent = el.parentElement;
		if (!parent) continue;
		const input = parent.querySelector('input, textarea');
		if (input && isVisible(input)) return setValue(input);
	}
	return false;
})(%s, %s)`, clickHelpersJS, jsString(label), jsString(value))
}
