// internal/capture/capture.go

// Package capture persists screenshots and writes the per-task summary.
// Output is organized as {root}/{app}/{task}/step_{n}_{description}.png with
// a README.md alongside.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/xkilldash9x/uiguide-cli/internal/apps"
)

// Step numbers reserved for the bracketing captures of a run.
const (
	InitialStepNumber = 0
	FinalStepNumber   = 999
)

// Metadata carries the context a screenshot was taken in.
type Metadata struct {
	URL         string
	Title       string
	Step        string
	Explanation string
}

// Screenshot describes one persisted capture.
type Screenshot struct {
	StepNumber  int
	StateType   string
	Filename    string
	Filepath    string
	Description string
	URL         string
	Explanation string
	Timestamp   time.Time
}

// Manager writes screenshots and the task README into one task directory.
type Manager struct {
	taskName string
	appName  string
	dir      string
	count    int
	logger   *zap.Logger
}

// NewManager creates the task output directory under root and returns a
// manager bound to it.
func NewManager(root, taskName, appName string, logger *zap.Logger) (*Manager, error) {
	task := sanitizeTaskName(taskName)
	if task == "" {
		task = "unknown_task"
	}
	dir := filepath.Join(root, apps.DirName(appName), task)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &Manager{
		taskName: task,
		appName:  appName,
		dir:      dir,
		logger:   logger.Named("capture"),
	}, nil
}

// Dir returns the task output directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Count returns how many screenshots have been saved.
func (m *Manager) Count() int {
	return m.count
}

// Save writes one screenshot. The filename encodes the step number and a
// short description derived from the step text, falling back to the state
// type when the text yields nothing useful.
func (m *Manager) Save(stepNumber int, stateType string, data []byte, meta Metadata) (Screenshot, error) {
	desc := stepDescription(stateType, meta.Step)
	filename := fmt.Sprintf("step_%d_%s.png", stepNumber, desc)
	path := filepath.Join(m.dir, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Screenshot{}, fmt.Errorf("failed to write screenshot %s: %w", filename, err)
	}
	m.count++

	m.logger.Debug("Screenshot saved.",
		zap.String("file", filename),
		zap.String("state", stateType),
		zap.Int("step", stepNumber),
	)

	return Screenshot{
		StepNumber:  stepNumber,
		StateType:   stateType,
		Filename:    filename,
		Filepath:    path,
		Description: desc,
		URL:         meta.URL,
		Explanation: meta.Explanation,
		Timestamp:   time.Now(),
	}, nil
}

// WriteReadme writes the task summary next to the screenshots.
func (m *Manager) WriteReadme(taskDescription string, steps []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task: %s\n\n", taskDescription)
	if m.appName != "" {
		fmt.Fprintf(&b, "**Application:** %s\n\n", m.appName)
	}

	b.WriteString("## Steps Executed\n\n")
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}

	b.WriteString("\n## Screenshots\n\n")
	fmt.Fprintf(&b, "Total screenshots captured: %d\n\n", m.count)

	files, err := filepath.Glob(filepath.Join(m.dir, "step_*.png"))
	if err != nil {
		return fmt.Errorf("failed to list screenshots: %w", err)
	}
	if len(files) > 0 {
		sort.Strings(files)
		b.WriteString("### Screenshot Files\n\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- `%s`\n", filepath.Base(f))
		}
	}

	path := filepath.Join(m.dir, "README.md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write README: %w", err)
	}
	m.logger.Info("Task README written.", zap.String("path", path))
	return nil
}

// stepDescriptionSkipWords never carry meaning in a filename.
var stepDescriptionSkipWords = map[string]struct{}{
	"to": {}, "the": {}, "a": {}, "an": {}, "in": {}, "on": {}, "at": {},
	"for": {}, "and": {}, "or": {}, "click": {}, "fill": {}, "navigate": {},
}

// stepDescription distills the step text into a few filename-safe keywords.
func stepDescription(stateType, stepText string) string {
	if stepText != "" {
		var keywords []string
		for _, word := range strings.Fields(strings.ToLower(stepText)) {
			word = filenameSafe(word)
			if len(word) <= 2 {
				continue
			}
			if _, skip := stepDescriptionSkipWords[word]; skip {
				continue
			}
			keywords = append(keywords, word)
			if len(keywords) == 3 {
				break
			}
		}
		if len(keywords) > 0 {
			desc := strings.Join(keywords, "_")
			if len(desc) > 30 {
				desc = desc[:30]
			}
			return desc
		}
	}
	if stateType == "" {
		return "state"
	}
	return stateType
}

// sanitizeTaskName keeps letters, digits, dashes, and underscores; everything
// else becomes an underscore, and spaces join words.
func sanitizeTaskName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune(' ')
		default:
			b.WriteRune('_')
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
}

// filenameSafe strips characters that do not belong in a filename fragment.
func filenameSafe(word string) string {
	var b strings.Builder
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
