// Package poem holds the request controller behind the poem form: the theme
// the user typed, the last poem returned, and the busy flag that gates
// resubmission while a generation call is outstanding.
package poem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	themedPromptFormat = "Generate a 1-2 sentence poem about %s"
	randomPrompt       = "Generate a random 1-2 sentence poem"
)

var (
	// ErrBusy is returned while a submission is outstanding. No outbound
	// call is made.
	ErrBusy = errors.New("poem generation already in progress")
	// ErrGenerationFailed wraps every failure of the generation call.
	ErrGenerationFailed = errors.New("generation request failed")
)

// Generator is the outbound text-generation call.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Notice is a transient user-facing notification. Key is an i18n message key.
type Notice struct {
	Level string
	Key   string
}

const (
	NoticeGenerationFailed = "error.generation_failed"
	NoticeBusy             = "error.busy"
)

// State is a snapshot of the controller.
type State struct {
	Theme string `json:"theme"`
	Poem  string `json:"poem"`
	Busy  bool   `json:"busy"`
}

// BuildPrompt returns the instruction sent to the model. A blank theme asks
// for a random poem.
func BuildPrompt(theme string) string {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return randomPrompt
	}
	return fmt.Sprintf(themedPromptFormat, theme)
}

// Controller owns the state of one poem form.
type Controller struct {
	gen    Generator
	logger *zap.Logger

	mu      sync.Mutex
	theme   string
	poem    string
	busy    bool
	notices []Notice
}

func NewController(gen Generator, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{gen: gen, logger: logger}
}

// SetTheme replaces the theme. The input is disabled while busy, so the
// theme cannot change under an outstanding request.
func (c *Controller) SetTheme(theme string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	c.theme = theme
	return nil
}

// Submit generates a poem for the current theme. The busy flag is held for
// the duration of the call and released on every return path.
func (c *Controller) Submit(ctx context.Context) (string, error) {
	theme, ok := c.acquire()
	if !ok {
		return "", ErrBusy
	}
	defer c.release()

	prompt := BuildPrompt(theme)
	c.logger.Debug("Generating poem", zap.String("theme", theme), zap.String("prompt", prompt))

	text, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		c.logger.Warn("Poem generation failed", zap.String("theme", theme), zap.Error(err))
		c.notify(Notice{Level: "error", Key: NoticeGenerationFailed})
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	c.mu.Lock()
	c.poem = text
	c.mu.Unlock()

	c.logger.Info("Poem generated", zap.String("theme", theme), zap.Int("length", len(text)))
	return text, nil
}

func (c *Controller) acquire() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return "", false
	}
	c.busy = true
	return c.theme, true
}

func (c *Controller) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Controller) notify(n Notice) {
	c.mu.Lock()
	c.notices = append(c.notices, n)
	c.mu.Unlock()
}

// NotifyBusy records that a submission was rejected while busy.
func (c *Controller) NotifyBusy() {
	c.notify(Notice{Level: "info", Key: NoticeBusy})
}

// TakeNotices returns the pending notices and clears them.
func (c *Controller) TakeNotices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.notices
	c.notices = nil
	return n
}

// DismissNotice removes the most recent pending notice with key, leaving
// the others in place.
func (c *Controller) DismissNotice(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.notices) - 1; i >= 0; i-- {
		if c.notices[i].Key == key {
			c.notices = append(c.notices[:i], c.notices[i+1:]...)
			return
		}
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Theme: c.theme, Poem: c.poem, Busy: c.busy}
}

func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}
