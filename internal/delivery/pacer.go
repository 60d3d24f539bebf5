// Package delivery sends replies with a typing indicator and a delay
// proportional to the reply length.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"tire-assistant/internal/logging"
)

const (
	DefaultPerChar = 30 * time.Millisecond
	DefaultCap     = 4 * time.Second
)

// Sender is the outbound messaging channel.
type Sender interface {
	SendTypingIndicator(ctx context.Context, recipientID string) error
	SendText(ctx context.Context, recipientID, text string) error
}

// typingStopper is implemented by senders that can hide the typing bubble.
type typingStopper interface {
	SendTypingOff(ctx context.Context, recipientID string) error
}

type Config struct {
	PerChar         time.Duration
	Cap             time.Duration
	RefreshInterval time.Duration // 0 disables the repeating indicator
	SendTimeout     time.Duration // 0 means no per-call timeout
	SplitBubbles    bool
}

type Pacer struct {
	sender Sender
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewPacer(sender Sender, cfg Config) (*Pacer, error) {
	if sender == nil {
		return nil, errors.New("delivery: sender must not be nil")
	}
	if cfg.PerChar < 0 || cfg.Cap < 0 || cfg.RefreshInterval < 0 {
		return nil, errors.New("delivery: durations must not be negative")
	}
	return &Pacer{sender: sender, cfg: cfg, sleep: sleepContext}, nil
}

// Delay is min(len(text)*PerChar, Cap), counting characters not bytes.
func (p *Pacer) Delay(text string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(text)) * p.cfg.PerChar
	if p.cfg.Cap > 0 && d > p.cfg.Cap {
		return p.cfg.Cap
	}
	return d
}

// Deliver shows the typing indicator, waits, then sends text. A failed
// typing indicator is logged and ignored; a failed send is returned.
func (p *Pacer) Deliver(ctx context.Context, recipientID, text string) error {
	logger := logging.FromContext(ctx)

	if err := p.typing(ctx, recipientID); err != nil {
		logger.Warn("typing indicator failed", "recipientId", recipientID, "err", err)
	}

	stop := p.keepTyping(ctx, recipientID)
	err := p.sleep(ctx, p.Delay(text))
	stop()
	if err != nil {
		p.typingOff(ctx, recipientID)
		return fmt.Errorf("delivery: wait interrupted: %w", err)
	}

	for _, bubble := range p.bubbles(text) {
		if err := p.send(ctx, recipientID, bubble); err != nil {
			p.typingOff(ctx, recipientID)
			return fmt.Errorf("delivery: send: %w", err)
		}
	}
	return nil
}

// typingOff clears the indicator after an aborted delivery. It runs on a
// detached context because ctx may already be done.
func (p *Pacer) typingOff(ctx context.Context, recipientID string) {
	stopper, ok := p.sender.(typingStopper)
	if !ok {
		return
	}
	offCtx, cancel := p.callContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := stopper.SendTypingOff(offCtx, recipientID); err != nil {
		logging.FromContext(ctx).Warn("typing off failed", "recipientId", recipientID, "err", err)
	}
}

// keepTyping re-sends the typing indicator every RefreshInterval until the
// returned stop func is called. stop blocks until the ticker goroutine exits.
func (p *Pacer) keepTyping(ctx context.Context, recipientID string) func() {
	if p.cfg.RefreshInterval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.typing(ctx, recipientID); err != nil && ctx.Err() == nil {
					logging.FromContext(ctx).Warn("typing refresh failed", "recipientId", recipientID, "err", err)
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

func (p *Pacer) bubbles(text string) []string {
	if !p.cfg.SplitBubbles {
		return []string{text}
	}
	var out []string
	for _, part := range strings.Split(text, "\n\n") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func (p *Pacer) typing(ctx context.Context, recipientID string) error {
	ctx, cancel := p.callContext(ctx)
	defer cancel()
	return p.sender.SendTypingIndicator(ctx, recipientID)
}

func (p *Pacer) send(ctx context.Context, recipientID, text string) error {
	ctx, cancel := p.callContext(ctx)
	defer cancel()
	return p.sender.SendText(ctx, recipientID, text)
}

func (p *Pacer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.SendTimeout > 0 {
		return context.WithTimeout(ctx, p.cfg.SendTimeout)
	}
	return context.WithCancel(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
