// Package typewriter animates a text reveal for viewer UIs: each animation
// emits the growing prefixes of its text at a fixed per-character cadence,
// after a short startup delay that lets rapid-fire restarts coalesce.
package typewriter

import (
	"sync"
	"time"
)

const (
	// DefaultStartDelay is how long an animation waits before its first
	// frame. Restarts within the window cancel the pending animation, so a
	// burst of fragment arrivals costs one animation, not one per fragment.
	DefaultStartDelay = 100 * time.Millisecond
	// DefaultInterval is the per-character reveal cadence.
	DefaultInterval = 20 * time.Millisecond
)

// Frame is one step of an animation. Done marks the final frame, which
// carries the complete text.
type Frame struct {
	Text string
	Done bool
}

// Renderer runs at most one animation at a time. Calling Animate cancels the
// animation in flight, including one still in its startup delay; once Animate
// returns, no frame of the cancelled animation can reach the frame channel.
type Renderer struct {
	startDelay time.Duration
	interval   time.Duration
	frames     chan Frame
	feeds      chan chan Frame
	done       chan struct{}

	mu     sync.Mutex
	cancel chan struct{}
	closed bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithStartDelay overrides the startup delay. Zero disables it.
func WithStartDelay(d time.Duration) Option {
	return func(r *Renderer) { r.startDelay = d }
}

// WithInterval overrides the per-character cadence.
func WithInterval(d time.Duration) Option {
	return func(r *Renderer) { r.interval = d }
}

// New creates an idle Renderer.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		startDelay: DefaultStartDelay,
		interval:   DefaultInterval,
		frames:     make(chan Frame),
		feeds:      make(chan chan Frame),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.forward()
	return r
}

// Frames returns the frame feed. The channel is never closed; the Done flag
// on a frame marks the end of its animation.
func (r *Renderer) Frames() <-chan Frame {
	return r.frames
}

// Animate starts revealing text from its first character, cancelling any
// animation in flight. The handoff to the forwarder completes before Animate
// returns, so the previous animation's frames are already unreachable.
func (r *Renderer) Animate(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.cancel != nil {
		close(r.cancel)
	}
	cancel := make(chan struct{})
	r.cancel = cancel
	feed := make(chan Frame)
	select {
	case r.feeds <- feed:
	case <-r.done:
		return
	}
	go r.run(text, feed, cancel)
}

// Stop cancels the animation in flight without starting a new one.
func (r *Renderer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		close(r.cancel)
		r.cancel = nil
	}
}

// Close cancels the current animation and rejects further ones. The frame
// channel stays open so pending receivers do not observe a spurious close.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.cancel != nil {
		close(r.cancel)
		r.cancel = nil
	}
	close(r.done)
}

// forward serializes frames onto the public channel. Each animation writes to
// its own feed; switching to a new feed abandons the old one and discards any
// frame of it still in hand, so a restart is a hard cut and a stale frame can
// never surface after a newer animation's frames.
func (r *Renderer) forward() {
	var feed chan Frame
	for {
		select {
		case feed = <-r.feeds:
		case <-r.done:
			return
		case f := <-feed:
			select {
			case r.frames <- f:
			case feed = <-r.feeds:
			case <-r.done:
				return
			}
		}
	}
}

func (r *Renderer) run(text string, feed chan Frame, cancel chan struct{}) {
	if !r.wait(r.startDelay, cancel) {
		return
	}
	runes := []rune(text)
	// The empty prefix clears the panel before typing starts; the final
	// prefix is the whole text.
	for i := 0; i <= len(runes); i++ {
		frame := Frame{Text: string(runes[:i]), Done: i == len(runes)}
		select {
		case feed <- frame:
		case <-cancel:
			return
		}
		if frame.Done {
			return
		}
		if !r.wait(r.interval, cancel) {
			return
		}
	}
}

// wait sleeps for d unless cancelled first. Reports whether the animation
// should continue.
func (r *Renderer) wait(d time.Duration, cancel chan struct{}) bool {
	if d <= 0 {
		select {
		case <-cancel:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-cancel:
		return false
	}
}
