// Package autoscroll decides when a scrolling view should follow appended
// content. A view follows the tail until the user scrolls away from it, and
// resumes following once they scroll back within the threshold.
package autoscroll

// DefaultThreshold is how close to the bottom, in lines, the view must sit
// for a user scroll to count as "at the bottom".
const DefaultThreshold = 50

// Controller tracks a single view. It starts in following mode. Not safe for
// concurrent use; drive it from the UI loop.
type Controller struct {
	threshold int
	following bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithThreshold overrides the bottom-proximity threshold.
func WithThreshold(lines int) Option {
	return func(c *Controller) {
		if lines >= 0 {
			c.threshold = lines
		}
	}
}

// New creates a Controller in following mode.
func New(opts ...Option) *Controller {
	c := &Controller{threshold: DefaultThreshold, following: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserScrolled records a scroll initiated by the user. A position within the
// threshold of the bottom re-engages following; anything farther releases it.
func (c *Controller) UserScrolled(distanceFromBottom int) {
	c.following = distanceFromBottom <= c.threshold
}

// ContentGrew reports whether the view should jump to the new bottom. Call it
// after appending content; programmatic jumps do not change following state.
func (c *Controller) ContentGrew() bool {
	return c.following
}

// Following reports whether the view is currently pinned to the tail.
func (c *Controller) Following() bool {
	return c.following
}

// JumpToBottom re-engages following, for an explicit "go to end" action.
func (c *Controller) JumpToBottom() {
	c.following = true
}

// DistanceFromBottom converts viewport geometry into the distance UserScrolled
// expects: how many lines of content sit below the visible window. Clamped at
// zero when the content fits the window.
func DistanceFromBottom(yOffset, windowHeight, totalLines int) int {
	d := totalLines - (yOffset + windowHeight)
	if d < 0 {
		return 0
	}
	return d
}
