package typewriter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, r *Renderer) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case f := <-r.Frames():
			frames = append(frames, f)
			if f.Done {
				return frames
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d frames: %v", len(frames), frames)
		}
	}
}

func TestRendererEmitsGrowingPrefixes(t *testing.T) {
	r := New(WithStartDelay(0), WithInterval(time.Millisecond))
	defer r.Close()

	r.Animate("hey")
	frames := collect(t, r)

	require.Len(t, frames, 4)
	assert.Equal(t, Frame{Text: ""}, frames[0])
	assert.Equal(t, Frame{Text: "h"}, frames[1])
	assert.Equal(t, Frame{Text: "he"}, frames[2])
	assert.Equal(t, Frame{Text: "hey", Done: true}, frames[3])
}

func TestRendererEmptyTextFinishesImmediately(t *testing.T) {
	r := New(WithStartDelay(0), WithInterval(time.Millisecond))
	defer r.Close()

	r.Animate("")
	frames := collect(t, r)

	require.Len(t, frames, 1)
	assert.Equal(t, Frame{Text: "", Done: true}, frames[0])
}

func TestRendererHonorsStartDelay(t *testing.T) {
	delay := 60 * time.Millisecond
	r := New(WithStartDelay(delay), WithInterval(0))
	defer r.Close()

	start := time.Now()
	r.Animate("x")
	frames := collect(t, r)
	elapsed := time.Since(start)

	require.Len(t, frames, 2)
	assert.GreaterOrEqual(t, elapsed, delay, "first frame arrived before the startup delay")
}

func TestRendererRestartDuringDelayDropsOldAnimation(t *testing.T) {
	r := New(WithStartDelay(50*time.Millisecond), WithInterval(time.Millisecond))
	defer r.Close()

	// The restart lands inside the first animation's startup delay, so no
	// frame of the old text may ever surface.
	r.Animate("old")
	r.Animate("new")

	frames := collect(t, r)
	require.NotEmpty(t, frames)
	for _, f := range frames {
		assert.NotContains(t, f.Text, "old")
	}
	assert.Equal(t, Frame{Text: "new", Done: true}, frames[len(frames)-1])
}

func TestRendererRestartIsAHardCut(t *testing.T) {
	r := New(WithStartDelay(0), WithInterval(0))
	defer r.Close()

	// Once Animate returns, the previous animation's feed is abandoned, so
	// not a single frame of the old text may surface, no matter how the old
	// goroutine and the receiver are scheduled.
	for i := 0; i < 200; i++ {
		r.Animate("aaaa")
		r.Animate("bb")
		frames := collect(t, r)
		for _, f := range frames {
			assert.NotContains(t, f.Text, "a")
		}
		assert.Equal(t, Frame{Text: "bb", Done: true}, frames[len(frames)-1])
	}
}

func TestRendererRestartMidAnimation(t *testing.T) {
	r := New(WithStartDelay(0), WithInterval(10*time.Millisecond))
	defer r.Close()

	r.Animate("aaaaaaaaaa")
	// Let a frame through, then restart.
	f := <-r.Frames()
	assert.Equal(t, "", f.Text)
	r.Animate("bb")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-r.Frames():
			if f.Done {
				assert.Equal(t, "bb", f.Text)
				return
			}
		case <-deadline:
			t.Fatal("never saw the second animation finish")
		}
	}
}

func TestRendererStop(t *testing.T) {
	r := New(WithStartDelay(0), WithInterval(5*time.Millisecond))
	defer r.Close()

	r.Animate("abc")
	<-r.Frames()
	r.Stop()

	select {
	case f, ok := <-r.Frames():
		if ok && !f.Done {
			// One in-flight frame may still land; nothing after it should.
			select {
			case f2 := <-r.Frames():
				t.Fatalf("frames kept flowing after Stop: %v", f2)
			case <-time.After(50 * time.Millisecond):
			}
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRendererCloseRejectsAnimate(t *testing.T) {
	r := New(WithStartDelay(0), WithInterval(time.Millisecond))
	r.Close()

	r.Animate("x")
	select {
	case f := <-r.Frames():
		t.Fatalf("unexpected frame after Close: %v", f)
	case <-time.After(50 * time.Millisecond):
	}
}
