package observe

import (
	"context"
	"sync"
	"sync/atomic"
)

// TimelineCapture receives the Timeline of the call started with the context
// returned by RecordTimeline. Only the first published timeline is kept, so
// reusing the context for a second call leaves the first call's record intact.
type TimelineCapture struct {
	tl   atomic.Pointer[Timeline]
	once sync.Once
	done chan struct{}
}

// Timeline returns the captured timeline, or nil while the call is running.
func (c *TimelineCapture) Timeline() *Timeline {
	if c == nil {
		return nil
	}
	return c.tl.Load()
}

// Done is closed once a timeline has been published. A nil capture never
// completes.
func (c *TimelineCapture) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.doneChan()
}

func (c *TimelineCapture) doneChan() chan struct{} {
	c.once.Do(func() { c.done = make(chan struct{}) })
	return c.done
}

func (c *TimelineCapture) publish(tl *Timeline) bool {
	if c == nil || tl == nil {
		return false
	}
	if !c.tl.CompareAndSwap(nil, tl) {
		return false
	}
	close(c.doneChan())
	return true
}

type captureKey struct{}

// captureOff marks a context whose calls must not publish to an inherited
// capture.
type captureOff struct{}

// RecordTimeline returns ctx carrying a fresh capture for the next call made
// with it.
func RecordTimeline(ctx context.Context) (context.Context, *TimelineCapture) {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &TimelineCapture{}
	return context.WithValue(ctx, captureKey{}, c), c
}

// TimelineCaptureFromContext returns the capture requested on ctx, if any.
func TimelineCaptureFromContext(ctx context.Context) (*TimelineCapture, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(captureKey{}).(*TimelineCapture)
	return c, ok && c != nil
}

// WithoutTimelineCapture hides any capture on ctx. The retry engine derives
// attempt contexts with it so calls nested inside an attempt never publish
// into the outer call's capture.
func WithoutTimelineCapture(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, captureKey{}, captureOff{})
}

// StoreTimelineCapture publishes tl into capture. It reports false when the
// capture is nil or already holds a timeline.
func StoreTimelineCapture(capture *TimelineCapture, tl *Timeline) bool {
	return capture.publish(tl)
}
