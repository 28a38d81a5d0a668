package observe

import "context"

// NoopObserver implements Observer with no-op methods.
type NoopObserver struct{}

func (NoopObserver) OnStart(context.Context, string, int)             {}
func (NoopObserver) OnAttempt(context.Context, string, AttemptRecord) {}
func (NoopObserver) OnSuccess(context.Context, string, Timeline)      {}
func (NoopObserver) OnFailure(context.Context, string, Timeline)      {}

// BaseObserver implements Observer with no-op methods.
//
// Users can embed BaseObserver to implement only the callbacks they need.
type BaseObserver struct{}

func (BaseObserver) OnStart(context.Context, string, int)             {}
func (BaseObserver) OnAttempt(context.Context, string, AttemptRecord) {}
func (BaseObserver) OnSuccess(context.Context, string, Timeline)      {}
func (BaseObserver) OnFailure(context.Context, string, Timeline)      {}

// MultiObserver fans out events to multiple observers.
type MultiObserver struct {
	Observers []Observer
}

func (m MultiObserver) OnStart(ctx context.Context, name string, maxAttempts int) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnStart(ctx, name, maxAttempts)
		}
	}
}

func (m MultiObserver) OnAttempt(ctx context.Context, name string, rec AttemptRecord) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnAttempt(ctx, name, rec)
		}
	}
}

func (m MultiObserver) OnSuccess(ctx context.Context, name string, tl Timeline) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnSuccess(ctx, name, tl)
		}
	}
}

func (m MultiObserver) OnFailure(ctx context.Context, name string, tl Timeline) {
	for _, o := range m.Observers {
		if o != nil {
			o.OnFailure(ctx, name, tl)
		}
	}
}
