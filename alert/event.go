package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// UserContext identifies who an alert is for. It is passed through untouched.
type UserContext struct {
	ID    int64
	Name  string
	Email string
}

// Event is one triggered alert and the frames captured for it.
//
// An Event owns its frames. Whoever holds the Event last must call Release.
type Event struct {
	ID       string
	Time     time.Time
	Frames   []gocv.Mat
	FPS      float64
	Location string
	Behavior string
	User     UserContext
}

// NewEvent creates an event with a fresh ID.
func NewEvent(at time.Time, frames []gocv.Mat, fps float64, behavior, location string, user UserContext) *Event {
	return &Event{
		ID:       uuid.NewString(),
		Time:     at,
		Frames:   frames,
		FPS:      fps,
		Location: location,
		Behavior: behavior,
		User:     user,
	}
}

// Release closes every frame.
func (e *Event) Release() {
	for i := range e.Frames {
		e.Frames[i].Close()
	}
	e.Frames = nil
}

// ShortID returns the first eight characters of the ID.
func (e *Event) ShortID() string {
	if len(e.ID) < 8 {
		return e.ID
	}
	return e.ID[:8]
}

// Alert is what notifiers receive once artifacts are written.
//
// SnapshotPath and ClipPath are empty when writing that artifact failed.
type Alert struct {
	ID           string
	Time         time.Time
	SnapshotPath string
	ClipPath     string
	Behavior     string
	Location     string
	User         UserContext
}

// Notifier delivers an alert to an external sink.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a Alert) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, a Alert) error {
	return f(ctx, a)
}
