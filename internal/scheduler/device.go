package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// errRetired is returned by do when the actor was retired while idle. The
// caller looks the device up again and gets a fresh actor.
var errRetired = errors.New("scheduler: device actor retired")

// deviceState is everything the scheduler knows about one device. Only
// the device's actor goroutine touches it.
type deviceState struct {
	id       string
	queue    commandQueue
	schedule *ScheduleMetadata

	// retired ends the actor after the current request.
	retired bool
}

// device is the handle to one actor. Requests run one at a time on the
// actor goroutine, so a device's queue and schedule need no lock and a
// slow batch on one device never delays another.
type device struct {
	id       string
	requests chan func(*deviceState)
	stopped  chan struct{}
	retired  atomic.Bool
}

func newDevice(id string) *device {
	return &device{
		id:       id,
		requests: make(chan func(*deviceState)),
		stopped:  make(chan struct{}),
	}
}

func (d *device) run(ctx context.Context) {
	defer close(d.stopped)
	st := &deviceState{id: d.id}
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-d.requests:
			fn(st)
			if st.retired {
				d.retired.Store(true)
				return
			}
		}
	}
}

// do runs fn on the actor and waits for it to finish.
func (d *device) do(ctx context.Context, fn func(*deviceState)) error {
	done := make(chan struct{})
	req := func(st *deviceState) {
		defer close(done)
		fn(st)
	}

	select {
	case d.requests <- req:
	case <-d.stopped:
		if d.retired.Load() {
			return errRetired
		}
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	// An accepted request always runs to completion.
	<-done
	return nil
}

func (st *deviceState) status(now time.Time) QueueStatus {
	status := QueueStatus{
		DeviceID:         st.id,
		Depth:            st.queue.len(),
		OldestPendingAge: st.queue.oldestAge(now),
		Mode:             ModeUnknown,
	}
	if st.schedule != nil {
		status.Mode = st.schedule.Mode
		if remaining, ok := st.schedule.TimeUntilWindow(now); ok {
			status.TimeUntilWindow = &remaining
		}
	}
	return status
}
