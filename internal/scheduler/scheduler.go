package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/config"
)

// Options configures a Scheduler.
type Options struct {
	// Sender writes frames to devices. Required.
	Sender Sender

	// Bus receives scheduler events. Required.
	Bus Bus

	Config config.SchedulerConfig

	// Recorder keeps event history (optional).
	Recorder EventRecorder

	Metrics Metrics
	Logger  Logger
}

// Scheduler queues outbound commands per device and releases them while
// the device's command window is open. Critical commands skip the queue.
//
// Each device is served by its own actor goroutine; the scheduler itself
// only holds the actor directory.
type Scheduler struct {
	sender   Sender
	bus      Bus
	cfg      config.SchedulerConfig
	recorder EventRecorder
	metrics  Metrics
	logger   Logger
	now      func() time.Time

	mu      sync.Mutex
	devices map[string]*device

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New validates opts and creates a scheduler. Device actors start on
// first use; Start only adds the periodic stale-schedule prune.
func New(opts Options) (*Scheduler, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}

	cfg := opts.Config
	def := config.Default().Scheduler
	if cfg.CommandTTL <= 0 {
		cfg.CommandTTL = def.CommandTTL
	}
	if cfg.InterCommandDelay <= 0 {
		cfg.InterCommandDelay = def.InterCommandDelay
	}
	if cfg.ImminentThreshold <= 0 {
		cfg.ImminentThreshold = def.ImminentThreshold
	}
	if cfg.StaleScheduleAge <= 0 {
		cfg.StaleScheduleAge = def.StaleScheduleAge
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = def.PruneInterval
	}
	if cfg.DefaultWindowLength <= 0 {
		cfg.DefaultWindowLength = def.DefaultWindowLength
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	s := &Scheduler{
		sender:    opts.Sender,
		bus:       opts.Bus,
		cfg:       cfg,
		recorder:  opts.Recorder,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       time.Now,
		devices:   make(map[string]*device),
		ctx:       ctx,
		ctxCancel: ctxCancel,
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s, nil
}

// Start runs the stale-schedule prune loop until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	context.AfterFunc(ctx, s.ctxCancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if n := s.PruneStale(s.ctx, s.cfg.StaleScheduleAge); n > 0 {
					s.logger.Info("pruned stale schedules", "count", n)
				}
			}
		}
	}()
}

// Stop ends every device actor and the prune loop. Queued commands are
// discarded.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		// Under mu so no actor starts after cancellation.
		s.mu.Lock()
		s.ctxCancel()
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Info("command scheduler stopped")
	})
}

// device returns the actor for id, starting it if needed.
func (s *Scheduler) device(id string) (*device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil, ErrSchedulerStopped
	}
	d, ok := s.devices[id]
	if !ok {
		d = newDevice(id)
		s.devices[id] = d
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			d.run(s.ctx)
		}()
	}
	return d, nil
}

func (s *Scheduler) existingDevice(id string) (*device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	return d, ok
}

// withDevice runs fn on the actor for id, starting one if needed. An actor
// retired between lookup and request is replaced.
func (s *Scheduler) withDevice(ctx context.Context, id string, fn func(*deviceState)) error {
	for {
		d, err := s.device(id)
		if err != nil {
			return err
		}
		if err := d.do(ctx, fn); !errors.Is(err, errRetired) {
			return err
		}
	}
}

// SendCommand schedules action for deviceID with the configured TTL.
func (s *Scheduler) SendCommand(ctx context.Context, deviceID, action string, payload json.RawMessage, priority Priority) (QueuedCommand, error) {
	now := s.now()
	return s.submit(ctx, newCommand(deviceID, action, payload, priority, now, now.Add(s.cfg.CommandTTL)))
}

// SendCommandWithExpiry schedules action with an explicit expiry. A
// command already past its expiry is queued and dropped by the next sweep.
func (s *Scheduler) SendCommandWithExpiry(ctx context.Context, deviceID, action string, payload json.RawMessage, priority Priority, expiresAt time.Time) (QueuedCommand, error) {
	return s.submit(ctx, newCommand(deviceID, action, payload, priority, s.now(), expiresAt))
}

func (s *Scheduler) submit(ctx context.Context, cmd QueuedCommand) (QueuedCommand, error) {
	if strings.TrimSpace(cmd.DeviceID) == "" {
		return QueuedCommand{}, ErrInvalidDevice
	}
	if strings.TrimSpace(cmd.Action) == "" {
		return QueuedCommand{}, ErrInvalidAction
	}
	if !cmd.Priority.Valid() {
		return QueuedCommand{}, fmt.Errorf("%w: %d", ErrInvalidPriority, int(cmd.Priority))
	}
	if len(cmd.Payload) > 0 && !json.Valid(cmd.Payload) {
		return QueuedCommand{}, ErrInvalidPayload
	}

	if cmd.Priority == PriorityCritical {
		return cmd, s.sendCritical(ctx, cmd)
	}

	err := s.withDevice(ctx, cmd.DeviceID, func(st *deviceState) {
		st.queue.push(cmd)
		size := st.queue.len()

		s.metrics.CommandQueued(cmd.Priority.String())
		s.metrics.QueueDepth(st.id, size)
		s.logger.Debug("command queued",
			"device_id", st.id,
			"action", cmd.Action,
			"priority", cmd.Priority.String(),
			"queue_size", size)
		s.emit(EventCommandQueued, st.id, map[string]any{
			"queue_size": size,
			"action":     cmd.Action,
			"priority":   cmd.Priority.String(),
		})

		// A window already known to be open need not wait for the next report.
		if st.schedule != nil && st.schedule.OpenAt(s.now()) {
			s.drain(st)
		}
	})
	if err != nil {
		return QueuedCommand{}, err
	}
	return cmd, nil
}

// sendCritical dispatches on the caller's goroutine so it never waits
// behind a batch in progress on the device actor.
func (s *Scheduler) sendCritical(ctx context.Context, cmd QueuedCommand) error {
	if s.ctx.Err() != nil {
		return ErrSchedulerStopped
	}
	s.logger.Warn("critical command, sending immediately", "device_id", cmd.DeviceID, "action", cmd.Action)
	s.emit(EventCommandSentCritical, cmd.DeviceID, map[string]any{
		"priority": PriorityCritical.String(),
		"action":   cmd.Action,
	})

	if err := s.dispatch(ctx, cmd); err != nil {
		s.metrics.DispatchFailed()
		s.emit(EventError, cmd.DeviceID, map[string]any{"error": err.Error(), "action": cmd.Action})
		return err
	}
	s.metrics.CommandDispatched(cmd.Priority.String())
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, cmd QueuedCommand) error {
	frame, err := EncodeFrame(cmd, s.now())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	if err := s.sender.SendCommand(ctx, cmd.DeviceID, frame); err != nil {
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	return nil
}

// ObserveTelemetry updates the device's window from a telemetry document
// and, when the window is open, drains its queue before returning.
// Documents without schedule metadata are ignored.
func (s *Scheduler) ObserveTelemetry(ctx context.Context, deviceID string, doc []byte) {
	meta, ok := ParseScheduleMetadata(doc, s.now(), s.cfg.DefaultWindowLength)
	if !ok {
		return
	}
	if err := s.withDevice(ctx, deviceID, func(st *deviceState) { s.applySchedule(st, meta) }); err != nil {
		s.logger.Debug("schedule update dropped", "device_id", deviceID, "error", err)
	}
}

func (s *Scheduler) applySchedule(st *deviceState, meta ScheduleMetadata) {
	st.schedule = &meta
	now := s.now()

	switch {
	case meta.WindowOpen():
		s.logger.Debug("command window open", "device_id", st.id, "queued", st.queue.len())
		s.emit(EventWindowOpen, st.id, map[string]any{"duration": secondsOf(meta.WindowDuration)})
		s.drain(st)

	case meta.Imminent(now, s.cfg.ImminentThreshold):
		s.emit(EventWindowImminent, st.id, map[string]any{"seconds": secondsOf(meta.WindowOpensIn)})

	default:
		if remaining, ok := meta.TimeUntilWindow(now); ok {
			s.emit(EventWindowScheduled, st.id, map[string]any{"seconds": secondsOf(remaining)})
		}
	}
}

// drain sweeps expired commands, then sends the rest in priority order as
// one batch. A transport failure stops the batch; the failed command and
// everything after it stay queued for the next window.
func (s *Scheduler) drain(st *deviceState) {
	defer func() { s.metrics.QueueDepth(st.id, st.queue.len()) }()

	if expired := st.queue.sweep(s.now()); expired > 0 {
		s.metrics.CommandsExpired(expired)
		s.logger.Warn("dropped expired commands", "device_id", st.id, "count", expired)
		s.emit(EventCommandsExpired, st.id, map[string]any{"count": expired})
	}

	count := st.queue.len()
	if count == 0 {
		return
	}
	s.logger.Info("sending queued commands", "device_id", st.id, "count", count)
	s.emit(EventBatchStart, st.id, map[string]any{"count": count})

	sent := 0
	for {
		cmd, ok := st.queue.peek()
		if !ok {
			break
		}
		if sent > 0 && s.cfg.InterCommandDelay > 0 {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.cfg.InterCommandDelay):
			}
		}

		if err := s.dispatch(s.ctx, cmd); err != nil {
			s.metrics.DispatchFailed()
			s.logger.Error("command dispatch failed",
				"device_id", st.id,
				"action", cmd.Action,
				"remaining", st.queue.len(),
				"error", err)
			s.emit(EventError, st.id, map[string]any{"error": err.Error(), "action": cmd.Action})
			return
		}
		st.queue.pop()
		sent++
		s.metrics.CommandDispatched(cmd.Priority.String())
		s.emit(EventCommandSent, st.id, map[string]any{"action": cmd.Action, "priority": cmd.Priority.String()})
	}

	s.emit(EventBatchComplete, st.id, map[string]any{"count": sent})
}

// QueueStatus reports a device's queue depth, oldest pending age and window
// state. Unknown devices report an empty queue.
func (s *Scheduler) QueueStatus(ctx context.Context, deviceID string) (QueueStatus, error) {
	if strings.TrimSpace(deviceID) == "" {
		return QueueStatus{}, ErrInvalidDevice
	}
	d, ok := s.existingDevice(deviceID)
	if !ok {
		return QueueStatus{DeviceID: deviceID, Mode: ModeUnknown}, nil
	}
	var status QueueStatus
	err := d.do(ctx, func(st *deviceState) { status = st.status(s.now()) })
	if errors.Is(err, errRetired) {
		return QueueStatus{DeviceID: deviceID, Mode: ModeUnknown}, nil
	}
	return status, err
}

// Pending returns a copy of a device's queued commands in send order.
func (s *Scheduler) Pending(ctx context.Context, deviceID string) ([]QueuedCommand, error) {
	d, ok := s.existingDevice(deviceID)
	if !ok {
		return []QueuedCommand{}, nil
	}
	var out []QueuedCommand
	err := d.do(ctx, func(st *deviceState) { out = st.queue.snapshot() })
	if errors.Is(err, errRetired) {
		return []QueuedCommand{}, nil
	}
	return out, err
}

// Devices returns the status of every device the scheduler tracks, sorted
// by id.
func (s *Scheduler) Devices(ctx context.Context) []QueueStatus {
	s.mu.Lock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	out := make([]QueueStatus, 0, len(ids))
	for _, id := range ids {
		status, err := s.QueueStatus(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, status)
	}
	return out
}

// PruneStale forgets schedules not refreshed within maxAge and returns how
// many were dropped. Expired commands are swept; live ones are kept and wait
// for the next report. An actor that starts a pass with no schedule and
// ends it with an empty queue is retired, so ids that never report do not
// hold a goroutine forever.
func (s *Scheduler) PruneStale(ctx context.Context, maxAge time.Duration) int {
	s.mu.Lock()
	devices := make([]*device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, d)
	}
	s.mu.Unlock()

	pruned, retired := 0, 0
	for _, d := range devices {
		_ = d.do(ctx, func(st *deviceState) {
			now := s.now()
			idle := st.schedule == nil
			if st.schedule != nil && now.Sub(st.schedule.ReceivedAt) > maxAge {
				s.logger.Warn("removing stale schedule", "device_id", st.id)
				st.schedule = nil
				pruned++
			}
			if expired := st.queue.sweep(now); expired > 0 {
				s.metrics.CommandsExpired(expired)
				s.metrics.QueueDepth(st.id, st.queue.len())
				s.emit(EventCommandsExpired, st.id, map[string]any{"count": expired})
			}
			if idle && st.queue.len() == 0 && s.retire(d) {
				st.retired = true
				retired++
			}
		})
	}
	if retired > 0 {
		s.logger.Debug("retired idle device actors", "count", retired)
	}
	return pruned
}

// retire removes d from the directory. It runs on d's actor, so no request
// can be in flight on d; later lookups start a fresh actor.
func (s *Scheduler) retire(d *device) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devices[d.id] != d {
		return false
	}
	delete(s.devices, d.id)
	return true
}
