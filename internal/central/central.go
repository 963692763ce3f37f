package central

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blimon/internal/gattuuid"
	"github.com/srg/blimon/internal/groutine"
	"github.com/srg/blimon/internal/ringchan"
)

const (
	DefaultServiceUUID        = "AAAA"
	DefaultCharacteristicUUID = "BBBB"
	DefaultConnectTimeout     = 30 * time.Second
	DefaultStageTimeout       = 10 * time.Second
	DefaultMaxRediscoveries   = 3
	DefaultStatusBuffer       = 16
)

// Options configures a Central.
type Options struct {
	ServiceUUID        string
	CharacteristicUUID string

	// AutoConnect issues Connect as soon as a peer is registered. When false
	// pipelines wait in AwaitingConnection until Connect or SelectRow.
	AutoConnect bool

	ConnectTimeout   time.Duration // 0 disables the connect timer
	StageTimeout     time.Duration // 0 disables discovery stage timers
	MaxRediscoveries int

	EventLogMaxEntries int // 0 = unbounded
	StatusBuffer       int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ServiceUUID:        DefaultServiceUUID,
		CharacteristicUUID: DefaultCharacteristicUUID,
		AutoConnect:        true,
		ConnectTimeout:     DefaultConnectTimeout,
		StageTimeout:       DefaultStageTimeout,
		MaxRediscoveries:   DefaultMaxRediscoveries,
		StatusBuffer:       DefaultStatusBuffer,
	}
}

// Central is the serialized event context of the monitor. Backends and the
// shell post events from any goroutine; a single loop goroutine applies them to
// the adapter monitor, registry, pipelines and event log. Read-only views are
// republished after every batch of events.
type Central struct {
	ctrl   Controller
	logger *logrus.Logger
	opts   Options

	env      *env
	adapter  *AdapterMonitor
	registry *Registry
	log      *EventLog
	router   *Router

	queueMu sync.Mutex
	queue   []Event
	signal  chan struct{}

	running atomic.Bool
	stopped atomic.Bool
	done    chan struct{}

	status *ringchan.RingChannel[StatusEvent]

	viewMu      sync.RWMutex
	peripherals []Peripheral
	entries     []LogEntry
	viewAdapter AdapterState
	viewReason  AuthReason

	pending     Change // loop-owned
	observersMu sync.Mutex
	observers   []func(Change)
}

// New creates a Central driving ctrl and installs itself as ctrl's delegate.
func New(ctrl Controller, logger *logrus.Logger, opts Options) (*Central, error) {
	if ctrl == nil {
		return nil, errors.New("controller is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	if opts.ServiceUUID == "" {
		opts.ServiceUUID = DefaultServiceUUID
	}
	if opts.CharacteristicUUID == "" {
		opts.CharacteristicUUID = DefaultCharacteristicUUID
	}
	if _, err := gattuuid.Validate(opts.ServiceUUID, opts.CharacteristicUUID); err != nil {
		return nil, fmt.Errorf("invalid target UUID: %w", err)
	}
	if opts.MaxRediscoveries < 0 {
		opts.MaxRediscoveries = 0
	}
	if opts.StatusBuffer <= 0 {
		opts.StatusBuffer = DefaultStatusBuffer
	}

	c := &Central{
		ctrl:     ctrl,
		logger:   logger,
		opts:     opts,
		registry: NewRegistry(),
		log:      NewEventLog(opts.EventLogMaxEntries),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		status:   ringchan.New[StatusEvent](opts.StatusBuffer),
	}

	c.env = &env{
		ctrl:    ctrl,
		logger:  logger,
		opts:    &c.opts,
		log:     c.log,
		post:    c.Post,
		report:  c.report,
		changed: c.markChanged,
	}
	c.adapter = newAdapterMonitor(ctrl, logger, []string{opts.ServiceUUID}, c.report, c.onAdapterLost)
	c.router = newRouter(c.env, c.registry, c.adapter)

	ctrl.SetDelegate(c)
	return c, nil
}

// Options returns the effective options.
func (c *Central) Options() Options {
	return c.opts
}

// Post enqueues ev for the event loop. Safe for concurrent use, never blocks,
// and may be called from within the loop. Events posted after the central
// stopped are dropped.
func (c *Central) Post(ev Event) {
	if c.stopped.Load() {
		if cmd, ok := ev.(command); ok {
			cmd.reply <- ErrStopped
		}
		return
	}

	c.queueMu.Lock()
	c.queue = append(c.queue, ev)
	c.queueMu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Run enables the controller and processes events until ctx is cancelled.
// It returns nil on cancellation and the Enable error if the adapter could
// not be set up.
func (c *Central) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("central is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	groutine.Go(loopCtx, "central-loop", c.loop)

	fields := logrus.Fields{
		"service":        c.opts.ServiceUUID,
		"characteristic": c.opts.CharacteristicUUID,
		"auto_connect":   c.opts.AutoConnect,
	}
	if name := gattuuid.KnownName(c.opts.ServiceUUID); name != "" {
		fields["service_name"] = name
	}
	c.logger.WithFields(fields).Info("Starting BLE central")

	if err := c.ctrl.Enable(loopCtx); err != nil {
		cancel()
		<-c.done
		return fmt.Errorf("failed to enable adapter: %w", err)
	}

	<-c.done
	return nil
}

// Done is closed once the event loop has stopped.
func (c *Central) Done() <-chan struct{} {
	return c.done
}

func (c *Central) loop(ctx context.Context) {
	defer close(c.done)
	defer c.shutdown()

	c.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Event loop started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Event loop stopping")
			return
		case <-c.signal:
			c.drain()
		}
	}
}

// Flush dispatches every queued event on the calling goroutine, including
// events posted while flushing, and publishes the views. It lets a host drive
// the central from its own loop instead of Run and must never be called while
// Run is active.
func (c *Central) Flush() {
	c.drain()
}

// drain dispatches queued events until the queue is empty, publishing views
// after each batch.
func (c *Central) drain() {
	for {
		c.queueMu.Lock()
		batch := c.queue
		c.queue = nil
		c.queueMu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			c.dispatch(ev)
		}
		c.publish()
	}
}

func (c *Central) dispatch(ev Event) {
	switch e := ev.(type) {
	case AdapterStateChanged:
		c.adapter.OnAdapterStateChanged(e.State, e.Reason)
		c.markChanged(ChangeAdapter)

	case ConnectionEvent:
		c.router.OnConnectionEvent(e)

	case PeripheralConnected:
		if p, ok := c.router.route(e.Req.Peer); ok {
			p.onConnected(e)
		}
	case PeripheralConnectFailed:
		if p, ok := c.router.route(e.Req.Peer); ok {
			p.onConnectFailed(e)
		}
	case ServicesDiscovered:
		if p, ok := c.router.route(e.Req.Peer); ok {
			p.onServices(e)
		}
	case CharacteristicsDiscovered:
		if p, ok := c.router.route(e.Req.Peer); ok {
			p.onCharacteristics(e)
		}
	case NotificationStateUpdated:
		if p, ok := c.router.route(e.Req.Peer); ok {
			p.onNotificationState(e)
		}
	case ValueUpdated:
		if p, ok := c.router.route(e.Req.Peer); ok {
			p.onValue(e)
		}
	case ServicesModified:
		if p, ok := c.router.route(e.Peer); ok {
			p.onServicesModified(e)
		}
	case stageTimeout:
		if p, ok := c.router.route(e.Req.Peer); ok {
			p.onTimeout(e)
		}

	case command:
		err := e.fn()
		c.publish()
		e.reply <- err

	default:
		c.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("Unknown event type")
	}
}

// shutdown destroys every pipeline and fails pending commands. Runs on the
// loop goroutine as it exits.
func (c *Central) shutdown() {
	c.stopped.Store(true)

	for _, id := range c.registry.IDs() {
		if p, ok := c.router.Pipeline(id); ok {
			p.Teardown()
		}
	}

	c.queueMu.Lock()
	rest := c.queue
	c.queue = nil
	c.queueMu.Unlock()
	for _, ev := range rest {
		if cmd, ok := ev.(command); ok {
			cmd.reply <- ErrStopped
		}
	}

	c.status.Close()
	c.logger.Info("BLE central stopped")
}

func (c *Central) onAdapterLost() {
	c.logger.WithField("peripherals", c.registry.Count()).Warn("Adapter lost, dropping all peripherals")
	c.router.DropAll()
}

func (c *Central) report(peer PeerID, err error) {
	if err == nil {
		return
	}
	c.status.ForceSend(StatusEvent{Time: time.Now(), Peer: peer, Err: err})
}

func (c *Central) markChanged(change Change) {
	c.pending |= change
}

// publish copies the loop-owned state into the read-only views and notifies
// observers of what changed.
func (c *Central) publish() {
	change := c.pending
	c.pending = 0
	if change == 0 {
		return
	}

	state, reason := c.adapter.State()

	c.viewMu.Lock()
	if change.Has(ChangePeripherals) {
		c.peripherals = c.registry.ListMostRecentFirst()
	}
	if change.Has(ChangeLog) {
		c.entries = c.log.Snapshot()
	}
	c.viewAdapter = state
	c.viewReason = reason
	c.viewMu.Unlock()

	c.observersMu.Lock()
	observers := append([]func(Change){}, c.observers...)
	c.observersMu.Unlock()

	for _, fn := range observers {
		fn(change)
	}
}

// OnChange registers fn to be called on the event loop after every batch of
// events that modified a view. fn must not block.
func (c *Central) OnChange(fn func(Change)) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	c.observers = append(c.observers, fn)
}

// Peripherals returns the registered peripherals, most recent first.
func (c *Central) Peripherals() []Peripheral {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return append([]Peripheral(nil), c.peripherals...)
}

// Log returns the event log, oldest first.
func (c *Central) Log() []LogEntry {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return append([]LogEntry(nil), c.entries...)
}

// AdapterState returns the last published adapter state.
func (c *Central) AdapterState() (AdapterState, AuthReason) {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.viewAdapter, c.viewReason
}

// Stage returns the pipeline position of a registered peer.
func (c *Central) Stage(id PeerID) (StageInfo, bool) {
	p, ok := c.router.Pipeline(id)
	if !ok {
		return StageInfo{}, false
	}
	return p.Info(), true
}

// Stages returns the pipeline positions of all registered peers, in no
// particular order.
func (c *Central) Stages() []StageInfo {
	var out []StageInfo
	c.router.pipelines.Range(func(_ PeerID, p *Pipeline) bool {
		out = append(out, p.Info())
		return true
	})
	return out
}

// Status delivers adapter conditions and pipeline failures. When the reader
// falls behind the oldest events are overwritten. Closed when the loop stops.
func (c *Central) Status() <-chan StatusEvent {
	return c.status.C()
}

// SelectRow resolves row of the most-recent-first peripheral view to an
// identity and connects it. The row is resolved on the event loop, against
// the registry as it is at that moment.
func (c *Central) SelectRow(ctx context.Context, row int) (PeerID, error) {
	var id PeerID
	err := c.exec(ctx, func() error {
		var err error
		id, err = c.selectRow(row)
		return err
	})
	return id, err
}

func (c *Central) selectRow(row int) (PeerID, error) {
	id, err := c.registry.IDAtRow(row)
	if err != nil {
		return "", err
	}
	c.logger.WithFields(logrus.Fields{"row": row, "peer": id}).Info("Peripheral selected")
	return id, c.router.Connect(id)
}

// Connect starts the connection of a registered peer.
func (c *Central) Connect(ctx context.Context, id PeerID) error {
	return c.exec(ctx, func() error {
		return c.router.Connect(id)
	})
}

// Sync waits until every event posted before the call has been dispatched.
func (c *Central) Sync(ctx context.Context) error {
	return c.exec(ctx, func() error { return nil })
}

// exec runs fn on the event loop and waits for its result.
func (c *Central) exec(ctx context.Context, fn func() error) error {
	if c.stopped.Load() {
		return ErrStopped
	}

	reply := make(chan error, 1)
	c.Post(command{fn: fn, reply: reply})

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	}
}
