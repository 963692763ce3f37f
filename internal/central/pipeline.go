package central

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blimon/internal/gattuuid"
)

// env is the loop-owned context shared by the router and every pipeline.
type env struct {
	ctrl    Controller
	logger  *logrus.Logger
	opts    *Options
	log     *EventLog
	post    func(Event)
	report  func(peer PeerID, err error)
	changed func(Change)

	lastToken uint64
}

func (e *env) nextToken() uint64 {
	e.lastToken++
	return e.lastToken
}

func (e *env) record(peer PeerID, kind EntryKind, message string) {
	e.log.Record(peer, kind, message)
	e.changed(ChangeLog)
}

// Pipeline drives GATT discovery for one connected peripheral:
//
//	AwaitingConnection -> AwaitingServices -> AwaitingCharacteristics
//	  -> AwaitingSubscriptionAck -> Subscribed
//
// Any error, empty result or stage timeout moves it to Failed, which is
// terminal. Every controller request carries a fresh token; callbacks whose
// token is not the outstanding one are ignored, which makes late callbacks for
// a destroyed or restarted pipeline harmless.
//
// All methods except Info run on the event loop.
type Pipeline struct {
	env  *env
	peer PeerID
	info atomic.Pointer[StageInfo]

	stage  Stage
	token  uint64
	cancel context.CancelFunc
	timer  *time.Timer

	service   *ServiceDescriptor
	char      *CharacteristicDescriptor
	restarts  int
	destroyed bool
}

func newPipeline(e *env, peer PeerID) *Pipeline {
	p := &Pipeline{env: e, peer: peer}
	p.setStage(AwaitingConnection, nil)
	return p
}

// Info returns the current stage snapshot. Safe for concurrent use.
func (p *Pipeline) Info() StageInfo {
	return *p.info.Load()
}

// Stage returns the current stage.
func (p *Pipeline) Stage() Stage {
	return p.stage
}

func (p *Pipeline) logger() *logrus.Entry {
	return p.env.logger.WithFields(logrus.Fields{"peer": p.peer, "stage": p.stage})
}

func (p *Pipeline) setStage(stage Stage, err error) {
	p.stage = stage
	info := &StageInfo{Peer: p.peer, Stage: stage, Err: err}
	if p.service != nil {
		info.Service = p.service.UUID
	}
	if p.char != nil {
		info.Characteristic = p.char.UUID
	}
	p.info.Store(info)
	if p.env.changed != nil {
		p.env.changed(ChangeStage)
	}
}

// Connect issues the connect request. Only valid in AwaitingConnection with no
// request outstanding; otherwise it does nothing.
func (p *Pipeline) Connect() {
	if p.destroyed || p.stage != AwaitingConnection || p.token != 0 {
		p.logger().Debug("Connect ignored, pipeline already started")
		return
	}
	opts := ConnectOptions{Timeout: p.env.opts.ConnectTimeout}
	p.logger().Info("Connecting to peripheral...")
	p.issue(AwaitingConnection, p.env.opts.ConnectTimeout, func(ctx context.Context, req Request) error {
		return p.env.ctrl.Connect(ctx, req, opts)
	})
}

// issue starts a request for stage, arming the stage timer. A synchronous
// rejection from the controller fails the pipeline immediately.
func (p *Pipeline) issue(stage Stage, timeout time.Duration, call func(ctx context.Context, req Request) error) {
	p.release()

	req := Request{Peer: p.peer, Token: p.env.nextToken()}
	ctx, cancel := context.WithCancel(context.Background())
	p.token = req.Token
	p.cancel = cancel
	p.setStage(stage, nil)

	if timeout > 0 {
		post := p.env.post
		p.timer = time.AfterFunc(timeout, func() {
			post(stageTimeout{Req: req, Stage: stage})
		})
	}

	if err := call(ctx, req); err != nil {
		p.fail(err)
	}
}

// release cancels the outstanding request and stops its timer.
func (p *Pipeline) release() {
	p.stopTimer()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.token = 0
}

func (p *Pipeline) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// accepts reports whether a callback for req at stage belongs to the
// outstanding request.
func (p *Pipeline) accepts(req Request, stage Stage) bool {
	if p.destroyed || p.token == 0 || req.Token != p.token || p.stage != stage {
		p.logger().WithFields(logrus.Fields{
			"token":    req.Token,
			"expected": p.token,
			"for":      stage,
		}).Debug("Ignoring stale callback")
		return false
	}
	return true
}

// fail moves the pipeline to Failed, wrapping cause in the error type of the
// stage that failed.
func (p *Pipeline) fail(cause error) {
	err := stageError(p.peer, p.stage, cause)
	p.failWith(err)
}

func (p *Pipeline) failWith(err error) {
	p.release()
	p.logger().WithError(err).Error("Discovery pipeline failed")
	p.setStage(Failed, err)
	p.env.report(p.peer, err)
}

func (p *Pipeline) onConnected(ev PeripheralConnected) {
	if !p.accepts(ev.Req, AwaitingConnection) {
		return
	}
	p.logger().Info("Peripheral connected, discovering services")
	p.env.record(p.peer, EntryMilestone, msgConnected)
	p.discoverServices()
}

func (p *Pipeline) onConnectFailed(ev PeripheralConnectFailed) {
	if !p.accepts(ev.Req, AwaitingConnection) {
		return
	}
	cause := ev.Err
	if cause == nil {
		cause = errors.New("connect failed")
	}
	p.fail(cause)
}

func (p *Pipeline) discoverServices() {
	filter := []string{p.env.opts.ServiceUUID}
	p.issue(AwaitingServices, p.env.opts.StageTimeout, func(ctx context.Context, req Request) error {
		return p.env.ctrl.DiscoverServices(ctx, req, filter)
	})
}

func (p *Pipeline) onServices(ev ServicesDiscovered) {
	if !p.accepts(ev.Req, AwaitingServices) {
		return
	}
	if ev.Err != nil {
		p.fail(ev.Err)
		return
	}

	p.logger().WithField("services", len(ev.Services)).Debug("Services discovered")

	// First match wins; later matching services are ignored.
	var chosen *ServiceDescriptor
	for i := range ev.Services {
		if gattuuid.Equal(ev.Services[i].UUID, p.env.opts.ServiceUUID) {
			svc := ev.Services[i]
			chosen = &svc
			break
		}
	}
	if chosen == nil {
		p.fail(ErrEmptyResult)
		return
	}

	p.service = chosen
	p.env.record(p.peer, EntryMilestone, serviceMessage(gattuuid.Display(chosen.UUID)))

	filter := []string{p.env.opts.CharacteristicUUID}
	svc := *chosen
	p.issue(AwaitingCharacteristics, p.env.opts.StageTimeout, func(ctx context.Context, req Request) error {
		return p.env.ctrl.DiscoverCharacteristics(ctx, req, filter, svc)
	})
}

func (p *Pipeline) onCharacteristics(ev CharacteristicsDiscovered) {
	if !p.accepts(ev.Req, AwaitingCharacteristics) {
		return
	}
	if ev.Err != nil {
		p.fail(ev.Err)
		return
	}
	if len(ev.Characteristics) == 0 {
		p.fail(ErrEmptyResult)
		return
	}

	uuids := make([]string, 0, len(ev.Characteristics))
	for _, c := range ev.Characteristics {
		uuids = append(uuids, gattuuid.Display(c.UUID))
	}
	p.logger().WithField("characteristics", uuids).Debug("Characteristics discovered")
	p.env.record(p.peer, EntryMilestone, descriptorsMessage(uuids))

	char := ev.Characteristics[0]
	p.char = &char
	p.issue(AwaitingSubscriptionAck, p.env.opts.StageTimeout, func(ctx context.Context, req Request) error {
		return p.env.ctrl.SetNotifyValue(ctx, req, true, char)
	})
}

func (p *Pipeline) onNotificationState(ev NotificationStateUpdated) {
	if !p.accepts(ev.Req, AwaitingSubscriptionAck) {
		return
	}
	if ev.Err != nil {
		p.fail(ev.Err)
		return
	}
	p.subscribed()
}

// subscribed enters the steady state. The request context stays alive: it
// scopes the subscription itself.
func (p *Pipeline) subscribed() {
	p.stopTimer()
	p.logger().Info("Subscribed to characteristic notifications")
	p.setStage(Subscribed, nil)
}

func (p *Pipeline) onValue(ev ValueUpdated) {
	if p.destroyed || p.token == 0 || ev.Req.Token != p.token {
		p.logger().WithField("token", ev.Req.Token).Debug("Ignoring value update for a stale subscription")
		return
	}

	if p.stage != AwaitingSubscriptionAck && p.stage != Subscribed {
		return
	}

	if ev.Err != nil {
		p.logger().WithError(ev.Err).Warn("Unable to determine the characteristic's value")
		return
	}

	if p.stage == AwaitingSubscriptionAck {
		// Data flowing means the subscription is active.
		p.subscribed()
	}

	p.logger().WithField("value", ev.Value).Debug("Characteristic value updated")
	p.env.record(p.peer, EntryValue, valueMessage(ev.Value))
}

// onServicesModified restarts discovery when the chosen service (or an
// unknown set) was invalidated. Before a service is chosen the signal is
// irrelevant and ignored.
func (p *Pipeline) onServicesModified(ev ServicesModified) {
	if p.destroyed || p.service == nil {
		return
	}
	switch p.stage {
	case AwaitingCharacteristics, AwaitingSubscriptionAck, Subscribed:
	default:
		return
	}

	if len(ev.Invalidated) > 0 {
		hit := false
		for _, svc := range ev.Invalidated {
			if gattuuid.Equal(svc.UUID, p.service.UUID) {
				hit = true
				break
			}
		}
		if !hit {
			p.logger().Debug("Services changed, chosen service unaffected")
			return
		}
	}

	if p.restarts >= p.env.opts.MaxRediscoveries {
		p.failWith(&DiscoveryFailedError{Peer: p.peer, Stage: AwaitingServices, Cause: ErrServicesChanged})
		return
	}

	p.restarts++
	p.logger().WithField("restart", p.restarts).Warn("Services changed, restarting discovery")
	p.release()
	p.service = nil
	p.char = nil
	p.discoverServices()
}

func (p *Pipeline) onTimeout(ev stageTimeout) {
	if !p.accepts(ev.Req, ev.Stage) {
		return
	}
	if ev.Stage == AwaitingConnection {
		if err := p.env.ctrl.CancelConnection(p.peer); err != nil {
			p.logger().WithError(err).Warn("Failed to cancel pending connection")
		}
	}
	p.fail(ErrTimeout)
}

// Teardown destroys the pipeline at whatever stage it is in. Discovered
// descriptors are discarded.
func (p *Pipeline) Teardown() {
	if p.destroyed {
		return
	}
	p.release()
	p.destroyed = true
	p.service = nil
	p.char = nil
	p.logger().Debug("Discovery pipeline destroyed")
}
