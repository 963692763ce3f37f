package central

import (
	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// Router applies connection events to the registry and owns the pipeline table.
// A pipeline exists exactly while its peer is registered.
type Router struct {
	env       *env
	registry  *Registry
	adapter   *AdapterMonitor
	pipelines *hashmap.Map[PeerID, *Pipeline]
}

func newRouter(e *env, registry *Registry, adapter *AdapterMonitor) *Router {
	return &Router{
		env:       e,
		registry:  registry,
		adapter:   adapter,
		pipelines: hashmap.New[PeerID, *Pipeline](),
	}
}

// Pipeline returns the pipeline of a registered peer.
func (r *Router) Pipeline(id PeerID) (*Pipeline, bool) {
	return r.pipelines.Get(id)
}

// OnConnectionEvent updates the registry and pipeline table for ev.
func (r *Router) OnConnectionEvent(ev ConnectionEvent) {
	logger := r.env.logger.WithFields(logrus.Fields{"peer": ev.Peer.ID, "event": ev.Kind})

	switch ev.Kind {
	case PeerConnected:
		if !r.adapter.IsReady() {
			logger.Warn("Ignoring connection event, adapter not ready")
			return
		}
		r.onConnected(ev.Peer, logger)
	default:
		r.remove(ev.Peer.ID, logger)
	}
}

func (r *Router) onConnected(peer PeerInfo, logger *logrus.Entry) {
	if peer.ID == "" {
		logger.Warn("Ignoring connection event without peer identity")
		return
	}

	if !r.registry.Append(Peripheral{ID: peer.ID, Name: peer.Name}) {
		logger.Debug("Peripheral already registered, refreshing")
		r.env.changed(ChangePeripherals)
		if p, ok := r.pipelines.Get(peer.ID); ok && p.Stage() != Failed {
			return
		}
	} else {
		logger.WithField("name", peer.Name).Info("Peripheral registered")
		r.env.changed(ChangePeripherals)
	}

	p := r.replacePipeline(peer.ID)
	if r.env.opts.AutoConnect {
		p.Connect()
	}
}

// replacePipeline destroys any existing pipeline for id and installs a new one.
func (r *Router) replacePipeline(id PeerID) *Pipeline {
	if old, ok := r.pipelines.Get(id); ok {
		old.Teardown()
	}
	p := newPipeline(r.env, id)
	r.pipelines.Set(id, p)
	return p
}

func (r *Router) remove(id PeerID, logger *logrus.Entry) {
	r.env.record(id, EntryMilestone, msgDisconnected)

	if p, ok := r.pipelines.Get(id); ok {
		p.Teardown()
		r.pipelines.Del(id)
	}
	if _, ok := r.registry.RemoveByID(id); !ok {
		logger.Debug("Disconnect for unregistered peripheral")
		return
	}
	logger.Info("Peripheral removed")
	r.env.changed(ChangePeripherals | ChangeStage)
}

// Connect starts the connection of a registered peer. A Failed pipeline is
// replaced by a fresh one first; a pipeline already past AwaitingConnection is
// left alone.
func (r *Router) Connect(id PeerID) error {
	if !r.adapter.IsReady() {
		return r.adapter.unavailable()
	}
	if _, ok := r.registry.Get(id); !ok {
		return ErrUnknownPeer
	}

	p, ok := r.pipelines.Get(id)
	if !ok || p.Stage() == Failed {
		p = r.replacePipeline(id)
	}
	p.Connect()
	return nil
}

// DropAll removes every peer, destroying its pipeline.
func (r *Router) DropAll() {
	for _, id := range r.registry.IDs() {
		r.remove(id, r.env.logger.WithField("peer", id))
	}
}

// route returns the pipeline a peer-scoped callback belongs to.
func (r *Router) route(peer PeerID) (*Pipeline, bool) {
	p, ok := r.pipelines.Get(peer)
	if !ok {
		r.env.logger.WithField("peer", peer).Debug("Ignoring callback for unknown peripheral")
	}
	return p, ok
}
