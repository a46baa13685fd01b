package gatt

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/att"
	"github.com/srg/gattc/internal/bledb"
)

// ErrAlreadyInitialized is reported when Initialize is invoked a second
// time; the manager supports a single initialize sequence per instance.
var ErrAlreadyInitialized = errors.New("gatt: initialization already started")

// InitCallback resolves an Initialize call with its final status.
// A non-nil error means the discovery sequence did not fully succeed;
// callers must inspect it rather than rely on the manager being marked
// initialized.
type InitCallback func(err error)

// ServiceListCallback resolves a ListServices query.
type ServiceListCallback func(err error, services []*RemoteService)

// ServiceWatcher observes discovered services once initialization finishes.
type ServiceWatcher func(svc *RemoteService)

// ManagerOptions tunes RemoteServiceManager construction.
type ManagerOptions struct {
	// NotificationBuffer is the per-service update stream capacity.
	NotificationBuffer int
}

const defaultNotificationBuffer = 128

// serviceListRequest is one queued ListServices query: a completion
// callback plus an optional UUID allow-list, resolved exactly once.
type serviceListRequest struct {
	callback ServiceListCallback
	uuids    []string // normalized; empty matches every service
}

// complete resolves the request against the given table snapshot,
// re-applying the request's own filter. Pure read: neither the table nor
// other requests are touched.
func (r *serviceListRequest) complete(err error, services []*RemoteService) {
	if err != nil || len(services) == 0 {
		r.callback(err, nil)
		return
	}

	var result []*RemoteService
	for _, svc := range services {
		if matchesUUIDFilter(svc.UUID(), r.uuids) {
			result = append(result, svc)
		}
	}
	r.callback(err, result)
}

func matchesUUIDFilter(uuid string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, u := range filter {
		if u == uuid {
			return true
		}
	}
	return false
}

// RemoteServiceManager discovers the services exposed by a remote GATT
// server, maintains the authoritative table of discovered services for the
// connection, serializes local queries against that table and routes
// server-initiated notifications to the service owning the addressed
// handle.
//
// The manager borrows the Client for the connection's lifetime and installs
// itself as the connection's single notification handler at construction.
// All operations and Client continuations are serialized on an internal
// mutex; user callbacks run outside it and may re-enter the manager.
type RemoteServiceManager struct {
	client Client
	logger *logrus.Logger
	buffer int

	// closed invalidates deferred Client continuations: once set, they
	// resolve their terminal callbacks with att.ErrFailed and leave the
	// table alone. Client operations in flight are not otherwise
	// synchronized with Close.
	closed atomic.Bool

	mu          sync.Mutex
	initStarted bool
	initialized bool
	services    serviceTable
	pending     []*serviceListRequest
	watcher     ServiceWatcher
}

// NewRemoteServiceManager creates a manager over the given client and
// registers for notification delivery, which may begin before any services
// are discovered; such early notifications are dropped.
func NewRemoteServiceManager(client Client, logger *logrus.Logger, opts *ManagerOptions) *RemoteServiceManager {
	if logger == nil {
		logger = logrus.New()
	}
	buffer := defaultNotificationBuffer
	if opts != nil && opts.NotificationBuffer > 0 {
		buffer = opts.NotificationBuffer
	}

	m := &RemoteServiceManager{
		client: client,
		logger: logger,
		buffer: buffer,
	}
	m.client.SetNotificationHandler(m.onNotification)
	return m
}

// SetServiceWatcher installs the observer invoked once per table entry when
// initialization completes. Services are not reported incrementally during
// discovery.
func (m *RemoteServiceManager) SetServiceWatcher(w ServiceWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watcher = w
}

// Initialize runs the discovery sequence: MTU negotiation, then primary
// service discovery, then secondary service discovery, restricted to
// uuidFilter when non-empty. onDone resolves exactly once with the final
// status; pending ListServices queries are flushed afterwards in FIFO
// order. One-shot: a second call resolves onDone with
// ErrAlreadyInitialized.
func (m *RemoteServiceManager) Initialize(onDone InitCallback, uuidFilter []string) {
	m.mu.Lock()
	if m.initStarted {
		m.mu.Unlock()
		onDone(ErrAlreadyInitialized)
		return
	}
	m.initStarted = true
	m.mu.Unlock()

	filter := bledb.NormalizeUUIDs(uuidFilter)
	initDone := m.finishInitialize(onDone)

	m.client.ExchangeMTU(func(mtu int, err error) {
		if m.closed.Load() {
			initDone(att.ErrFailed)
			return
		}
		if err != nil {
			m.logger.WithError(err).Warn("MTU exchange failed")
			initDone(err)
			return
		}
		m.logger.WithField("mtu", mtu).Debug("MTU exchange complete")
		m.discoverServices(filter, initDone)
	})
}

// finishInitialize produces the terminal continuation of the initialize
// sequence: mark the manager initialized (meaning "discovery finished",
// not "discovery succeeded"), resolve the caller, flush pending queries in
// enqueue order against the final table, then report each table entry to
// the watcher.
func (m *RemoteServiceManager) finishInitialize(onDone InitCallback) StatusCallback {
	return func(err error) {
		m.mu.Lock()
		if m.closed.Load() {
			m.mu.Unlock()
			onDone(att.ErrFailed)
			return
		}
		m.initialized = true
		pending := m.pending
		m.pending = nil
		watcher := m.watcher
		m.mu.Unlock()

		onDone(err)

		// onDone may re-enter the manager (e.g. ClearServices); flushed
		// queries and the watcher observe the table as it stands now, not
		// as it stood before the caller was resolved.
		m.mu.Lock()
		snapshot := m.services.all()
		m.mu.Unlock()

		for _, req := range pending {
			req.complete(err, snapshot)
		}
		if watcher != nil {
			for _, svc := range snapshot {
				watcher(svc)
			}
		}
	}
}

// discoverServices runs the primary round followed by the secondary round.
// The failure policy is intentionally asymmetric: primary discovery is
// mandatory and a failure there clears everything buffered so far, while
// secondary discovery is best-effort and leaves already-discovered primary
// services in place.
func (m *RemoteServiceManager) discoverServices(uuids []string, done StatusCallback) {
	m.discoverServicesOfKind(ServiceKindPrimary, uuids, func(err error) {
		if m.closed.Load() {
			done(att.ErrFailed)
			return
		}
		if err != nil {
			// Service discovery support is mandatory for servers
			// (Core Spec v5.0, Vol 3, Part G, 4.2).
			m.logger.WithError(err).Warn("Primary service discovery failed")
			m.ClearServices()
			done(err)
			return
		}

		m.discoverServicesOfKind(ServiceKindSecondary, uuids, func(err error) {
			if m.closed.Load() {
				done(att.ErrFailed)
				return
			}
			if att.IsProtocolError(err, att.UnsupportedGroupType) {
				// Not all GATT servers support the secondary service group
				// type; report no secondary services instead of failing.
				m.logger.Debug("Peer does not support secondary services; ignoring ATT error")
				err = nil
			} else if err != nil {
				m.logger.WithError(err).Warn("Secondary service discovery failed")
			}
			done(err)
		})
	})
}

func (m *RemoteServiceManager) discoverServicesOfKind(kind ServiceKind, uuids []string, doneCb StatusCallback) {
	if len(uuids) > 0 {
		m.client.DiscoverServicesWithUUIDs(kind, m.AddService, doneCb, uuids)
	} else {
		m.client.DiscoverServices(kind, m.AddService, doneCb)
	}
}

// AddService inserts a discovered service into the table. A duplicate
// start handle is a protocol anomaly from the peer: the new entry is
// discarded and the anomaly logged. Calls after Close are dropped like any
// other late continuation.
func (m *RemoteServiceManager) AddService(data ServiceData) {
	if m.closed.Load() {
		return
	}

	m.mu.Lock()
	if _, exists := m.services.find(data.StartHandle); exists {
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"handle": fmt.Sprintf("%#.4x", data.StartHandle),
			"uuid":   data.UUID,
		}).Error("Found duplicate service attribute handle; discarding")
		return
	}
	m.services.insert(NewRemoteService(data, m.client, m.logger, m.buffer))
	m.mu.Unlock()
}

// ListServices reports the services currently in the table, restricted to
// uuidFilter when non-empty. Queries issued before initialization completes
// are queued and resolved, in call order, when it does.
func (m *RemoteServiceManager) ListServices(uuidFilter []string, callback ServiceListCallback) {
	req := &serviceListRequest{
		callback: callback,
		uuids:    bledb.NormalizeUUIDs(uuidFilter),
	}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		req.complete(att.ErrFailed, nil)
		return
	}
	if !m.initialized {
		m.pending = append(m.pending, req)
		m.mu.Unlock()
		return
	}
	snapshot := m.services.all()
	m.mu.Unlock()

	req.complete(nil, snapshot)
}

// FindService looks up a service by its exact start handle.
func (m *RemoteServiceManager) FindService(handle att.Handle) (*RemoteService, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.services.find(handle)
}

// ClearServices atomically detaches the whole table, then shuts down every
// detached service. Detached services stay alive for holders of shared
// references but are no longer reachable through the manager.
func (m *RemoteServiceManager) ClearServices() {
	m.mu.Lock()
	detached := m.services.detach()
	m.mu.Unlock()

	for _, svc := range detached {
		svc.ShutDown()
	}
}

// Close tears the manager down: notification delivery is unregistered, the
// table is cleared and every still-pending query is failed, since no
// meaningful discovery result can be produced anymore. Continuations of
// Client operations still in flight become no-ops with respect to manager
// state but keep resolving their terminal callbacks.
func (m *RemoteServiceManager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	m.client.SetNotificationHandler(nil)
	m.ClearServices()

	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, req := range pending {
		req.complete(att.ErrFailed, nil)
	}
}

// onNotification routes one notification to the service owning the value
// handle: the entry with the greatest start handle <= handle, provided its
// range still covers it. Unroutable values are dropped.
func (m *RemoteServiceManager) onNotification(indication bool, handle att.Handle, value []byte) {
	m.mu.Lock()
	if m.services.len() == 0 {
		m.mu.Unlock()
		m.logger.WithField("handle", handle).Debug("Ignoring notification from unknown service")
		return
	}
	svc, ok := m.services.containing(handle)
	m.mu.Unlock()

	if !ok {
		m.logger.WithField("handle", handle).Debug("Notification handle not covered by any discovered service")
		return
	}
	svc.HandleNotification(indication, handle, value)
}
