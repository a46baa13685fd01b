package gatt_test

import (
	"sync"

	"github.com/srg/gattc/internal/att"
	"github.com/srg/gattc/internal/gatt"
)

// fakeClient is a hand-driven gatt.Client: it records every request's
// callbacks and lets the test fire them in any order, including after the
// manager has been closed, to simulate continuations outliving their owner.
type fakeClient struct {
	mu      sync.Mutex
	handler gatt.NotificationHandler

	mtuCallbacks []gatt.MTUCallback
	discoveries  []*fakeDiscovery
}

// fakeDiscovery is one recorded discovery round.
type fakeDiscovery struct {
	Kind  gatt.ServiceKind
	UUIDs []string

	svcCb  gatt.ServiceCallback
	doneCb gatt.StatusCallback
}

// report feeds one discovered service into the round's per-service callback.
func (d *fakeDiscovery) report(data gatt.ServiceData) {
	d.svcCb(data)
}

// complete resolves the round.
func (d *fakeDiscovery) complete(err error) {
	d.doneCb(err)
}

func newFakeClient() *fakeClient {
	return &fakeClient{}
}

func (c *fakeClient) ExchangeMTU(cb gatt.MTUCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mtuCallbacks = append(c.mtuCallbacks, cb)
}

func (c *fakeClient) DiscoverServices(kind gatt.ServiceKind, svcCb gatt.ServiceCallback, doneCb gatt.StatusCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoveries = append(c.discoveries, &fakeDiscovery{Kind: kind, svcCb: svcCb, doneCb: doneCb})
}

func (c *fakeClient) DiscoverServicesWithUUIDs(kind gatt.ServiceKind, svcCb gatt.ServiceCallback, doneCb gatt.StatusCallback, uuids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoveries = append(c.discoveries, &fakeDiscovery{Kind: kind, UUIDs: uuids, svcCb: svcCb, doneCb: doneCb})
}

func (c *fakeClient) SetNotificationHandler(h gatt.NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// completeMTU resolves the oldest outstanding MTU exchange.
func (c *fakeClient) completeMTU(mtu int, err error) {
	c.mu.Lock()
	cb := c.mtuCallbacks[0]
	c.mtuCallbacks = c.mtuCallbacks[1:]
	c.mu.Unlock()
	cb(mtu, err)
}

// lastDiscovery returns the most recently issued discovery round.
func (c *fakeClient) lastDiscovery() *fakeDiscovery {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.discoveries) == 0 {
		return nil
	}
	return c.discoveries[len(c.discoveries)-1]
}

// notify delivers a notification through the installed handler, mimicking
// the transport's asynchronous delivery path.
func (c *fakeClient) notify(indication bool, handle att.Handle, value []byte) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(indication, handle, value)
	}
}

func (c *fakeClient) hasHandler() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// svcData is shorthand for building discovery results in tests.
func svcData(start, end att.Handle, uuid string, kind gatt.ServiceKind) gatt.ServiceData {
	return gatt.ServiceData{StartHandle: start, EndHandle: end, UUID: uuid, Kind: kind}
}
