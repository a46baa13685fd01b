// Package goble adapts a go-ble connection to the gatt.Client interface:
// MTU negotiation, service discovery and the single-sink notification
// funnel the GATT layer is built on.
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/gattc/internal/att"
	"github.com/srg/gattc/internal/bledb"
	"github.com/srg/gattc/internal/gatt"
	"github.com/srg/gattc/internal/groutine"
	"github.com/srg/gattc/pkg/config"
)

// Conn is the subset of ble.Client the adapter drives. Narrowed so tests
// can substitute a fake without implementing the whole go-ble surface.
type Conn interface {
	ExchangeMTU(rxMTU int) (txMTU int, err error)
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// Client implements gatt.Client over a live go-ble connection.
//
// go-ble performs discovery with blocking calls; the adapter runs each
// request on its own goroutine and resolves the gatt callbacks from there.
type Client struct {
	conn   Conn
	cfg    *config.Config
	logger *logrus.Logger

	handlerMu sync.RWMutex
	handler   gatt.NotificationHandler

	// services caches discovered go-ble services by start handle, in
	// discovery order, for later characteristic subscription.
	services *orderedmap.OrderedMap[uint16, *ble.Service]

	// subscribed maps value handles of subscribed characteristics to their
	// live go-ble handles. Written during SubscribeService, drained on
	// Close, possibly from different goroutines.
	subscribed *hashmap.Map[uint16, *ble.Characteristic]
}

// NewClient wraps an established go-ble connection.
func NewClient(conn Conn, cfg *config.Config, logger *logrus.Logger) *Client {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		conn:       conn,
		cfg:        cfg,
		logger:     logger,
		services:   orderedmap.New[uint16, *ble.Service](),
		subscribed: hashmap.New[uint16, *ble.Characteristic](),
	}
}

// ExchangeMTU negotiates the session MTU, offering the configured receive
// MTU.
func (c *Client) ExchangeMTU(cb gatt.MTUCallback) {
	groutine.Go(context.Background(), "gatt-mtu-exchange", func(context.Context) {
		mtu, err := c.conn.ExchangeMTU(c.cfg.PreferredMTU)
		if err != nil {
			cb(0, fmt.Errorf("failed to exchange MTU: %w", err))
			return
		}
		cb(mtu, nil)
	})
}

// DiscoverServices implements the unfiltered discovery round.
func (c *Client) DiscoverServices(kind gatt.ServiceKind, svcCb gatt.ServiceCallback, doneCb gatt.StatusCallback) {
	c.discover(kind, nil, svcCb, doneCb)
}

// DiscoverServicesWithUUIDs implements the UUID-restricted discovery round.
func (c *Client) DiscoverServicesWithUUIDs(kind gatt.ServiceKind, svcCb gatt.ServiceCallback, doneCb gatt.StatusCallback, uuids []string) {
	c.discover(kind, uuids, svcCb, doneCb)
}

func (c *Client) discover(kind gatt.ServiceKind, uuids []string, svcCb gatt.ServiceCallback, doneCb gatt.StatusCallback) {
	if kind == gatt.ServiceKindSecondary {
		// go-ble only issues primary-group discovery requests. Report the
		// secondary round the way a peer without secondary support would;
		// the GATT layer treats this as an empty result.
		c.logger.Debug("Secondary service discovery not supported by transport")
		groutine.Go(context.Background(), "gatt-service-discovery", func(context.Context) {
			doneCb(att.ErrUnsupportedGroupType)
		})
		return
	}

	groutine.Go(context.Background(), "gatt-service-discovery", func(context.Context) {
		filter, err := parseUUIDFilter(uuids)
		if err != nil {
			doneCb(err)
			return
		}

		svcs, err := c.discoverWithTimeout(filter)
		if err != nil {
			doneCb(err)
			return
		}

		for _, svc := range svcs {
			c.services.Set(svc.Handle, svc)
			c.logger.WithFields(logrus.Fields{
				"service_uuid": svc.UUID.String(),
				"handle":       fmt.Sprintf("%#.4x", svc.Handle),
			}).Debug("Found service")

			svcCb(gatt.ServiceData{
				StartHandle: svc.Handle,
				EndHandle:   svc.EndHandle,
				UUID:        bledb.NormalizeUUID(svc.UUID.String()),
				Kind:        kind,
			})
		}
		doneCb(nil)
	})
}

// discoverWithTimeout bounds one blocking discovery call by the configured
// discovery timeout. go-ble cannot cancel an in-flight request; on timeout
// its eventual result is discarded.
func (c *Client) discoverWithTimeout(filter []ble.UUID) ([]*ble.Service, error) {
	type result struct {
		svcs []*ble.Service
		err  error
	}
	resCh := make(chan result, 1)
	groutine.Go(context.Background(), "gatt-service-discovery-io", func(context.Context) {
		svcs, err := c.conn.DiscoverServices(filter)
		resCh <- result{svcs: svcs, err: err}
	})

	if c.cfg.DiscoveryTimeout <= 0 {
		res := <-resCh
		if res.err != nil {
			return nil, fmt.Errorf("failed to discover services: %w", res.err)
		}
		return res.svcs, nil
	}

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to discover services: %w", res.err)
		}
		return res.svcs, nil
	case <-time.After(c.cfg.DiscoveryTimeout):
		return nil, fmt.Errorf("service discovery timed out after %s", c.cfg.DiscoveryTimeout)
	}
}

// SetNotificationHandler installs the single notification sink. A nil
// handler clears it; values arriving with no handler installed are dropped.
func (c *Client) SetNotificationHandler(h gatt.NotificationHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = h
}

// SubscribeService subscribes every notify- or indicate-capable
// characteristic of the service with the given start handle, funneling
// values into the installed notification handler.
func (c *Client) SubscribeService(startHandle uint16) error {
	svc, ok := c.services.Get(startHandle)
	if !ok {
		return fmt.Errorf("service %#.4x not discovered", startHandle)
	}

	chars, err := c.conn.DiscoverCharacteristics(nil, svc)
	if err != nil {
		return fmt.Errorf("failed to discover characteristics of service %#.4x: %w", startHandle, err)
	}

	var subscribeErrors []string
	for _, char := range chars {
		indication := false
		switch {
		case char.Property&ble.CharNotify != 0:
		case char.Property&ble.CharIndicate != 0:
			indication = true
		default:
			continue
		}

		vh := char.ValueHandle
		ind := indication
		err := c.conn.Subscribe(char, indication, func(data []byte) {
			c.dispatch(ind, vh, data)
		})
		if err != nil {
			subscribeErrors = append(subscribeErrors, fmt.Sprintf("%s: %v", char.UUID.String(), err))
			continue
		}
		c.subscribed.Set(vh, char)
	}

	if len(subscribeErrors) > 0 {
		return fmt.Errorf("subscription failures - %s", strings.Join(subscribeErrors, "; "))
	}
	return nil
}

// dispatch forwards one notification value into the installed handler.
func (c *Client) dispatch(indication bool, valueHandle uint16, data []byte) {
	c.handlerMu.RLock()
	handler := c.handler
	c.handlerMu.RUnlock()

	if handler == nil {
		c.logger.WithField("handle", valueHandle).Debug("Dropping notification with no handler installed")
		return
	}
	handler(indication, valueHandle, data)
}

// tryUnsubscribe attempts both notification and indication modes, failing
// only when both do.
func (c *Client) tryUnsubscribe(char *ble.Characteristic) error {
	err1 := c.conn.Unsubscribe(char, false)
	err2 := c.conn.Unsubscribe(char, true)
	if err1 != nil && err2 != nil {
		return fmt.Errorf("%s: notify=%v, indicate=%v", char.UUID.String(), err1, err2)
	}
	return nil
}

// Close unsubscribes every subscribed characteristic and cancels the
// underlying connection.
func (c *Client) Close() error {
	var unsubscribeErrors []string
	c.subscribed.Range(func(vh uint16, char *ble.Characteristic) bool {
		if err := c.tryUnsubscribe(char); err != nil {
			unsubscribeErrors = append(unsubscribeErrors, err.Error())
		}
		c.subscribed.Del(vh)
		return true
	})
	if len(unsubscribeErrors) > 0 {
		c.logger.WithField("errors", strings.Join(unsubscribeErrors, "; ")).
			Warn("Failed to unsubscribe from some characteristics during close")
	}

	return c.conn.CancelConnection()
}

func parseUUIDFilter(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	filter := make([]ble.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := ble.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("invalid service UUID %q: %w", u, err)
		}
		filter = append(filter, parsed)
	}
	return filter, nil
}
