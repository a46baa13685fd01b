package gatt

import (
	"github.com/srg/gattc/internal/att"
)

// ServiceKind distinguishes primary from secondary GATT services. Discovery
// runs in two rounds, one per kind.
type ServiceKind int

const (
	ServiceKindPrimary ServiceKind = iota
	ServiceKindSecondary
)

func (k ServiceKind) String() string {
	switch k {
	case ServiceKindPrimary:
		return "primary"
	case ServiceKindSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// ServiceData identifies one GATT service instance on the remote peer: a
// contiguous attribute handle range, its UUID (internal normalized string
// form, see bledb.NormalizeUUID) and its kind.
type ServiceData struct {
	StartHandle att.Handle
	EndHandle   att.Handle // inclusive
	UUID        string
	Kind        ServiceKind
}

// ServiceCallback is invoked once per service reported by a discovery round.
type ServiceCallback func(data ServiceData)

// StatusCallback resolves an asynchronous protocol step. A nil error means
// success; protocol-level failures carry an *att.Error.
type StatusCallback func(err error)

// MTUCallback resolves MTU negotiation with the agreed MTU on success.
type MTUCallback func(mtu int, err error)

// NotificationHandler receives asynchronously delivered, already-decoded
// notification and indication values addressed by attribute value handle.
type NotificationHandler func(indication bool, handle att.Handle, value []byte)

// Client supplies the attribute-protocol primitives the GATT layer is built
// on: MTU negotiation, service discovery and notification delivery. Wire
// encoding and transport multiplexing live behind this interface.
//
// All callbacks may be invoked from the Client's own delivery goroutine;
// implementations must not hold the callback across the call.
type Client interface {
	// ExchangeMTU negotiates the session MTU and resolves cb exactly once.
	ExchangeMTU(cb MTUCallback)

	// DiscoverServices discovers all services of the given kind, invoking
	// svcCb once per reported service before resolving doneCb.
	DiscoverServices(kind ServiceKind, svcCb ServiceCallback, doneCb StatusCallback)

	// DiscoverServicesWithUUIDs is DiscoverServices restricted to services
	// whose UUID is in the given allow-list.
	DiscoverServicesWithUUIDs(kind ServiceKind, svcCb ServiceCallback, doneCb StatusCallback, uuids []string)

	// SetNotificationHandler installs the single notification sink for this
	// connection. A nil handler clears it.
	SetNotificationHandler(h NotificationHandler)
}
