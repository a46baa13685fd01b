package gatt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/att"
	"github.com/srg/gattc/internal/bledb"
)

// globalNotificationSeq orders notification values across all services.
var globalNotificationSeq atomic.Uint64

// Notification is one peer-initiated value delivery routed to a service.
// Data is an owned copy; receivers may retain it.
type Notification struct {
	TsUs       int64
	Seq        uint64
	Handle     att.Handle
	Indication bool
	Data       []byte
}

// RemoteService represents one discovered GATT service. Instances are
// shared: the manager's table holds one reference and external callers
// performing in-flight operations may hold others, so a RemoteService can
// outlive its removal from the table. ShutDown makes it inert without
// affecting other holders' references.
type RemoteService struct {
	data      ServiceData
	knownName string
	client    Client // borrowed for characteristic operations
	logger    *logrus.Logger

	mu       sync.Mutex
	shutDown bool
	updates  *RingChannel[Notification]
}

// NewRemoteService builds a service from discovery data. The update stream
// holds up to buffer notifications with drop-oldest overflow.
func NewRemoteService(data ServiceData, client Client, logger *logrus.Logger, buffer int) *RemoteService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RemoteService{
		data:      data,
		knownName: bledb.LookupService(data.UUID),
		client:    client,
		logger:    logger,
		updates:   NewRingChannel[Notification](buffer),
	}
}

// StartHandle returns the first attribute handle of the service range.
func (s *RemoteService) StartHandle() att.Handle { return s.data.StartHandle }

// EndHandle returns the last attribute handle of the service range (inclusive).
func (s *RemoteService) EndHandle() att.Handle { return s.data.EndHandle }

// UUID returns the service UUID in normalized string form.
func (s *RemoteService) UUID() string { return s.data.UUID }

// Kind reports whether the service is primary or secondary.
func (s *RemoteService) Kind() ServiceKind { return s.data.Kind }

// KnownName returns the SIG-assigned name for the service UUID, or "".
func (s *RemoteService) KnownName() string { return s.knownName }

// Data returns a copy of the discovery data the service was built from.
func (s *RemoteService) Data() ServiceData { return s.data }

// Contains reports whether h falls inside the service's handle range.
func (s *RemoteService) Contains(h att.Handle) bool {
	return h >= s.data.StartHandle && h <= s.data.EndHandle
}

// Updates returns the service's notification stream. The channel is closed
// when the service is shut down.
func (s *RemoteService) Updates() <-chan Notification {
	return s.updates.C()
}

// IsShutDown reports whether the service has been made inert.
func (s *RemoteService) IsShutDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutDown
}

// ShutDown makes the service inert: its update stream is closed and any
// later notifications are dropped. Idempotent. Shared holders keep their
// references; only the service's ability to deliver work ends here.
func (s *RemoteService) ShutDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutDown {
		return
	}
	s.shutDown = true
	s.updates.Close()
}

// HandleNotification delivers one notification value to the service's
// update stream. Values arriving after shutdown are dropped.
func (s *RemoteService) HandleNotification(indication bool, handle att.Handle, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutDown {
		s.logger.WithFields(logrus.Fields{
			"service_uuid": s.data.UUID,
			"handle":       handle,
		}).Debug("Dropping notification for shut down service")
		return
	}

	data := make([]byte, len(value))
	copy(data, value)

	s.updates.Send(Notification{
		TsUs:       time.Now().UnixMicro(),
		Seq:        globalNotificationSeq.Add(1),
		Handle:     handle,
		Indication: indication,
		Data:       data,
	})
}
