package reactio

// Dispatch names. This table is the source of truth for every name used
// across the core.
const (
	// Event-loop delivery.
	EvtSignal = "evt-signal"
	EvtChild  = "evt-child"
	EvtIO     = "evt-io"

	// Aiofd -> user notifications.
	AiofdReadEvt  = "aiofd-read-evt"
	AiofdWriteEvt = "aiofd-write-evt"
	AiofdErrorEvt = "aiofd-error-evt"

	// Aiofd -> user-overridable I/O strategies.
	AiofdReadIO   = "aiofd-read-io"
	AiofdWriteIO  = "aiofd-write-io"
	AiofdReadvIO  = "aiofd-readv-io"
	AiofdWritevIO = "aiofd-writev-io"
	AiofdNreadIO  = "aiofd-nread-io"

	// Socket -> user.
	SocketConnectEvt    = "socket-connect-evt"
	SocketDisconnectEvt = "socket-disconnect-evt"
	SocketErrorEvt      = "socket-error-evt"
	SocketReadEvt       = "socket-read-evt"
	SocketWriteEvt      = "socket-write-evt"
)
