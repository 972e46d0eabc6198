// Package reactio is a single-threaded, reactor-coupled asynchronous I/O
// stack: a named-callback dispatcher, an event-loop wrapper around a
// kernel readiness multiplexer (epoll on Linux, kqueue on BSD/Darwin), a
// buffered non-blocking file-descriptor I/O engine (Aiofd), and a
// connection-oriented and datagram socket engine layered on top.
//
// reactio acts as a reactor: user code registers named listeners on a
// Registry, starts Events on a Loop, and calls Loop.Run. All I/O
// completes synchronously or is announced through named events
// ("aiofd-read-evt", "socket-connect-evt", ...) delivered on the loop's
// own goroutine.
package reactio
