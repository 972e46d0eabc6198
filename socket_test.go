package reactio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func runLoop(t *testing.T, l *Loop) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()
	t.Cleanup(func() {
		l.Stop(false)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("loop did not stop")
		}
	})
}

func TestSocketTCPPingPong(t *testing.T) {
	l := newTestLoop(t)
	runLoop(t, l)

	serverCB := NewRegistry()
	srv, err := NewSocket(KindTCP, serverCB, "127.0.0.1", "0", WithAIFlags(AIPassive))
	if err != nil {
		t.Fatalf("NewSocket server: %v", err)
	}
	if _, err := srv.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	serverSideConns := make(chan *Socket, 1)
	serverCB.Add(SocketConnectEvt, nil, func(ctx any, args ...any) {
		child, _, err := srv.Accept(serverCB, l)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		serverSideConns <- child
	})

	if _, err := srv.Listen(l); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	_, port := addrToHostPort(srv.localSA)

	clientCB := NewRegistry()
	cli, err := NewSocket(KindTCP, clientCB, "127.0.0.1", port)
	if err != nil {
		t.Fatalf("NewSocket client: %v", err)
	}

	clientConnected := make(chan struct{}, 1)
	clientCB.Add(SocketConnectEvt, nil, func(ctx any, args ...any) {
		clientConnected <- struct{}{}
	})

	if _, err := cli.Connect(l); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case <-clientConnected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never observed socket-connect-evt")
	}

	var serverConn *Socket
	select {
	case serverConn = <-serverSideConns:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
	}

	// Echo whatever the server side reads back to the client.
	serverCB.Add(SocketReadEvt, serverConn, func(ctx any, args ...any) {
		conn := ctx.(*Socket)
		n := args[1].(int)
		buf := make([]byte, n)
		if _, err := conn.Read(buf); err != nil {
			t.Errorf("server Read: %v", err)
			return
		}
		if err := conn.Write(buf); err != nil {
			t.Errorf("server Write: %v", err)
		}
	})

	echoed := make(chan []byte, 1)
	clientCB.Add(SocketReadEvt, nil, func(ctx any, args ...any) {
		n := args[1].(int)
		buf := make([]byte, n)
		if _, err := cli.Read(buf); err != nil {
			t.Errorf("client Read: %v", err)
			return
		}
		echoed <- buf
	})

	if err := cli.Write([]byte("ping")); err != nil {
		t.Fatalf("client Write: %v", err)
	}

	select {
	case got := <-echoed:
		if string(got) != "ping" {
			t.Fatalf("unexpected echo: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the echo")
	}
}

func TestSocketUDPPingPong(t *testing.T) {
	l := newTestLoop(t)
	runLoop(t, l)

	serverCB := NewRegistry()
	srv, err := NewSocket(KindUDP, serverCB, "127.0.0.1", "0", WithAIFlags(AIPassive))
	if err != nil {
		t.Fatalf("NewSocket server: %v", err)
	}
	if _, err := srv.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := srv.aiofd.EnableReadEvt(true, l); err != nil {
		t.Fatalf("EnableReadEvt: %v", err)
	}

	serverCB.Add(SocketReadEvt, nil, func(ctx any, args ...any) {
		buf := make([]byte, 64)
		n, from, err := srv.ReadFrom(buf)
		if err != nil {
			t.Errorf("server ReadFrom: %v", err)
			return
		}
		if err := srv.WriteTo(buf[:n], from); err != nil {
			t.Errorf("server WriteTo: %v", err)
		}
	})

	_, port := addrToHostPort(srv.localSA)

	clientCB := NewRegistry()
	cli, err := NewSocket(KindUDP, clientCB, "127.0.0.1", port)
	if err != nil {
		t.Fatalf("NewSocket client: %v", err)
	}
	if _, err := cli.Connect(l); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := cli.aiofd.EnableReadEvt(true, l); err != nil {
		t.Fatalf("EnableReadEvt: %v", err)
	}

	echoed := make(chan []byte, 1)
	clientCB.Add(SocketReadEvt, nil, func(ctx any, args ...any) {
		n := args[1].(int)
		buf := make([]byte, n)
		if _, err := cli.Read(buf); err != nil {
			t.Errorf("client Read: %v", err)
			return
		}
		echoed <- buf
	})

	if err := cli.Write([]byte("ping")); err != nil {
		t.Fatalf("client Write: %v", err)
	}

	select {
	case got := <-echoed:
		if string(got) != "ping" {
			t.Fatalf("unexpected echo: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the UDP echo")
	}
}

func TestSocketUnixPingPongAndPathCleanup(t *testing.T) {
	l := newTestLoop(t)
	runLoop(t, l)

	sockPath := filepath.Join(t.TempDir(), "reactio-test.sock")

	serverCB := NewRegistry()
	srv, err := NewSocket(KindUnix, serverCB, sockPath, "")
	if err != nil {
		t.Fatalf("NewSocket server: %v", err)
	}
	if _, err := srv.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if _, err := os.Stat(sockPath); err != nil {
		t.Fatalf("expected the socket inode to exist after Bind: %v", err)
	}

	serverSideConns := make(chan *Socket, 1)
	serverCB.Add(SocketConnectEvt, nil, func(ctx any, args ...any) {
		child, _, err := srv.Accept(serverCB, l)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		serverSideConns <- child
	})

	if _, err := srv.Listen(l); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	clientCB := NewRegistry()
	cli, err := NewSocket(KindUnix, clientCB, sockPath, "")
	if err != nil {
		t.Fatalf("NewSocket client: %v", err)
	}

	clientConnected := make(chan struct{}, 1)
	clientCB.Add(SocketConnectEvt, nil, func(ctx any, args ...any) {
		clientConnected <- struct{}{}
	})
	if _, err := cli.Connect(l); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case <-clientConnected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never observed socket-connect-evt")
	}

	var serverConn *Socket
	select {
	case serverConn = <-serverSideConns:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
	}

	serverCB.Add(SocketReadEvt, serverConn, func(ctx any, args ...any) {
		conn := ctx.(*Socket)
		n := args[1].(int)
		buf := make([]byte, n)
		if _, err := conn.Read(buf); err != nil {
			t.Errorf("server Read: %v", err)
			return
		}
		if err := conn.Write(buf); err != nil {
			t.Errorf("server Write: %v", err)
		}
	})

	echoed := make(chan []byte, 1)
	clientCB.Add(SocketReadEvt, nil, func(ctx any, args ...any) {
		n := args[1].(int)
		buf := make([]byte, n)
		if _, err := cli.Read(buf); err != nil {
			t.Errorf("client Read: %v", err)
			return
		}
		echoed <- buf
	})

	if err := cli.Write([]byte("ping")); err != nil {
		t.Fatalf("client Write: %v", err)
	}

	select {
	case got := <-echoed:
		if string(got) != "ping" {
			t.Fatalf("unexpected echo: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the echo")
	}

	if _, err := srv.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if _, err := os.Stat(sockPath); err == nil {
		t.Fatal("expected the socket path to be unlinked after Disconnect")
	}
}

// Connecting to a port nobody is listening on must surface
// socket-error-evt (ECONNREFUSED) and never socket-connect-evt.
func TestSocketConnectRefused(t *testing.T) {
	l := newTestLoop(t)
	runLoop(t, l)

	// Grab an ephemeral port and immediately let it go unused.
	probe, err := NewSocket(KindTCP, NewRegistry(), "127.0.0.1", "0", WithAIFlags(AIPassive))
	if err != nil {
		t.Fatalf("NewSocket probe: %v", err)
	}
	if _, err := probe.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	_, port := addrToHostPort(probe.localSA)
	if _, err := probe.Disconnect(); err != nil {
		t.Fatalf("Disconnect probe: %v", err)
	}

	cb := NewRegistry()
	cli, err := NewSocket(KindTCP, cb, "127.0.0.1", port)
	if err != nil {
		t.Fatalf("NewSocket client: %v", err)
	}

	connected := make(chan struct{}, 1)
	errored := make(chan any, 1)
	cb.Add(SocketConnectEvt, nil, func(ctx any, args ...any) { connected <- struct{}{} })
	cb.Add(SocketErrorEvt, nil, func(ctx any, args ...any) { errored <- args[1] })

	if _, err := cli.Connect(l); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case <-connected:
		t.Fatal("connecting to a closed port must not fire socket-connect-evt")
	case errno := <-errored:
		e, ok := errno.(*Errno)
		if !ok {
			t.Fatalf("expected a *Errno error payload, got %T", errno)
		}
		if e.Errno != unix.ECONNREFUSED {
			t.Fatalf("expected ECONNREFUSED, got %v", e.Errno)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for socket-error-evt")
	}
}

func TestSocketGetTypeOnNilIsUnknown(t *testing.T) {
	var s *Socket
	if s.GetType() != KindUnknown {
		t.Fatalf("GetType on a nil *Socket should be KindUnknown, got %v", s.GetType())
	}
}

func TestSocketUnixRequiresEmptyPort(t *testing.T) {
	if _, err := NewSocket(KindUnix, NewRegistry(), "/tmp/x.sock", "1234"); err != ErrUnixPortGiven {
		t.Fatalf("expected ErrUnixPortGiven, got %v", err)
	}
}
