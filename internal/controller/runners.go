package controller

import (
	"errors"
	"net"
	"time"

	"github.com/vanderheijden86/amba/pkg/debug"
	"github.com/vanderheijden86/amba/pkg/ipc"
	"github.com/vanderheijden86/amba/pkg/metrics"
	"github.com/vanderheijden86/amba/pkg/qmp"
)

// pollIdleSleep is how long the IPC reader naps when polling finds the
// socket idle.
const pollIdleSleep = time.Millisecond

// runIPCReader drains the plugin's edge stream into the pump. The fast
// path polls; a fragmented or oversized frame switches one receive to the
// blocking path, which is also how it recovers.
func runIPCReader(rx *ipc.Rx, tx chan<- Msg) {
	defer rx.Close()
	for {
		done := metrics.Timer(metrics.IPCDecode)
		msg, err := rx.PollingReceive()
		switch {
		case err == nil && msg == nil:
			done()
			time.Sleep(pollIdleSleep)
			continue
		case errors.Is(err, ipc.ErrPollingReceiveFragmented),
			errors.Is(err, ipc.ErrPollingReceiveTooLarge):
			msg, err = rx.BlockingReceive()
		}
		done()

		switch {
		case err == nil:
		case errors.Is(err, ipc.ErrEndOfFile):
			// Producer done: stop feeding edges, keep serving the GUI.
			tx <- QemuShutdown{}
			return
		case errors.Is(err, ipc.ErrInterrupted):
			continue
		default:
			debug.Log("ipc reader: %v", err)
			tx <- QemuShutdown{}
			return
		}

		switch msg := msg.(type) {
		case *ipc.Ping:
		case *ipc.NewEdges:
			tx <- UpdateEdges{StateEdges: msg.StateEdges, BlockEdges: msg.BlockEdges}
		default:
			debug.Log("ipc reader: unexpected inbound %T", msg)
		}
	}
}

// runQMP attaches to the QEMU machine protocol socket, negotiates
// capabilities and logs events until QEMU goes away. QEMU may bring the
// socket up slightly after launch, so connection is retried briefly.
func runQMP(socketPath string, tx chan<- Msg) {
	var conn net.Conn
	var err error
	for attempt := 0; attempt < 50; attempt++ {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		debug.Log("qmp: giving up connecting to %s: %v", socketPath, err)
		return
	}
	defer conn.Close()

	client := qmp.NewClient(conn)
	// The greeting arrives unprompted; then capabilities unlock commands.
	if _, err := client.BlockingReceive(); err != nil {
		debug.Log("qmp: greeting: %v", err)
		return
	}
	if _, err := client.BlockingRequest(qmp.Capabilities{}, nil); err != nil {
		debug.Log("qmp: capabilities: %v", err)
		return
	}

	for {
		resp, err := client.BlockingReceive()
		if err != nil {
			if !errors.Is(err, qmp.ErrEndOfFile) {
				debug.Log("qmp: receive: %v", err)
			}
			return
		}
		if resp.Event != nil {
			debug.Log("qmp: event %s", resp.Event.Event)
		}
	}
}
