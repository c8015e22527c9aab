// Package controller wires the long-lived threads of a run together: the
// IPC reader feeding edges in, the QMP client watching QEMU, the embedder
// advancing the layout, and the GUI steering exploration. A single message
// pump owns all cross-thread decisions.
package controller

import (
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/vanderheijden86/amba/internal/cmdrun"
	"github.com/vanderheijden86/amba/internal/session"
	"github.com/vanderheijden86/amba/pkg/config"
	"github.com/vanderheijden86/amba/pkg/debug"
	"github.com/vanderheijden86/amba/pkg/ipc"
	"github.com/vanderheijden86/amba/pkg/metrics"
	"github.com/vanderheijden86/amba/pkg/model"
)

// Msg is one controller pump message.
type Msg interface{ isMsg() }

type (
	// GuiShutdown stops the pump and tears down IPC and children.
	GuiShutdown struct{}
	// QemuShutdown reports that QEMU exited; the pump stops only when no
	// GUI is attached.
	QemuShutdown struct{}
	// TellQemuPid records the QEMU process id for the final SIGTERM.
	TellQemuPid struct{ Pid int }
	// UpdateEdges carries one decoded ingest batch.
	UpdateEdges struct {
		StateEdges []ipc.Edge
		BlockEdges []ipc.Edge
	}
	// EmbeddingParamsOrViewUpdated pokes the embedder awake.
	EmbeddingParamsOrViewUpdated struct{}
	// NewPriority asks for the states reachable from a state-graph node to
	// be prioritised in the guest.
	NewPriority struct{ Node int }
)

func (GuiShutdown) isMsg()                  {}
func (QemuShutdown) isMsg()                 {}
func (TellQemuPid) isMsg()                  {}
func (UpdateEdges) isMsg()                  {}
func (EmbeddingParamsOrViewUpdated) isMsg() {}
func (NewPriority) isMsg()                  {}

// EmbedderMsg is delivered to the embedder worker.
type EmbedderMsg interface{ isEmbedderMsg() }

type (
	// EmbedderUpdateEdges hands an ingest batch to the embedder thread.
	EmbedderUpdateEdges struct {
		StateEdges []ipc.Edge
		BlockEdges []ipc.Edge
	}
	// EmbedderWakeUp unblocks a converged embedder.
	EmbedderWakeUp struct{}
)

func (EmbedderUpdateEdges) isEmbedderMsg() {}
func (EmbedderWakeUp) isEmbedderMsg()      {}

// queueDepth sizes the pump and embedder channels. Senders never block in
// practice: the pump drains faster than the producers fill.
const queueDepth = 256

// prioritySender is what the pump needs from the IPC writer.
type prioritySender interface {
	BlockingSend(ipc.Message) error
}

// Controller owns the pump state.
type Controller struct {
	Tx chan Msg

	guiPresent     bool
	requestRepaint func()
	qemuPid        int
	embedderTx     chan EmbedderMsg
	sess           *session.Session
}

// New returns a controller. requestRepaint may be nil; a no-op is used then.
func New(guiPresent bool, requestRepaint func()) *Controller {
	if requestRepaint == nil {
		requestRepaint = func() {}
	}
	return &Controller{
		Tx:             make(chan Msg, queueDepth),
		guiPresent:     guiPresent,
		requestRepaint: requestRepaint,
	}
}

// Run launches QEMU and the worker threads and pumps messages until
// shutdown. Blocks for the whole run.
func (c *Controller) Run(cmd *cmdrun.Cmd, cfg config.Config, sess *session.Session, m *model.Model) error {
	c.sess = sess
	c.embedderTx = make(chan EmbedderMsg, queueDepth)

	var group errgroup.Group
	group.Go(func() error {
		return runQemu(cmd, cfg, sess, c.Tx)
	})

	ipcRx, ipcTx, err := ipc.Listen(sess.IPCSocket)
	if err != nil {
		return err
	}
	group.Go(func() error {
		runIPCReader(ipcRx, c.Tx)
		return nil
	})
	group.Go(func() error {
		runQMP(sess.QMPSocket, c.Tx)
		return nil
	})
	group.Go(func() error {
		RunEmbedder(m, c.embedderTx, sess, c.requestRepaint)
		return nil
	})

	c.pump(ipcTx, m)
	c.shutdown(sess.IPCSocket, ipcTx)

	err = group.Wait()
	os.Remove(sess.IPCSocket)
	os.Remove(sess.QMPSocket)
	return err
}

// pump runs the message loop. Exported for tests via RunPump.
func (c *Controller) pump(ipcTx prioritySender, m *model.Model) {
	for msg := range c.Tx {
		if done := c.handle(msg, ipcTx, m); done {
			return
		}
	}
}

// RunPump processes messages until a shutdown message arrives. It is the
// exported entry to the same loop Run drives, exercised directly in tests.
func (c *Controller) RunPump(ipcTx prioritySender, m *model.Model) {
	c.EmbedderRx()
	c.pump(ipcTx, m)
}

// EmbedderRx returns the channel the pump forwards embedder messages on,
// creating it on first use. RunEmbedder consumes it.
func (c *Controller) EmbedderRx() <-chan EmbedderMsg {
	if c.embedderTx == nil {
		c.embedderTx = make(chan EmbedderMsg, queueDepth)
	}
	return c.embedderTx
}

// handle processes one message and reports whether the pump should stop.
func (c *Controller) handle(msg Msg, ipcTx prioritySender, m *model.Model) bool {
	switch msg := msg.(type) {
	case GuiShutdown:
		return true
	case QemuShutdown:
		if !c.guiPresent {
			return true
		}
	case TellQemuPid:
		c.qemuPid = msg.Pid
	case UpdateEdges:
		select {
		case c.embedderTx <- EmbedderUpdateEdges{StateEdges: msg.StateEdges, BlockEdges: msg.BlockEdges}:
		default:
			// Embedder queue full: apply directly so no edges are lost.
			m.AddNewEdges(msg.StateEdges, msg.BlockEdges)
		}
		if c.sess != nil {
			if err := c.sess.RecordEdgeBatch(len(msg.StateEdges), len(msg.BlockEdges)); err != nil {
				debug.Log("controller: record edge batch: %v", err)
			}
		}
	case EmbeddingParamsOrViewUpdated:
		select {
		case c.embedderTx <- EmbedderWakeUp{}:
		default:
		}
	case NewPriority:
		states := m.GetNeighbourStates(msg.Node)
		debug.Log("controller: sending state priority %v", states)
		metrics.PrioritySignals.Add(1)
		if c.sess != nil {
			if err := c.sess.RecordPrioritySignal(len(states)); err != nil {
				debug.Log("controller: record priority signal: %v", err)
			}
		}
		done := metrics.Timer(metrics.IPCSend)
		err := ipcTx.BlockingSend(&ipc.PrioritiseStates{States: states})
		done()
		if err != nil {
			// The producer exiting first is normal; the GUI keeps running.
			debug.Log("controller: state priority signal sent, but execution has completed")
		}
	}
	return false
}

// shutdown tears down the children: unblock the IPC reader by connecting
// and closing, SIGTERM QEMU, and drop the embedder channel.
func (c *Controller) shutdown(ipcSocket string, ipcTx *ipc.Tx) {
	if conn, err := unixDial(ipcSocket); err == nil {
		conn.Close()
	}
	if c.qemuPid != 0 {
		if err := unix.Kill(c.qemuPid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			debug.Log("controller: SIGTERM qemu pid %d: %v", c.qemuPid, err)
		}
	}
	ipcTx.Close()
	close(c.embedderTx)
}

// runQemu launches QEMU+S2E for the session and reports its lifecycle to
// the pump.
func runQemu(cmd *cmdrun.Cmd, cfg config.Config, sess *session.Session, tx chan<- Msg) error {
	deps := cfg.Qemu.DependenciesDir
	arch := "x86_64"
	s2eMode := "s2e"

	qemuBin := filepath.Join(deps, "bin", "qemu-system-"+arch)
	libS2EDir := filepath.Join(deps, "share", "libs2e")
	libS2E := filepath.Join(libS2EDir, "libs2e-"+arch+"-"+s2eMode+".so")
	s2eConfig := filepath.Join(sess.Dir, "s2e-config.lua")
	dataDir, _ := cfg.ResolveDataDir()
	image := filepath.Join(dataDir, "images", "ubuntu-22.04-x86_64", "image.raw.s2e")

	qemu := exec.Command(qemuBin,
		"-drive", "file="+image+",format=s2e,cache=writeback",
		"-k", "en-us",
		"-monitor", "null",
		"-m", strconv.Itoa(cfg.Qemu.MemoryMegabytes) + "M",
		"-enable-kvm",
		"-serial", "file:"+sess.SerialOut,
		"-net", "none",
		"-net", "nic,model=e1000",
		"-qmp", "unix:"+sess.QMPSocket+",server,nowait",
		"-loadvm", "ready",
	)
	qemu.Dir = sess.Dir
	qemu.Env = append(os.Environ(),
		"LD_PRELOAD="+libS2E,
		"S2E_CONFIG="+s2eConfig,
		"S2E_SHARED_DIR="+libS2EDir,
		"S2E_MAX_PROCESSES="+strconv.Itoa(cfg.Qemu.MaxProcesses),
		"S2E_UNBUFFERED_STREAM=1",
	)

	if err := qemu.Start(); err != nil {
		tx <- QemuShutdown{}
		return err
	}
	tx <- TellQemuPid{Pid: qemu.Process.Pid}
	err := qemu.Wait()
	tx <- QemuShutdown{}
	if err != nil {
		debug.Log("controller: qemu exited: %v", err)
	}
	return nil
}


// unixDial is split out so shutdown stays testable without sockets.
var unixDial = func(path string) (interface{ Close() error }, error) {
	return net.DialTimeout("unix", path, time.Second)
}
