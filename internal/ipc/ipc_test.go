package ipc

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multizone/internal/device"
	"multizone/internal/talker"
	"multizone/internal/zone"
)

func socketPath(t *testing.T) string {
	t.Helper()
	// unix socket paths are length-limited, keep them short
	dir, err := os.MkdirTemp("", "mz")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s")
}

// boardPort answers RESET like the sketch does and replays fed lines.
type boardPort struct {
	mu     sync.Mutex
	in     []byte
	closed bool
}

func (p *boardPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, os.ErrClosed
	}
	n := copy(b, p.in)
	p.in = p.in[n:]
	return n, nil
}

func (p *boardPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.TrimSpace(string(b)) == "RESET" {
		p.in = append(p.in, "RESET_OK\n"...)
	}
	return len(b), nil
}

func (p *boardPort) SetReadTimeout(time.Duration) error { return nil }
func (p *boardPort) ResetInputBuffer() error { return nil }

func (p *boardPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *boardPort) Feed(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in = append(p.in, line+"\n"...)
}

func (p *boardPort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func refuseOpen(string, int) (device.Port, error) {
	return nil, &net.OpError{Op: "open", Err: os.ErrPermission}
}

func newDaemon(t *testing.T, ports []device.PortInfo) (string, *zone.Controller) {
	t.Helper()
	return newDaemonWith(t, ports, refuseOpen)
}

func newDaemonWith(t *testing.T, ports []device.PortInfo, open device.Opener) (string, *zone.Controller) {
	t.Helper()

	store := talker.NewStore()
	link := device.NewLink(device.Config{
		PollInterval: 2 * time.Millisecond,
		Lister:       func() ([]device.PortInfo, error) { return ports, nil },
		Opener:       open,
	}, store, nil)
	gen := talker.NewGenerator(talker.GeneratorConfig{})
	ctrl := zone.NewController(link, talker.NewState(store, gen))

	path := socketPath(t)
	srv, err := StartServer(path, Dispatch(ctrl, time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	t.Cleanup(ctrl.Disconnect)

	return path, ctrl
}

func send(t *testing.T, path string, msg ControlMessage) Reply {
	t.Helper()
	rep, err := SendCommand(path, msg, 5*time.Second)
	require.NoError(t, err)
	return rep
}

func TestStatus(t *testing.T) {
	path, _ := newDaemon(t, nil)

	rep := send(t, path, ControlMessage{Cmd: CmdStatus})
	assert.True(t, rep.OK)
	require.NotNil(t, rep.Status)
	assert.Equal(t, "disconnected", rep.Status.Connection)
	assert.Equal(t, zone.ModeDisabled, rep.Status.Mode)
}

func TestZoneCommand(t *testing.T) {
	path, ctrl := newDaemon(t, nil)

	rep := send(t, path, ControlMessage{Cmd: CmdZone, Zone: "rear-right"})
	assert.True(t, rep.OK)
	assert.Equal(t, "Rear Right", rep.Status.ActiveZone)

	z, ok := ctrl.ActiveZone()
	assert.True(t, ok)
	assert.Equal(t, zone.RearRight, z)

	rep = send(t, path, ControlMessage{Cmd: CmdZone, Zone: "3"})
	assert.True(t, rep.OK)
	assert.Empty(t, rep.Status.ActiveZone)

	rep = send(t, path, ControlMessage{Cmd: CmdZone, Zone: "trunk"})
	assert.False(t, rep.OK)
	assert.Contains(t, rep.Error, "invalid zone")
}

func TestProcessingCommand(t *testing.T) {
	path, _ := newDaemon(t, nil)

	rep := send(t, path, ControlMessage{Cmd: CmdProcessing})
	assert.True(t, rep.OK)
	assert.True(t, rep.Status.Processing)
	assert.Equal(t, zone.ModeArtificial, rep.Status.Mode)
	assert.Len(t, rep.Status.Talkers, 4)
}

func TestConnectCommandReportsStage(t *testing.T) {
	path, ctrl := newDaemon(t, []device.PortInfo{{Name: "/dev/ttyACM0", Description: "Arduino Uno"}})

	rep := send(t, path, ControlMessage{Cmd: CmdConnect, Port: "/dev/ttyUSB9"})
	assert.False(t, rep.OK)
	assert.Contains(t, rep.Error, "port not found")

	rep = send(t, path, ControlMessage{Cmd: CmdConnect})
	assert.False(t, rep.OK)
	assert.Contains(t, rep.Error, "transport open failed")
	assert.Equal(t, "disconnected", rep.Status.Connection)
	assert.NotEmpty(t, rep.Status.LastError)

	rep = send(t, path, ControlMessage{Cmd: CmdDisconnect})
	assert.True(t, rep.OK)
	assert.Equal(t, device.StateDisconnected.String(), ctrl.Snapshot().Connection)
}

func TestUnknownCommand(t *testing.T) {
	path, _ := newDaemon(t, nil)

	rep := send(t, path, ControlMessage{Cmd: "reboot"})
	assert.False(t, rep.OK)
	assert.Contains(t, rep.Error, "unknown command")
}

func TestMalformedMessage(t *testing.T) {
	path, _ := newDaemon(t, nil)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "malformed message")
}

func TestSendCommandNoDaemon(t *testing.T) {
	_, err := SendCommand(socketPath(t), ControlMessage{Cmd: CmdStatus}, time.Second)
	assert.Error(t, err)
}

func TestServerCloseRemovesSocket(t *testing.T) {
	path := socketPath(t)
	srv, err := StartServer(path, func(ControlMessage) Reply { return Reply{OK: true} })
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = SendCommand(path, ControlMessage{Cmd: CmdStatus}, time.Second)
	assert.Error(t, err)
}

func TestConnectAndDisconnectCommands(t *testing.T) {
	board := &boardPort{}
	path, _ := newDaemonWith(t,
		[]device.PortInfo{{Name: "/dev/ttyACM0", Description: "Arduino Uno"}},
		func(string, int) (device.Port, error) { return board, nil },
	)

	rep := send(t, path, ControlMessage{Cmd: CmdConnect})
	require.True(t, rep.OK, rep.Error)
	assert.Equal(t, "connected", rep.Status.Connection)
	assert.Equal(t, "/dev/ttyACM0", rep.Status.Port)
	assert.Equal(t, zone.ModeDisabled, rep.Status.Mode)

	rep = send(t, path, ControlMessage{Cmd: CmdProcessing})
	require.True(t, rep.OK, rep.Error)
	assert.Equal(t, zone.ModeDevice, rep.Status.Mode)

	board.Feed("TALKER:0,1,0,0")
	require.Eventually(t, func() bool {
		rep, err := SendCommand(path, ControlMessage{Cmd: CmdStatus}, time.Second)
		return err == nil && rep.Status != nil &&
			assert.ObjectsAreEqual([]bool{false, true, false, false}, rep.Status.Talkers)
	}, 2*time.Second, 5*time.Millisecond)

	rep = send(t, path, ControlMessage{Cmd: CmdDisconnect})
	require.True(t, rep.OK, rep.Error)
	assert.Equal(t, "disconnected", rep.Status.Connection)
	assert.Equal(t, zone.ModeArtificial, rep.Status.Mode)
	assert.True(t, board.IsClosed())
}
