package ipc

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limone/internal/controller"
	"limone/pkg/protocol"
)

func socketPath(t *testing.T) string {
	t.Helper()
	// t.TempDir can exceed the unix socket path limit.
	dir, err := os.MkdirTemp("", "limone")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

type fakeAssistant struct {
	mu       sync.Mutex
	state    controller.State
	busy     bool
	pressed  int
	stopped  int
	hushed   int
	submits  []string
	replayed []string
	tasks    []protocol.Task
}

func (f *fakeAssistant) PressMic(context.Context) controller.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pressed++
	f.state = controller.Listening
	return f.state
}

func (f *fakeAssistant) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.state = controller.Idle
}

func (f *fakeAssistant) Submit(_ context.Context, command string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return false
	}
	f.submits = append(f.submits, command)
	return true
}

func (f *fakeAssistant) Replay(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.ID == id {
			f.replayed = append(f.replayed, id)
			return nil
		}
	}
	return controller.ErrTaskNotFound
}

func (f *fakeAssistant) History() []protocol.Task { return f.tasks }

func (f *fakeAssistant) State() controller.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAssistant) Status() string { return controller.StatusListening }

func (f *fakeAssistant) Hush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hushed++
}

type fakeBackend struct {
	connected bool
	feedback  []protocol.Feedback
}

func (f *fakeBackend) Connected() bool { return f.connected }

func (f *fakeBackend) UserInsights(context.Context) protocol.Insights {
	return protocol.Insights{"total_commands": float64(3)}
}

func (f *fakeBackend) SubmitFeedback(_ context.Context, fb protocol.Feedback) {
	f.feedback = append(f.feedback, fb)
}

func TestServerRoundTrip(t *testing.T) {
	path := socketPath(t)

	srv, err := StartServer(path, func(msg ControlMessage) ControlReply {
		return ControlReply{OK: true, Message: msg.Cmd + ":" + msg.Args[0]}
	}, nil)
	require.NoError(t, err)

	reply, err := SendCommand(path, ControlMessage{Cmd: "echo", Args: []string{"hi"}})
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, "echo:hi", reply.Message)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = SendCommand(path, ControlMessage{Cmd: "echo"})
	assert.Error(t, err)
}

func TestServerReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	srv, err := StartServer(path, func(ControlMessage) ControlReply { return ControlReply{OK: true} }, nil)
	require.NoError(t, err)
	defer srv.Close()

	reply, err := SendCommand(path, ControlMessage{Cmd: CmdStatus})
	require.NoError(t, err)
	assert.True(t, reply.OK)
}

func TestHandler(t *testing.T) {
	a := &fakeAssistant{tasks: []protocol.Task{{ID: "1", Command: "일정 관리해줘"}}}
	b := &fakeBackend{connected: true}
	h := NewHandler(context.Background(), a, b)

	reply := h(ControlMessage{Cmd: CmdTrigger})
	assert.True(t, reply.OK)
	assert.Equal(t, "listening", reply.State)

	reply = h(ControlMessage{Cmd: CmdStatus})
	require.NotNil(t, reply.Connected)
	assert.True(t, *reply.Connected)
	assert.Equal(t, controller.StatusListening, reply.Status)

	reply = h(ControlMessage{Cmd: CmdStop})
	assert.Equal(t, "idle", reply.State)

	reply = h(ControlMessage{Cmd: CmdQuick, Args: []string{"이메일", "보내줘"}})
	assert.True(t, reply.OK)
	assert.Equal(t, []string{"이메일 보내줘"}, a.submits)

	reply = h(ControlMessage{Cmd: CmdQuick})
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, ErrMissingArgs.Error())

	a.busy = true
	reply = h(ControlMessage{Cmd: CmdQuick, Args: []string{"문서"}})
	assert.False(t, reply.OK)
	assert.Equal(t, controller.ErrBusy.Error(), reply.Error)

	reply = h(ControlMessage{Cmd: CmdReplay, Args: []string{"1"}})
	assert.True(t, reply.OK)
	reply = h(ControlMessage{Cmd: CmdReplay, Args: []string{"2"}})
	assert.Equal(t, controller.ErrTaskNotFound.Error(), reply.Error)

	reply = h(ControlMessage{Cmd: CmdHistory})
	assert.Len(t, reply.Tasks, 1)

	h(ControlMessage{Cmd: CmdHush})
	assert.Equal(t, 1, a.hushed)

	reply = h(ControlMessage{Cmd: CmdInsights})
	assert.Equal(t, float64(3), reply.Insights["total_commands"])

	reply = h(ControlMessage{Cmd: "dance"})
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, ErrUnknownCommand.Error())
}

func TestFeedbackArgs(t *testing.T) {
	b := &fakeBackend{}
	h := NewHandler(context.Background(), &fakeAssistant{}, b)

	reply := h(ControlMessage{Cmd: CmdFeedback, Args: []string{"5", "아주", "좋아요"}})
	require.True(t, reply.OK)
	require.Len(t, b.feedback, 1)
	assert.Equal(t, 5, b.feedback[0].Rating)
	assert.Equal(t, "아주 좋아요", b.feedback[0].Comment)
	assert.Empty(t, b.feedback[0].Command)

	for _, args := range [][]string{nil, {"0"}, {"six"}, {"9", "x"}} {
		reply := h(ControlMessage{Cmd: CmdFeedback, Args: args})
		assert.False(t, reply.OK, "args %v", args)
	}
	assert.Len(t, b.feedback, 1)
}

func TestFeedbackNamesCommand(t *testing.T) {
	b := &fakeBackend{}
	h := NewHandler(context.Background(), &fakeAssistant{}, b)

	args := FeedbackArgs("웹사이트 만들어줘", []string{"4", "-", "빨라요"})
	reply := h(ControlMessage{Cmd: CmdFeedback, Args: args})
	require.True(t, reply.OK, reply.Error)
	require.Len(t, b.feedback, 1)

	assert.Equal(t, protocol.Feedback{
		Rating:  4,
		Comment: "- 빨라요",
		Command: "웹사이트 만들어줘",
	}, b.feedback[0])

	reply = h(ControlMessage{Cmd: CmdFeedback, Args: FeedbackArgs("", []string{"3"})})
	require.True(t, reply.OK, reply.Error)
	assert.Empty(t, b.feedback[1].Command)

	reply = h(ControlMessage{Cmd: CmdFeedback, Args: []string{"--bogus", "3"}})
	assert.False(t, reply.OK)
}

func TestBadRequestGetsErrorReply(t *testing.T) {
	path := socketPath(t)
	srv, err := StartServer(path, func(ControlMessage) ControlReply { return ControlReply{OK: true} }, nil)
	require.NoError(t, err)
	defer srv.Close()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	var reply ControlReply
	require.NoError(t, json.NewDecoder(conn).Decode(&reply))
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "decode request")
}
