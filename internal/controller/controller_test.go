package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"limone/internal/gateway"
	"limone/internal/history"
	"limone/internal/speech"
	"limone/pkg/protocol"
)

// scriptedInput returns whatever is pushed on results, ignoring cancellation
// unless honorCancel is set, so late results can be simulated.
type scriptedInput struct {
	results     chan inputResult
	honorCancel bool
	started     chan struct{}
}

type inputResult struct {
	text string
	err  error
}

func newScriptedInput(honorCancel bool) *scriptedInput {
	return &scriptedInput{
		results:     make(chan inputResult, 1),
		honorCancel: honorCancel,
		started:     make(chan struct{}, 4),
	}
}

func (s *scriptedInput) Listen(ctx context.Context) (string, error) {
	s.started <- struct{}{}
	if s.honorCancel {
		select {
		case r := <-s.results:
			return r.text, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	r := <-s.results
	return r.text, r.err
}

type recordingOutput struct {
	mu     sync.Mutex
	spoken []string
	stops  int
}

func (o *recordingOutput) Speak(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spoken = append(o.spoken, text)
}

func (o *recordingOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops++
}

func (o *recordingOutput) calls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.spoken...)
}

// gatedGateway answers with the fallback rules, optionally blocking until released.
type gatedGateway struct {
	mu       sync.Mutex
	commands []string
	gate     chan struct{}
	fallback bool
	noSpeak  bool
}

func (g *gatedGateway) Send(_ context.Context, command string) gateway.Reply {
	g.mu.Lock()
	g.commands = append(g.commands, command)
	gate := g.gate
	g.mu.Unlock()

	if gate != nil {
		<-gate
	}

	resp := gateway.Respond(gateway.DefaultRules(), command)
	if g.noSpeak {
		resp.Speak = ""
	}
	return gateway.Reply{CommandResponse: resp, Fallback: g.fallback}
}

func (g *gatedGateway) sent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.commands...)
}

type recordingView struct {
	mu        sync.Mutex
	states    []State
	statuses  []string
	rendered  []protocol.CommandResponse
	notices   []Notice
	connected []bool
}

func (v *recordingView) SetStatus(s State, status string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.states = append(v.states, s)
	v.statuses = append(v.statuses, status)
}

func (v *recordingView) Render(resp protocol.CommandResponse) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rendered = append(v.rendered, resp)
}

func (v *recordingView) Notice(n Notice) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notices = append(v.notices, n)
}

func (v *recordingView) Connection(c bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = append(v.connected, c)
}

func (v *recordingView) noticeMessages() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, n := range v.notices {
		out = append(out, n.Message)
	}
	return out
}

type countingCue struct {
	mu sync.Mutex
	n  int
}

func (c *countingCue) Listening() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

type fixture struct {
	ctrl    *Controller
	input   *scriptedInput
	output  *recordingOutput
	gateway *gatedGateway
	history *history.Store
	view    *recordingView
	cue     *countingCue
}

func newFixture(t *testing.T, honorCancel bool) *fixture {
	t.Helper()
	f := &fixture{
		input:   newScriptedInput(honorCancel),
		output:  &recordingOutput{},
		gateway: &gatedGateway{fallback: true},
		history: history.New(&history.MemorySlot{}, 10, nil),
		view:    &recordingView{},
		cue:     &countingCue{},
	}
	f.ctrl = New(Deps{
		Input:   f.input,
		Output:  f.output,
		Gateway: f.gateway,
		History: f.history,
		View:    f.view,
		Cue:     f.cue,
	})
	return f
}

func waitStarted(t *testing.T, in *scriptedInput) {
	t.Helper()
	select {
	case <-in.started:
	case <-time.After(2 * time.Second):
		t.Fatal("capture never started")
	}
}

func TestVoiceRoundTrip(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	assert.Equal(t, Listening, f.ctrl.PressMic(ctx))
	assert.Equal(t, StatusListening, f.ctrl.Status())
	waitStarted(t, f.input)

	f.input.results <- inputResult{text: " 웹사이트 만들어줘 "}
	f.ctrl.Wait()

	assert.Equal(t, Idle, f.ctrl.State())
	assert.Empty(t, f.ctrl.Status())
	assert.Equal(t, 1, f.cue.n)
	assert.Equal(t, []string{"웹사이트 만들어줘"}, f.gateway.sent())

	tasks := f.history.List()
	require.Len(t, tasks, 1)
	assert.Equal(t, "웹사이트 만들어줘", tasks[0].Command)
	assert.Equal(t, "🌐", tasks[0].Icon)

	assert.Equal(t, []string{"웹사이트가 성공적으로 생성되었습니다."}, f.output.calls())

	require.Len(t, f.view.rendered, 1)
	assert.Equal(t, "웹사이트 생성 완료", f.view.rendered[0].Title)
	assert.Equal(t, []State{Listening, Processing, Idle}, f.view.states)
	assert.Equal(t, []string{StatusListening, StatusProcessing, ""}, f.view.statuses)
	assert.Contains(t, f.view.noticeMessages(), MsgFallback)
}

func TestRemoteReplyShowsSuccess(t *testing.T) {
	f := newFixture(t, true)
	f.gateway.fallback = false

	require.True(t, f.ctrl.Submit(context.Background(), "이메일 보내줘"))
	f.ctrl.Wait()

	assert.Equal(t, []string{MsgQuickCommand, MsgSuccess}, f.view.noticeMessages())
}

func TestNoSpeakNoOutput(t *testing.T) {
	f := newFixture(t, true)
	f.gateway.noSpeak = true

	require.True(t, f.ctrl.Submit(context.Background(), "문서 요약해줘"))
	f.ctrl.Wait()

	assert.Empty(t, f.output.calls())
	assert.Equal(t, 1, f.history.Len())
}

func TestRecognitionFailureRecordsNothing(t *testing.T) {
	cases := map[string]inputResult{
		"error": {err: errors.New("no-speech")},
		"empty": {text: ""},
		"blank": {text: "   \t"},
	}

	for name, res := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, true)
			f.ctrl.PressMic(context.Background())
			waitStarted(t, f.input)

			f.input.results <- res
			f.ctrl.Wait()

			assert.Equal(t, Idle, f.ctrl.State())
			assert.Empty(t, f.gateway.sent())
			assert.Zero(t, f.history.Len())
			assert.Equal(t, []string{MsgRecognitionError}, f.view.noticeMessages())
		})
	}
}

func TestPermissionDeniedFailsFast(t *testing.T) {
	f := newFixture(t, true)
	f.ctrl.input = speech.Unavailable{Err: errors.New("no device")}

	f.ctrl.PressMic(context.Background())
	f.ctrl.Wait()

	assert.Equal(t, Idle, f.ctrl.State())
	assert.Equal(t, []string{MsgMicUnavailable}, f.view.noticeMessages())
	assert.Empty(t, f.gateway.sent())
}

func TestUnavailableInputNoticedOnce(t *testing.T) {
	view := &recordingView{}
	ctrl := New(Deps{
		Input:   speech.Unavailable{Err: errors.New("no device")},
		Gateway: &gatedGateway{},
		View:    view,
	})

	require.Len(t, view.notices, 1)
	assert.Equal(t, Notice{Level: LevelWarning, Message: MsgMicUnavailable}, view.notices[0])
	assert.Equal(t, Idle, ctrl.State())

	working := &recordingView{}
	New(Deps{Input: newScriptedInput(true), View: working})
	assert.Empty(t, working.notices)
}

func TestSecondPressCancels(t *testing.T) {
	f := newFixture(t, true)

	f.ctrl.PressMic(context.Background())
	waitStarted(t, f.input)

	assert.Equal(t, Idle, f.ctrl.PressMic(context.Background()))
	f.ctrl.Wait()

	assert.Equal(t, Idle, f.ctrl.State())
	assert.Empty(t, f.gateway.sent())
	require.Len(t, f.view.notices, 1)
	assert.Equal(t, Notice{Level: LevelWarning, Message: MsgListenCancelled}, f.view.notices[0])
}

func TestLateResultAfterStopIsDiscarded(t *testing.T) {
	f := newFixture(t, false)

	f.ctrl.PressMic(context.Background())
	waitStarted(t, f.input)

	f.ctrl.Stop()
	f.ctrl.Stop()
	assert.Equal(t, Idle, f.ctrl.State())

	f.input.results <- inputResult{text: "이메일 보내줘"}
	f.ctrl.Wait()

	assert.Equal(t, Idle, f.ctrl.State())
	assert.Empty(t, f.gateway.sent())
	assert.Zero(t, f.history.Len())
	assert.NotContains(t, f.view.states, Processing)
}

func TestLateResultDoesNotLeakIntoNextRound(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.ctrl.PressMic(ctx)
	waitStarted(t, f.input)
	f.ctrl.Stop()

	f.ctrl.PressMic(ctx)
	waitStarted(t, f.input)

	// Both captures block on the same channel; whichever receives first, only
	// the current round may proceed.
	f.input.results <- inputResult{text: "일정 관리해줘"}
	f.input.results <- inputResult{text: "일정 관리해줘"}
	f.ctrl.Wait()

	assert.Equal(t, []string{"일정 관리해줘"}, f.gateway.sent())
	assert.Equal(t, 1, f.history.Len())
}

func TestNoConcurrentProcessing(t *testing.T) {
	f := newFixture(t, true)
	f.gateway.gate = make(chan struct{})
	ctx := context.Background()

	require.True(t, f.ctrl.Submit(ctx, "웹사이트 만들어줘"))
	assert.Equal(t, Processing, f.ctrl.State())

	assert.False(t, f.ctrl.Submit(ctx, "이메일 보내줘"))
	assert.Equal(t, Processing, f.ctrl.PressMic(ctx))
	f.history.Append(protocol.Task{ID: "old", Command: "일정 관리해줘"})
	assert.ErrorIs(t, f.ctrl.Replay(ctx, "old"), ErrBusy)

	close(f.gateway.gate)
	f.ctrl.Wait()

	assert.Equal(t, []string{"웹사이트 만들어줘"}, f.gateway.sent())
	assert.Len(t, f.output.calls(), 1)
	assert.Equal(t, 2, f.history.Len())
	assert.Equal(t, 0, f.cue.n)
	assert.Equal(t, Idle, f.ctrl.State())
}

func TestSubmitWhileListeningIgnored(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.ctrl.PressMic(ctx)
	waitStarted(t, f.input)

	assert.False(t, f.ctrl.Submit(ctx, "이메일 보내줘"))
	assert.Equal(t, Listening, f.ctrl.State())

	f.ctrl.Stop()
	f.ctrl.Wait()
	assert.Empty(t, f.gateway.sent())
}

func TestReplay(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.True(t, f.ctrl.Submit(ctx, "일정 관리해줘"))
	f.ctrl.Wait()
	first := f.history.List()[0]

	require.NoError(t, f.ctrl.Replay(ctx, first.ID))
	f.ctrl.Wait()

	assert.Equal(t, []string{"일정 관리해줘", "일정 관리해줘"}, f.gateway.sent())
	assert.Equal(t, 2, f.history.Len())
	assert.Contains(t, f.view.noticeMessages(), MsgReplay)

	assert.ErrorIs(t, f.ctrl.Replay(ctx, "missing"), ErrTaskNotFound)
}

func TestProcessingSurvivesCallerCancel(t *testing.T) {
	f := newFixture(t, true)
	f.gateway.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, f.ctrl.Submit(ctx, "문서 요약해줘"))
	cancel()

	close(f.gateway.gate)
	f.ctrl.Wait()

	assert.Equal(t, 1, f.history.Len(), "an in-flight round trip always completes")
}

func TestShutdownCancelsCaptureAndRefusesWork(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.ctrl.PressMic(ctx)
	waitStarted(t, f.input)

	f.ctrl.Shutdown()
	assert.Equal(t, Idle, f.ctrl.State())

	assert.False(t, f.ctrl.Submit(ctx, "이메일 보내줘"))
	assert.Equal(t, Idle, f.ctrl.PressMic(ctx))
	f.history.Append(protocol.Task{ID: "old", Command: "일정 관리해줘"})
	assert.ErrorIs(t, f.ctrl.Replay(ctx, "old"), ErrClosed)

	f.ctrl.Wait()
	assert.Empty(t, f.gateway.sent())
	assert.Equal(t, 1, f.history.Len())
	assert.Equal(t, 1, f.cue.n)
}

func TestShutdownWaitsForProcessing(t *testing.T) {
	f := newFixture(t, true)
	f.gateway.gate = make(chan struct{})

	require.True(t, f.ctrl.Submit(context.Background(), "문서 요약해줘"))

	done := make(chan struct{})
	go func() {
		f.ctrl.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("shutdown returned while a command was processing")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.gateway.gate)
	<-done
	assert.Equal(t, 1, f.history.Len())
}

func TestHush(t *testing.T) {
	f := newFixture(t, true)
	f.ctrl.Hush()
	assert.Equal(t, 1, f.output.stops)
}

func TestNilInputWarns(t *testing.T) {
	ctrl := New(Deps{Gateway: &gatedGateway{}})
	assert.Equal(t, Idle, ctrl.PressMic(context.Background()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "listening", Listening.String())
	assert.Equal(t, "processing", Processing.String())
}
