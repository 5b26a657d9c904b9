package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/call_engine/pkg/call"
	"github.com/arzzra/call_engine/pkg/media"
	"github.com/arzzra/call_engine/pkg/rtc"
)

type fakePhone struct {
	mu      sync.Mutex
	calls   []string
	started []rtc.CallKind
	muted   bool
	session  call.Session
	handler  func(call.Event)
	startErr error
}

func (f *fakePhone) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakePhone) StartCall(_ context.Context, remoteID string, kind rtc.CallKind) (string, error) {
	f.record("start:" + remoteID)
	f.started = append(f.started, kind)
	if f.startErr != nil {
		return "", f.startErr
	}
	return "s1", nil
}

func (f *fakePhone) AnswerCall(context.Context) error {
	f.record("answer")
	return nil
}

func (f *fakePhone) DeclineCall(context.Context) error {
	f.record("decline")
	return nil
}

func (f *fakePhone) EndCall(context.Context) error {
	f.record("end")
	return call.ErrCommandIgnored
}

func (f *fakePhone) ToggleMute(context.Context) (bool, error) {
	f.record("mute")
	f.muted = !f.muted
	return f.muted, nil
}

func (f *fakePhone) ToggleVideo(context.Context) (bool, error) {
	f.record("video")
	return false, nil
}

func (f *fakePhone) ToggleScreenShare(context.Context) (bool, error) {
	f.record("share")
	return true, nil
}

func (f *fakePhone) Session() (call.Session, bool) {
	return f.session, f.session.ID != ""
}

func (f *fakePhone) Participants() []call.Participant { return nil }

func (f *fakePhone) Duration() time.Duration { return 0 }

func (f *fakePhone) Subscribe(fn func(call.Event)) func() {
	f.handler = fn
	return func() {}
}

func TestConsoleCommands(t *testing.T) {
	f := &fakePhone{}
	input := "call bob\nvideo-call carol\nanswer\ndecline\nmute\nvideo\nshare\nhangup\nstatus\nbogus\nquit\nanswer\n"
	var out bytes.Buffer
	c := newConsole(f, "alice", strings.NewReader(input), &out)

	err := c.run(context.Background())
	require.ErrorIs(t, err, errQuit)

	assert.Equal(t, []string{"start:bob", "start:carol", "answer", "decline", "mute", "video", "share", "end"}, f.calls)
	assert.Equal(t, []rtc.CallKind{rtc.CallAudio, rtc.CallVideo}, f.started)
	assert.Contains(t, out.String(), "Микрофон: выкл")
	assert.Contains(t, out.String(), "Нет звонков")
	assert.Contains(t, out.String(), `unknown command "bogus"`)
}

func TestConsoleUsageErrors(t *testing.T) {
	f := &fakePhone{}
	var out bytes.Buffer
	c := newConsole(f, "alice", strings.NewReader(""), &out)

	assert.Error(t, c.execute(context.Background(), "call"))
	assert.NoError(t, c.execute(context.Background(), "   "))
	assert.Empty(t, f.calls)
}

func TestConsolePrintsEvents(t *testing.T) {
	f := &fakePhone{}
	var out bytes.Buffer
	c := newConsole(f, "bob", strings.NewReader("quit\n"), &out)
	require.ErrorIs(t, c.run(context.Background()), errQuit)

	c.onEvent(call.Event{Type: call.EventState, Session: call.Session{
		ID: "s1", Phase: call.PhaseIncomingRinging, Kind: rtc.CallVideo, Participants: []string{"alice"},
	}})
	c.onEvent(call.Event{Type: call.EventState, Session: call.Session{
		ID: "s1", Phase: call.PhaseEnded, EndReason: call.ReasonDeclined,
	}})

	assert.Contains(t, out.String(), "Входящий video звонок от alice")
	assert.Contains(t, out.String(), "Звонок завершен: declined")
}

func TestConsoleDeviceErrorSuggestion(t *testing.T) {
	f := &fakePhone{startErr: errors.Wrap(media.ErrPermissionDenied, "acquire media")}
	var out bytes.Buffer
	c := newConsole(f, "alice", strings.NewReader("call bob\nquit\n"), &out)
	require.ErrorIs(t, c.run(context.Background()), errQuit)

	assert.Contains(t, out.String(), "Ошибка: acquire media")
	assert.Contains(t, out.String(), media.GetErrorSuggestion(media.ErrPermissionDenied))

	c.onEvent(call.Event{Type: call.EventError, Err: media.ErrTimeout})
	assert.Contains(t, out.String(), media.GetErrorSuggestion(media.ErrTimeout))
}

func TestConsolePlainErrorHasNoSuggestion(t *testing.T) {
	f := &fakePhone{}
	var out bytes.Buffer
	c := newConsole(f, "alice", strings.NewReader(""), &out)

	c.onEvent(call.Event{Type: call.EventError, Err: errors.New("negotiation failed")})
	assert.Equal(t, "Ошибка звонка: negotiation failed\n", out.String())
}
