package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/arzzra/call_engine/pkg/call"
	"github.com/arzzra/call_engine/pkg/media"
	"github.com/arzzra/call_engine/pkg/rtc"
)

var errQuit = errors.New("quit")

const commandTimeout = 10 * time.Second

// phone команды движка, которыми пользуется консоль
type phone interface {
	StartCall(ctx context.Context, remoteID string, kind rtc.CallKind) (string, error)
	AnswerCall(ctx context.Context) error
	DeclineCall(ctx context.Context) error
	EndCall(ctx context.Context) error
	ToggleMute(ctx context.Context) (bool, error)
	ToggleVideo(ctx context.Context) (bool, error)
	ToggleScreenShare(ctx context.Context) (bool, error)
	Session() (call.Session, bool)
	Participants() []call.Participant
	Duration() time.Duration
	Subscribe(fn func(call.Event)) (unsubscribe func())
}

var _ phone = (*call.Engine)(nil)

type console struct {
	phone  phone
	selfID string
	in     io.Reader

	outMu sync.Mutex
	out   io.Writer
}

func newConsole(p phone, selfID string, in io.Reader, out io.Writer) *console {
	return &console{phone: p, selfID: selfID, in: in, out: out}
}

// run читает команды до quit, конца ввода или отмены контекста
func (c *console) run(ctx context.Context) error {
	unsubscribe := c.phone.Subscribe(c.onEvent)
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("Пользователь %s. Введите help для списка команд.\n", c.selfID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if err := c.execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				c.printError("Ошибка", err)
			}
		}
	}
}

func (c *console) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "call", "video-call":
		if len(args) != 1 {
			return errors.Errorf("usage: %s <user>", cmd)
		}
		kind := rtc.CallAudio
		if cmd == "video-call" {
			kind = rtc.CallVideo
		}
		id, err := c.phone.StartCall(ctx, args[0], kind)
		if err != nil {
			return err
		}
		c.printf("Звонок %s -> %s (%s)\n", id, args[0], kind)
	case "answer":
		return c.phone.AnswerCall(ctx)
	case "decline":
		return c.phone.DeclineCall(ctx)
	case "hangup":
		return c.phone.EndCall(ctx)
	case "mute":
		muted, err := c.phone.ToggleMute(ctx)
		if err != nil {
			return err
		}
		c.printf("Микрофон: %s\n", onOff(!muted))
	case "video":
		enabled, err := c.phone.ToggleVideo(ctx)
		if err != nil {
			return err
		}
		c.printf("Камера: %s\n", onOff(enabled))
	case "share":
		sharing, err := c.phone.ToggleScreenShare(ctx)
		if err != nil {
			return err
		}
		c.printf("Демонстрация экрана: %s\n", onOff(sharing))
	case "status":
		c.printStatus()
	case "help":
		c.printf("%s", usage)
	case "quit", "exit":
		return errQuit
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
	return nil
}

const usage = `Команды:
  call <user>        аудиозвонок
  video-call <user>  видеозвонок
  answer | decline   ответить или отклонить входящий
  hangup             завершить звонок
  mute | video       микрофон и камера
  share              демонстрация экрана
  status             состояние звонка
  quit
`

func (c *console) printStatus() {
	s, ok := c.phone.Session()
	if !ok {
		c.printf("Нет звонков\n")
		return
	}
	c.printf("Сессия %s: %s, %s %s\n", s.ID, s.Phase, s.Direction, s.Kind)
	if s.Phase == call.PhaseActive {
		c.printf("Длительность: %s\n", c.phone.Duration().Truncate(time.Second))
	}
	participants := c.phone.Participants()
	sort.Slice(participants, func(i, j int) bool { return participants[i].ID < participants[j].ID })
	for _, p := range participants {
		c.printf("  %s %s %s\n", p.ID, p.Role, p.State)
	}
	if s.EndReason != "" {
		c.printf("Завершен: %s\n", s.EndReason)
	}
}

func (c *console) onEvent(ev call.Event) {
	switch ev.Type {
	case call.EventState:
		s := ev.Session
		switch s.Phase {
		case call.PhaseIncomingRinging:
			c.printf("Входящий %s звонок от %s (answer/decline)\n", s.Kind, strings.Join(s.Participants, ", "))
		case call.PhaseOutgoingRinging:
			c.printf("Вызов %s...\n", strings.Join(s.Participants, ", "))
		case call.PhaseActive:
			c.printf("Соединено\n")
		case call.PhaseEnded:
			c.printf("Звонок завершен: %s\n", s.EndReason)
		}
		if s.Reconnecting {
			c.printf("Потеряно соединение с сервером, ожидание...\n")
		}
	case call.EventRemoteStreams:
		for id, st := range ev.RemoteStreams {
			c.printf("Поток %s: %d треков\n", id, len(st.Tracks))
		}
	case call.EventError:
		c.printError("Ошибка звонка", ev.Err)
	}
}

// printError печатает ошибку, для ошибок устройств добавляет подсказку
func (c *console) printError(prefix string, err error) {
	var de *media.DeviceError
	if errors.As(err, &de) {
		c.printf("%s: %v\n  %s\n", prefix, err, media.GetErrorSuggestion(err))
		return
	}
	c.printf("%s: %v\n", prefix, err)
}

func (c *console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func onOff(v bool) string {
	if v {
		return "вкл"
	}
	return "выкл"
}
