package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	cli "github.com/spf13/pflag"

	"limone/internal/controller"
	"limone/pkg/protocol"
)

const (
	CmdTrigger  = "trigger"
	CmdStop     = "stop"
	CmdQuick    = "quick"
	CmdReplay   = "replay"
	CmdHistory  = "history"
	CmdStatus   = "status"
	CmdHush     = "hush"
	CmdFeedback = "feedback"
	CmdInsights = "insights"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingArgs    = errors.New("missing arguments")
)

type Assistant interface {
	PressMic(ctx context.Context) controller.State
	Stop()
	Submit(ctx context.Context, command string) bool
	Replay(ctx context.Context, id string) error
	History() []protocol.Task
	State() controller.State
	Status() string
	Hush()
}

type Backend interface {
	Connected() bool
	UserInsights(ctx context.Context) protocol.Insights
	SubmitFeedback(ctx context.Context, fb protocol.Feedback)
}

// NewHandler routes control messages to the assistant. ctx bounds the backend
// calls made on behalf of a request.
func NewHandler(ctx context.Context, a Assistant, b Backend) Handler {
	return func(msg ControlMessage) ControlReply {
		switch msg.Cmd {
		case CmdTrigger:
			return ControlReply{OK: true, State: a.PressMic(ctx).String()}

		case CmdStop:
			a.Stop()
			return ControlReply{OK: true, State: a.State().String()}

		case CmdQuick:
			command := strings.TrimSpace(strings.Join(msg.Args, " "))
			if command == "" {
				return Fail(fmt.Errorf("%s: %w", msg.Cmd, ErrMissingArgs))
			}
			if !a.Submit(ctx, command) {
				return Fail(controller.ErrBusy)
			}
			return ControlReply{OK: true, Message: controller.MsgQuickCommand}

		case CmdReplay:
			if len(msg.Args) == 0 {
				return Fail(fmt.Errorf("%s: %w", msg.Cmd, ErrMissingArgs))
			}
			if err := a.Replay(ctx, msg.Args[0]); err != nil {
				return Fail(err)
			}
			return ControlReply{OK: true, Message: controller.MsgReplay}

		case CmdHistory:
			return ControlReply{OK: true, Tasks: a.History()}

		case CmdStatus:
			connected := b.Connected()
			return ControlReply{
				OK:        true,
				State:     a.State().String(),
				Status:    a.Status(),
				Connected: &connected,
			}

		case CmdHush:
			a.Hush()
			return ControlReply{OK: true}

		case CmdFeedback:
			fb, err := parseFeedback(msg.Args)
			if err != nil {
				return Fail(err)
			}
			b.SubmitFeedback(ctx, fb)
			return ControlReply{OK: true}

		case CmdInsights:
			return ControlReply{OK: true, Insights: b.UserInsights(ctx)}

		default:
			return Fail(fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Cmd))
		}
	}
}

// FlagCommand names the command a feedback rating refers to.
const FlagCommand = "command"

// FeedbackArgs builds the argument list parsed by the feedback handler.
func FeedbackArgs(command string, args []string) []string {
	out := make([]string, 0, len(args)+2)
	if command != "" {
		out = append(out, "--"+FlagCommand+"="+command)
	}
	out = append(out, "--")
	return append(out, args...)
}

// parseFeedback reads "[--command=<text>] <rating> [comment...]".
func parseFeedback(args []string) (protocol.Feedback, error) {
	fs := cli.NewFlagSet(CmdFeedback, cli.ContinueOnError)
	fs.SetOutput(io.Discard)
	command := fs.String(FlagCommand, "", "command the rating refers to")
	if err := fs.Parse(args); err != nil {
		return protocol.Feedback{}, fmt.Errorf("%s: %w", CmdFeedback, err)
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return protocol.Feedback{}, fmt.Errorf("%s: %w", CmdFeedback, ErrMissingArgs)
	}

	rating, err := strconv.Atoi(rest[0])
	if err != nil || rating < 1 || rating > 5 {
		return protocol.Feedback{}, fmt.Errorf("%s: rating must be 1-5, got %q", CmdFeedback, rest[0])
	}

	return protocol.Feedback{
		Rating:  rating,
		Comment: strings.Join(rest[1:], " "),
		Command: strings.TrimSpace(*command),
	}, nil
}
