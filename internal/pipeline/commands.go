package pipeline

import (
	"strings"

	"github.com/antonholmquist/jason"

	"github.com/trackwatch/trackwatch/internal/dataset"
	"github.com/trackwatch/trackwatch/internal/diagnostics"
	"github.com/trackwatch/trackwatch/internal/events"
	"github.com/trackwatch/trackwatch/internal/logger"
)

// Control commands.
const (
	CmdCapture = "CAPTURE_30S"
	CmdPing    = "PING"
)

// Command replies.
const (
	StatePong       = "pong"
	StateUnknownCmd = "unknown_cmd"
	ServiceDataset  = "dataset"
	StateDisabled   = "disabled"
)

// Command is one parsed control message.
type Command struct {
	Name string
}

// ParseCommand extracts the upper-cased cmd field of a control payload.
func ParseCommand(payload []byte) (Command, bool) {
	obj, err := jason.NewObjectFromBytes(payload)
	if err != nil {
		return Command{}, false
	}
	name, err := obj.GetString("cmd")
	if err != nil {
		return Command{}, false
	}
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return Command{}, false
	}
	return Command{Name: name}, true
}

// mailbox holds at most one command. A newer command replaces an unconsumed one.
type mailbox struct {
	ch chan Command
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan Command, 1)}
}

// put never blocks. It reports whether an older command was replaced.
func (m *mailbox) put(cmd Command) (replaced bool) {
	for {
		select {
		case m.ch <- cmd:
			return replaced
		default:
		}
		select {
		case <-m.ch:
			replaced = true
		default:
		}
	}
}

func (m *mailbox) take() (Command, bool) {
	select {
	case cmd := <-m.ch:
		return cmd, true
	default:
		return Command{}, false
	}
}

// HandleCommand is the control plane subscription handler. Commands are
// queued for the perception loop; malformed payloads are ignored.
func (r *Runner) HandleCommand(topic string, payload []byte) {
	cmd, ok := ParseCommand(payload)
	if !ok {
		r.log.Debug("ignoring malformed command", logger.String("topic", topic), logger.Int("bytes", len(payload)))
		r.deps.Metrics.IncCommands("", "malformed")
		return
	}
	if r.commands.put(cmd) {
		r.log.Debug("pending command replaced", logger.String("cmd", cmd.Name))
	}
}

func (r *Runner) applyCommand(cmd Command) {
	now := r.deps.Clock.Now()
	r.log.Info("command received", logger.String("cmd", cmd.Name))

	switch cmd.Name {
	case CmdCapture:
		if r.deps.Dataset == nil {
			r.deps.Metrics.IncCommands(cmd.Name, StateDisabled)
			PublishStatus(r.deps.Sink, ServiceDataset, StateDisabled, r.cfg.RunID, now, nil)
			return
		}
		disposition := dataset.StateStarted
		if !r.deps.Dataset.Start(now) {
			disposition = "rejected"
		}
		r.deps.Metrics.IncCommands(cmd.Name, disposition)
	case CmdPing:
		r.deps.Metrics.IncCommands(cmd.Name, StatePong)
		PublishStatus(r.deps.Sink, ServiceCamera, StatePong, r.cfg.RunID, now, map[string]any{
			"frames": r.Frames(),
		})
	default:
		r.deps.Metrics.IncCommands("other", StateUnknownCmd)
		PublishStatus(r.deps.Sink, ServiceCamera, StateUnknownCmd, r.cfg.RunID, now, map[string]any{
			"cmd": cmd.Name,
		})
	}
}

// DatasetNotifier returns a dataset progress callback that queues the report
// as a status event.
func DatasetNotifier(sink diagnostics.Sink) func(dataset.Status) {
	return func(s dataset.Status) {
		sink.TryPublish(events.Event{Kind: events.KindStatus, Type: dataset.TypeDataset, Payload: s})
	}
}
