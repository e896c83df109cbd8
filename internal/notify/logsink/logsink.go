// Package logsink is a relay.Sink that writes messages to the log instead of
// a chat service. It is the default when no Slack credentials are configured.
package logsink

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/perch/internal/relay"
)

// Sink logs every message. It threads like a chat backend: a message without
// a thread ref gets a fresh sequential ref.
type Sink struct {
	logger log.Logger
	seq    atomic.Uint64
}

// New returns a Sink writing to logger.
func New(logger log.Logger) *Sink {
	if logger == nil {
		logger = log.Nop()
	}
	return &Sink{logger: logger}
}

// Deliver implements relay.Sink.
func (s *Sink) Deliver(ctx context.Context, msg relay.Message) (string, error) {
	ref := msg.ThreadRef
	if ref == "" {
		ref = "log-" + strconv.FormatUint(s.seq.Add(1), 10)
	}
	s.logger.Info(ctx, "message",
		"channel", msg.Channel,
		"sender", msg.Sender,
		"icon", msg.Icon,
		"thread", ref,
		"text", msg.Text,
	)
	return ref, nil
}
