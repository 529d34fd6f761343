// Package reload implements live code reload for the world server:
// classifying changed modules for reload safety, reimporting the safe set
// in dependency order, invalidating every code-derived cache, validating
// scripts against the new code, and resynchronizing live entities in the
// background. Nothing in this package raises out of the trigger entry
// points; every failure is contained and converted to reported text.
package reload

import (
	"fmt"
	"strings"

	"github.com/zot/world/internal/config"
)

// noChannelTag marks log lines that could not be delivered to the info channel.
const noChannelTag = "[NO INFO CHANNEL]"

// MessageSink is a message destination, normally a comms channel.
type MessageSink interface {
	Msg(text string) error
}

// ChannelLookup resolves a channel name to a message sink.
type ChannelLookup func(name string) (MessageSink, error)

// Reporter emits reload progress. Every message goes to the durable log;
// delivery to the configured info channel is best-effort and a failure
// there never reaches the caller.
type Reporter struct {
	cfg         *config.Config
	channelName string
	lookup      ChannelLookup
	logf        func(format string, args ...interface{})
}

// NewReporter creates a reporter delivering to the configured info channel.
func NewReporter(cfg *config.Config, lookup ChannelLookup) *Reporter {
	return &Reporter{
		cfg:         cfg,
		channelName: cfg.Reload.InfoChannel,
		lookup:      lookup,
		logf: func(format string, args ...interface{}) {
			cfg.Log(0, format, args...)
		},
	}
}

// Report logs the message and attempts channel delivery. When the channel
// cannot be resolved, each line is logged again with a "no channel" tag,
// preserving line order.
func (r *Reporter) Report(message string) {
	r.logf("%s", message)

	sink := r.resolveChannel()
	if sink == nil {
		for _, line := range strings.Split(message, "\n") {
			r.logf("%s: %s", noChannelTag, line)
		}
		return
	}

	var tagged []string
	for _, line := range strings.Split(message, "\n") {
		tagged = append(tagged, fmt.Sprintf("[%s]: %s", r.channelName, line))
	}
	if err := sink.Msg(strings.Join(tagged, "\n")); err != nil {
		// Channel delivery is best-effort only.
		r.cfg.Log(1, "Reporter: channel %s delivery failed: %v", r.channelName, err)
	}
}

// resolveChannel looks up the info channel, swallowing lookup failures
// (including panics from a misbehaving lookup).
func (r *Reporter) resolveChannel() (sink MessageSink) {
	defer func() {
		if rec := recover(); rec != nil {
			sink = nil
		}
	}()

	if r.channelName == "" || r.lookup == nil {
		return nil
	}
	sink, err := r.lookup(r.channelName)
	if err != nil {
		return nil
	}
	return sink
}
