package reload

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/zot/world/internal/config"
)

// fakeSink records delivered channel messages.
type fakeSink struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (s *fakeSink) Msg(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, text)
	return nil
}

func (s *fakeSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

// captureReporter returns a reporter whose log output is captured.
func captureReporter(lookup ChannelLookup) (*Reporter, *[]string) {
	var logged []string
	r := NewReporter(config.DefaultConfig(), lookup)
	r.logf = func(format string, args ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, args...))
	}
	return r, &logged
}

// === Reporter Tests ===

// TestReportDeliversTaggedLines verifies each message line reaches the
// channel prefixed with the channel name.
func TestReportDeliversTaggedLines(t *testing.T) {
	sink := &fakeSink{}
	r, _ := captureReporter(func(name string) (MessageSink, error) {
		return sink, nil
	})

	r.Report("first line\nsecond line")

	msgs := sink.messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(msgs))
	}
	want := "[mudinfo]: first line\n[mudinfo]: second line"
	if msgs[0] != want {
		t.Errorf("Expected %q, got %q", want, msgs[0])
	}
}

// TestReportNoChannelFallback verifies that with no resolvable channel
// every line is logged with the fallback tag, in order.
func TestReportNoChannelFallback(t *testing.T) {
	r, logged := captureReporter(func(name string) (MessageSink, error) {
		return nil, fmt.Errorf("channel %q not found", name)
	})

	r.Report("line one\nline two")

	var tagged []string
	for _, entry := range *logged {
		if strings.HasPrefix(entry, noChannelTag+": ") {
			tagged = append(tagged, entry)
		}
	}
	if len(tagged) != 2 {
		t.Fatalf("Expected 2 tagged lines, got %d: %v", len(tagged), tagged)
	}
	if tagged[0] != noChannelTag+": line one" || tagged[1] != noChannelTag+": line two" {
		t.Errorf("Tagged lines out of order or malformed: %v", tagged)
	}
}

// TestReportAlwaysLogsRawMessage verifies the durable log receives the
// message whether or not the channel delivery works.
func TestReportAlwaysLogsRawMessage(t *testing.T) {
	sink := &fakeSink{}
	r, logged := captureReporter(func(name string) (MessageSink, error) {
		return sink, nil
	})

	r.Report("something happened")

	if len(*logged) == 0 || (*logged)[0] != "something happened" {
		t.Errorf("Expected raw message logged first, got %v", *logged)
	}
}

// TestReportDeliveryFailureSwallowed verifies a failing channel send never
// reaches the caller.
func TestReportDeliveryFailureSwallowed(t *testing.T) {
	sink := &fakeSink{err: fmt.Errorf("socket closed")}
	r, _ := captureReporter(func(name string) (MessageSink, error) {
		return sink, nil
	})

	r.Report("still fine") // must not panic or error
}

// TestReportLookupPanicSwallowed verifies a panicking lookup degrades to
// the fallback tagging.
func TestReportLookupPanicSwallowed(t *testing.T) {
	r, logged := captureReporter(func(name string) (MessageSink, error) {
		panic("lookup exploded")
	})

	r.Report("survives")

	found := false
	for _, entry := range *logged {
		if entry == noChannelTag+": survives" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected fallback tagging after lookup panic, got %v", *logged)
	}
}

// TestReportNilLookup verifies a reporter without any channel wiring still
// logs with the fallback tag.
func TestReportNilLookup(t *testing.T) {
	r, logged := captureReporter(nil)

	r.Report("no wiring")

	found := false
	for _, entry := range *logged {
		if entry == noChannelTag+": no wiring" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected fallback tagging, got %v", *logged)
	}
}
