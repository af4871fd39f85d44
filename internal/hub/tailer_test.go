package hub

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func readEventLines(t *testing.T, path string) []HubEvent {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var events []HubEvent
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev HubEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("malformed log line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func appendRaw(t *testing.T, path, chunk string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	if _, err := f.WriteString(chunk); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

func appendEventLine(t *testing.T, path string, ev HubEvent) {
	t.Helper()
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	appendRaw(t, path, string(raw)+"\n")
}

func TestEventAppenderWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub", "hub-events.log")
	a, err := NewEventAppender(path, 10*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventAppender: %v", err)
	}

	for _, name := range []string{EventSwapValidated, EventSubmitted, EventMonitorDone} {
		if err := a.Append(NewEvent(name, map[string]interface{}{"wallet": "alpha"})); err != nil {
			t.Fatalf("Append(%s): %v", name, err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := readEventLines(t, path)
	if len(events) != 3 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Event != EventSwapValidated || events[2].Event != EventMonitorDone {
		t.Errorf("order lost: %s .. %s", events[0].Event, events[2].Event)
	}
	if events[1].Ts == 0 {
		t.Error("event lost its timestamp")
	}

	lines, _ := a.Stats()
	if lines != 3 {
		t.Errorf("stats lines = %d", lines)
	}
}

func TestEventAppenderAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub-events.log")

	for i := 0; i < 2; i++ {
		a, err := NewEventAppender(path, time.Second, zap.NewNop())
		if err != nil {
			t.Fatalf("NewEventAppender: %v", err)
		}
		if err := a.Append(NewEvent(EventSubmitted, nil)); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := a.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	if events := readEventLines(t, path); len(events) != 2 {
		t.Fatalf("reopen truncated the log: %d events", len(events))
	}
}

func startTestTailer(t *testing.T, path string) chan HubEvent {
	t.Helper()
	ch := make(chan HubEvent, 16)
	tailer, err := NewTailer(path, zap.NewNop(), func(ev HubEvent) { ch <- ev })
	if err != nil {
		t.Fatalf("NewTailer: %v", err)
	}
	t.Cleanup(func() { tailer.Close() })
	return ch
}

func recvEvent(t *testing.T, ch chan HubEvent) HubEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no event delivered")
		return HubEvent{}
	}
}

func TestTailerDeliversAppendedEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub-events.log")
	ch := startTestTailer(t, path)

	appendEventLine(t, path, NewEvent(EventSwapValidated, map[string]interface{}{"wallet": "alpha"}))
	appendEventLine(t, path, NewEvent(EventSubmitted, map[string]interface{}{"signature": "5sig"}))

	first := recvEvent(t, ch)
	second := recvEvent(t, ch)
	if first.Event != EventSwapValidated || second.Event != EventSubmitted {
		t.Fatalf("delivery order: %s, %s", first.Event, second.Event)
	}
	if second.Data["signature"] != "5sig" {
		t.Errorf("payload lost: %+v", second.Data)
	}
}

func TestTailerIgnoresHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub-events.log")
	appendEventLine(t, path, NewEvent(EventSwapValidated, nil))

	ch := startTestTailer(t, path)
	appendEventLine(t, path, NewEvent(EventSubmitted, nil))

	if ev := recvEvent(t, ch); ev.Event != EventSubmitted {
		t.Fatalf("historic line replayed: %s", ev.Event)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event: %s", ev.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTailerSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub-events.log")
	ch := startTestTailer(t, path)

	appendRaw(t, path, "this is not json\n")
	appendRaw(t, path, "{\"ts\":1}\n") // parses but has no event name
	appendEventLine(t, path, NewEvent(EventMonitorDone, nil))

	if ev := recvEvent(t, ch); ev.Event != EventMonitorDone {
		t.Fatalf("malformed line delivered: %s", ev.Event)
	}
}

func TestTailerReassemblesPartialWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub-events.log")
	ch := startTestTailer(t, path)

	raw, err := json.Marshal(NewEvent(EventSwapValidated, map[string]interface{}{"wallet": "alpha"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	half := len(raw) / 2
	appendRaw(t, path, string(raw[:half]))
	time.Sleep(50 * time.Millisecond)
	appendRaw(t, path, string(raw[half:])+"\n")

	ev := recvEvent(t, ch)
	if ev.Event != EventSwapValidated {
		t.Fatalf("event = %s", ev.Event)
	}
	if ev.Data["wallet"] != "alpha" {
		t.Errorf("reassembly corrupted the payload: %+v", ev.Data)
	}
}

func TestTailerRecoversFromTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub-events.log")
	ch := startTestTailer(t, path)

	appendEventLine(t, path, NewEvent(EventSwapValidated, nil))
	recvEvent(t, ch)

	if err := os.Truncate(path, 0); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	// Let the tailer observe the shrunken file before new lines land;
	// the poll fallback bounds the wait even without an fsnotify event.
	time.Sleep(tailerPollInterval + 200*time.Millisecond)
	appendEventLine(t, path, NewEvent(EventSubmitted, nil))

	if ev := recvEvent(t, ch); ev.Event != EventSubmitted {
		t.Fatalf("post-truncation event = %s", ev.Event)
	}
}
