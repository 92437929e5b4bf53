package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var events []Event
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			t.Fatalf("bad trace line %q: %v", line, err)
		}
		events = append(events, evt)
	}
	return events
}

func TestWriter_EmitsJSONL(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "20260821T120000-abcd")

	if err := tw.EmitRunStart("items.yaml", 3, "current", "candidate"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tw.EmitCaseResult("getItem", 2, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tw.EmitChainResult("createItem -> getItem", 2, 0, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tw.EmitBundleWritten("ab12cd34ef56", "/tmp/out"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := decodeLines(t, &buf)
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[0].Type != EventRunStart || events[0].RunID != "20260821T120000-abcd" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Data["operation"] != "getItem" || events[1].Data["mismatches"] != float64(1) {
		t.Errorf("case_result data = %+v", events[1].Data)
	}
	if events[2].Data["degraded"] != true {
		t.Errorf("chain_result data = %+v", events[2].Data)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestWriter_ConcurrentEmits(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := tw.EmitCaseResult("op", n*10+j, 0); err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	events := decodeLines(t, &buf)
	if len(events) != 100 {
		t.Errorf("got %d events, want 100 intact lines", len(events))
	}
}
