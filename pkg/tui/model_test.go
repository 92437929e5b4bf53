package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/riftlabs/rift/pkg/runtime"
	"github.com/riftlabs/rift/pkg/trace"
)

func TestModel_CountsEvents(t *testing.T) {
	m := NewModel("items.yaml", "legacy", "rewrite", nil)

	feed := []EventMsg{
		{Type: trace.EventRunStart, Data: map[string]any{"operations": 2}},
		{Type: trace.EventCaseResult, Data: map[string]any{"operation": "createItem", "seq": 0, "mismatches": 0}},
		{Type: trace.EventCaseResult, Data: map[string]any{"operation": "getItem", "seq": 0, "mismatches": 2}},
		{Type: trace.EventChainResult, Data: map[string]any{"sequence": "createItem -> getItem", "steps": 2, "mismatches": 1}},
		{Type: trace.EventBundleWritten, Data: map[string]any{"key": "ab12cd34ef56", "dir": "/tmp/x"}},
	}
	var model tea.Model = m
	for _, msg := range feed {
		model, _ = model.Update(msg)
	}
	got := model.(Model)

	if got.operations != 2 {
		t.Errorf("operations = %d, want 2", got.operations)
	}
	if got.cases != 2 {
		t.Errorf("cases = %d, want 2", got.cases)
	}
	if got.chains != 1 {
		t.Errorf("chains = %d, want 1", got.chains)
	}
	if got.mismatched != 2 {
		t.Errorf("mismatched = %d, want 2", got.mismatched)
	}
	if got.bundles != 1 {
		t.Errorf("bundles = %d, want 1", got.bundles)
	}

	view := got.View()
	for _, want := range []string{"items.yaml", "legacy vs rewrite", "ab12cd34ef56", "chain createItem -> getItem"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_DoneStates(t *testing.T) {
	t.Run("clean completion", func(t *testing.T) {
		m := NewModel("items.yaml", "a", "b", nil)
		updated, _ := m.Update(DoneMsg{Summary: &runtime.Summary{Cases: 4}})
		got := updated.(Model)
		if got.status != "completed" {
			t.Errorf("status = %q, want completed", got.status)
		}
		if got.Summary() == nil || got.Summary().Cases != 4 {
			t.Errorf("summary = %+v", got.Summary())
		}
		if !strings.Contains(got.View(), "targets agree") {
			t.Errorf("view missing agreement note:\n%s", got.View())
		}
	})

	t.Run("failure", func(t *testing.T) {
		m := NewModel("items.yaml", "a", "b", nil)
		updated, _ := m.Update(DoneMsg{Err: errors.New("evaluator unavailable")})
		got := updated.(Model)
		if got.status != "failed" {
			t.Errorf("status = %q, want failed", got.status)
		}
		if !strings.Contains(got.View(), "evaluator unavailable") {
			t.Errorf("view missing error:\n%s", got.View())
		}
	})
}

func TestModel_QuitCancelsRun(t *testing.T) {
	canceled := false
	m := NewModel("items.yaml", "a", "b", func() { canceled = true })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if !canceled {
		t.Error("quit should cancel the engine context")
	}
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Errorf("cmd() = %v, want tea.Quit", msg)
	}
}

func TestModel_RecentIsBounded(t *testing.T) {
	m := NewModel("items.yaml", "a", "b", nil)
	var model tea.Model = m
	for i := 0; i < maxRecent+5; i++ {
		model, _ = model.Update(EventMsg{
			Type: trace.EventBundleWritten,
			Data: map[string]any{"key": "k", "dir": "d"},
		})
	}
	got := model.(Model)
	if len(got.recent) != maxRecent {
		t.Errorf("recent = %d lines, want %d", len(got.recent), maxRecent)
	}
}
