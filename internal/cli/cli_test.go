package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetArgs(args)
	err := RootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := store.NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	err = repo.SaveSelectionState(ctx, map[string]domain.SessionSnapshot{
		"s_0000aaaa": {RecentWindow: 5, RecentIDs: []string{"q1", "q2"}, LastType: "a", ActiveType: "a", ServesInCurrentType: 2},
	})
	if err != nil {
		t.Fatalf("SaveSelectionState failed: %v", err)
	}
	for _, ev := range []domain.AttemptEvent{
		{SessionID: "s_0000aaaa", ItemID: "q1", ItemType: "A", Action: domain.ActionServed},
		{SessionID: "s_0000aaaa", ItemID: "q1", ItemType: "A", Action: domain.ActionAnswered, Correct: domain.BoolPtr(true)},
		{SessionID: "s_0000aaaa", ItemID: "q2", ItemType: "A", Action: domain.ActionAnswered, Correct: domain.BoolPtr(false)},
	} {
		if err := repo.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}
	return dir
}

func TestStateCommand(t *testing.T) {
	dir := seedStore(t)

	out, err := run(t, "state", "--state-dir", dir, "-f", "json")
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	var table map[string]domain.SessionSnapshot
	if err := json.Unmarshal([]byte(out), &table); err != nil {
		t.Fatalf("Failed to decode output %q: %v", out, err)
	}
	if table["s_0000aaaa"].ServesInCurrentType != 2 {
		t.Errorf("Expected 2 serves, got %+v", table["s_0000aaaa"])
	}

	if _, err := run(t, "state", "s_ffffffff", "--state-dir", dir, "-f", "json"); err == nil {
		t.Error("Expected error for unknown session")
	}
}

func TestProgressCommand(t *testing.T) {
	dir := seedStore(t)

	out, err := run(t, "progress", "s_0000aaaa", "--state-dir", dir, "-f", "text")
	if err != nil {
		t.Fatalf("progress failed: %v", err)
	}
	if !strings.Contains(out, "attempts=2 correct=1") {
		t.Errorf("Expected attempts=2 correct=1 in output, got %q", out)
	}
}

func TestEventsCommand(t *testing.T) {
	dir := seedStore(t)

	out, err := run(t, "events", "s_0000aaaa", "--state-dir", dir, "-f", "json")
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	var events []domain.AttemptEvent
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("Failed to decode output %q: %v", out, err)
	}
	if len(events) != 3 || events[0].Action != domain.ActionServed {
		t.Errorf("Expected 3 events starting with served, got %+v", events)
	}
}

func TestSimulateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	data := `[{"id":"a1","type":"A"},{"id":"a2","type":"A"},{"id":"b1","type":"B"},{"id":"b2","type":"B"}]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	out, err := run(t, "simulate", "--catalog", path, "--calls", "12", "--seed", "7", "--recent", "1", "-f", "json")
	if err != nil {
		t.Fatalf("simulate failed: %v", err)
	}
	var result struct {
		Seed   uint64           `json:"seed"`
		Serves []simulatedServe `json:"serves"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("Failed to decode output %q: %v", out, err)
	}
	if result.Seed != 7 {
		t.Errorf("Expected seed 7, got %d", result.Seed)
	}
	if len(result.Serves) != 12 {
		t.Fatalf("Expected 12 serves, got %d", len(result.Serves))
	}
	for i := 1; i < len(result.Serves); i++ {
		if result.Serves[i].ID == result.Serves[i-1].ID {
			t.Errorf("Serve %d repeats %q", i, result.Serves[i].ID)
		}
	}

	if _, err := run(t, "simulate", "--catalog", filepath.Join(t.TempDir(), "missing.json"), "-f", "json"); err == nil {
		t.Error("Expected error for missing catalog")
	}
}
