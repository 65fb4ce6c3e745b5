package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mcdev12/teamclicker/go/internal/models"
)

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.yaml")

	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, ok, _ := s.Get(KeySelectedTeam); ok {
		t.Fatal("fresh store should be empty")
	}

	if err := s.Set(KeySelectedTeam, "red"); err != nil {
		t.Fatalf("Set team: %v", err)
	}
	if err := s.Set(KeyUsername, "alice"); err != nil {
		t.Fatalf("Set username: %v", err)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	team, err := SelectedTeam(reopened)
	if err != nil || team != models.TeamRed {
		t.Errorf("SelectedTeam = %q, %v; want red", team, err)
	}
	name, err := Username(reopened)
	if err != nil || name != "alice" {
		t.Errorf("Username = %q, %v; want alice", name, err)
	}

	if err := reopened.Remove(KeySelectedTeam); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	again, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen after remove: %v", err)
	}
	if team, _ := SelectedTeam(again); team != "" {
		t.Errorf("team after remove = %q, want none", team)
	}
}

func TestFileStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	if err := os.WriteFile(path, []byte("- not\n- a map\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSelectedTeamIgnoresUnknownValues(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Set(KeySelectedTeam, "green")
	team, err := SelectedTeam(s)
	if err != nil {
		t.Fatalf("SelectedTeam: %v", err)
	}
	if team != "" {
		t.Errorf("team = %q, want none", team)
	}
}
