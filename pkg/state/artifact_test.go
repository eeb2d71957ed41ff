package state

import (
	"path/filepath"
	"testing"
)

func TestArtifactPathUsesConfiguredRoot(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHATSYNC_ARTIFACT_ROOT", dir)

	root := ArtifactRoot()
	if root == "" {
		t.Fatal("expected a configured artifact root")
	}
	want := filepath.Join(root, "retention", "last_run")
	if got := ArtifactPath("retention", "last_run"); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
