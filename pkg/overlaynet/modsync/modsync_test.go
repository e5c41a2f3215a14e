package modsync

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sha256Of(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "tmp", content)
	sum, err := computeSHA256(filepath.Join(dir, "tmp"))
	if err != nil {
		t.Fatalf("computeSHA256: %v", err)
	}
	return sum
}

func TestInspectLocalStateClassifiesArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "present.pak", "good-content")
	writeFile(t, dir, "corrupt.pak", "wrong-content")

	manifest := Manifest{
		GameID:  "game",
		Version: "1",
		Artifacts: []Artifact{
			{ArtifactID: "Present", RelativePath: "present.pak", SHA256: sha256Of(t, "good-content")},
			{ArtifactID: "Corrupt", RelativePath: "corrupt.pak", SHA256: sha256Of(t, "good-content")},
			{ArtifactID: "Missing", RelativePath: "missing.pak", SHA256: sha256Of(t, "good-content")},
		},
	}

	state, err := InspectLocalState(manifest, dir)
	if err != nil {
		t.Fatalf("InspectLocalState: %v", err)
	}
	if len(state.Present) != 1 || state.Present[0] != "present" {
		t.Fatalf("present = %v", state.Present)
	}
	if len(state.Corrupt) != 1 || state.Corrupt[0] != "corrupt" {
		t.Fatalf("corrupt = %v", state.Corrupt)
	}
	if len(state.Missing) != 1 || state.Missing[0] != "missing" {
		t.Fatalf("missing = %v", state.Missing)
	}
}

func TestInspectLocalStateTrustsPresentFileWithoutHash(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "unverified.pak", "anything")

	manifest := Manifest{Artifacts: []Artifact{{ArtifactID: "unverified", RelativePath: "unverified.pak"}}}
	state, err := InspectLocalState(manifest, dir)
	if err != nil {
		t.Fatalf("InspectLocalState: %v", err)
	}
	if len(state.Present) != 1 {
		t.Fatalf("expected artifact with no recorded hash to be trusted once present, got %+v", state)
	}
}

func TestBuildSyncPlanNativeModeDisablesDownloads(t *testing.T) {
	dir := t.TempDir()
	manifest := Manifest{
		GameID: "game",
		Artifacts: []Artifact{
			{ArtifactID: "a", RelativePath: "a.pak"},
		},
	}

	plan, err := BuildSyncPlan(ModeNative, manifest, dir, "steam-workshop", nil)
	if err != nil {
		t.Fatalf("BuildSyncPlan: %v", err)
	}
	if plan.LANDownloadEnabled {
		t.Fatal("native mode should disable LAN download")
	}
	if plan.NativeProvider != "steam-workshop" {
		t.Fatalf("native provider = %s", plan.NativeProvider)
	}
	if plan.Ready {
		t.Fatal("plan should not be ready, artifact is missing")
	}
	if len(plan.Downloads) != 0 {
		t.Fatalf("native mode should not emit downloads, got %v", plan.Downloads)
	}
}

func TestBuildSyncPlanManagedModeListsManifestAndPeerSources(t *testing.T) {
	dir := t.TempDir()
	manifest := Manifest{
		GameID: "game",
		Artifacts: []Artifact{
			{ArtifactID: "a", RelativePath: "mods/a.pak", SourceURLs: []string{"https://cdn.example.com/a.pak"}},
		},
	}

	plan, err := BuildSyncPlan(ModeManaged, manifest, dir, "", []string{"http://10.0.0.5:8900/", "http://10.0.0.6:8900"})
	if err != nil {
		t.Fatalf("BuildSyncPlan: %v", err)
	}
	if !plan.LANDownloadEnabled {
		t.Fatal("managed mode should enable LAN download")
	}
	if len(plan.Downloads) != 1 {
		t.Fatalf("downloads = %v", plan.Downloads)
	}
	want := []string{
		"https://cdn.example.com/a.pak",
		"http://10.0.0.5:8900/mods/a.pak",
		"http://10.0.0.6:8900/mods/a.pak",
	}
	got := plan.Downloads[0].Sources
	if len(got) != len(want) {
		t.Fatalf("sources = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sources[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBuildSyncPlanReadyWhenNothingNeeded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pak", "content")
	manifest := Manifest{Artifacts: []Artifact{{ArtifactID: "a", RelativePath: "a.pak", SHA256: sha256Of(t, "content")}}}

	plan, err := BuildSyncPlan(ModeHybrid, manifest, dir, "", nil)
	if err != nil {
		t.Fatalf("BuildSyncPlan: %v", err)
	}
	if !plan.Ready {
		t.Fatal("expected ready plan when every artifact is present")
	}
	if plan.NextStep != "No sync required." {
		t.Fatalf("next step = %q", plan.NextStep)
	}
}

func TestFingerprintIsStableForEqualManifestsAndDiffersOtherwise(t *testing.T) {
	m1 := Manifest{GameID: "g", Version: "1", Artifacts: []Artifact{{ArtifactID: "a", RelativePath: "a.pak"}}}
	m2 := Manifest{GameID: "g", Version: "1", Artifacts: []Artifact{{ArtifactID: "a", RelativePath: "a.pak"}}}

	fp1, err := m1.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	fp2, err := m2.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fp1 != fp2 {
		t.Fatalf("fingerprints differ for identical manifests: %s vs %s", fp1, fp2)
	}

	m3 := Manifest{GameID: "g", Version: "2", Artifacts: []Artifact{{ArtifactID: "a", RelativePath: "a.pak"}}}
	fp3, err := m3.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fp3 == fp1 {
		t.Fatal("different manifests should not share a fingerprint")
	}
}
