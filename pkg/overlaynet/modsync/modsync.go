// Package modsync plans mod artifact synchronization against a manifest:
// which artifacts are missing or corrupt locally, and where to fetch them
// from under native, managed, or hybrid strategies. The planner is pure
// aside from the file stat/hash it performs to inspect local state.
package modsync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Mode selects how a sync plan sources needed artifacts.
type Mode string

const (
	ModeNative  Mode = "native"
	ModeManaged Mode = "managed"
	ModeHybrid  Mode = "hybrid"
)

// Artifact is one file tracked by a mod manifest.
type Artifact struct {
	ArtifactID   string   `json:"artifact_id"`
	RelativePath string   `json:"relative_path"`
	SHA256       string   `json:"sha256"`
	SizeBytes    int64    `json:"size_bytes"`
	SourceURLs   []string `json:"source_urls"`
}

// NormalizedID is the artifact ID used for stable matching:
// trimmed and lowercased.
func (a Artifact) NormalizedID() string {
	return strings.ToLower(strings.TrimSpace(a.ArtifactID))
}

// Manifest is the mod set shared by a party's host and peers.
type Manifest struct {
	GameID    string     `json:"game_id"`
	Version   string     `json:"version"`
	Artifacts []Artifact `json:"artifacts"`
}

// Fingerprint returns a stable SHA-256 digest of the manifest's canonical
// JSON encoding (object keys sorted, no extraneous whitespace).
func (m Manifest) Fingerprint() (string, error) {
	canonical, err := canonicalJSON(m)
	if err != nil {
		return "", fmt.Errorf("modsync: canonicalize manifest: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON re-marshals v through a generic map so object keys come
// out sorted, matching the reference fingerprint format exactly.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSortedKeys(generic)
}

func marshalSortedKeys(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			vb, err := marshalSortedKeys(val[k])
			if err != nil {
				return nil, err
			}
			b.Write(vb)
		}
		b.WriteByte('}')
		return []byte(b.String()), nil
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			ib, err := marshalSortedKeys(item)
			if err != nil {
				return nil, err
			}
			b.Write(ib)
		}
		b.WriteByte(']')
		return []byte(b.String()), nil
	default:
		return json.Marshal(val)
	}
}

// LocalState groups manifest artifact IDs by their status on disk.
type LocalState struct {
	Present []string
	Missing []string
	Corrupt []string
}

// InspectLocalState compares manifest against the files under modsRoot:
// a missing file is Missing, a present file whose SHA-256 doesn't match
// is Corrupt, otherwise it is Present. An artifact with no recorded
// SHA-256 is trusted once present.
func InspectLocalState(manifest Manifest, modsRoot string) (LocalState, error) {
	var state LocalState
	for _, artifact := range manifest.Artifacts {
		path := filepath.Join(modsRoot, artifact.RelativePath)
		normalized := artifact.NormalizedID()

		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				state.Missing = append(state.Missing, normalized)
				continue
			}
			return LocalState{}, fmt.Errorf("modsync: stat %s: %w", path, err)
		}
		if info.IsDir() {
			state.Missing = append(state.Missing, normalized)
			continue
		}

		if artifact.SHA256 != "" {
			localHash, err := computeSHA256(path)
			if err != nil {
				return LocalState{}, fmt.Errorf("modsync: hash %s: %w", path, err)
			}
			if !strings.EqualFold(localHash, artifact.SHA256) {
				state.Corrupt = append(state.Corrupt, normalized)
				continue
			}
		}

		state.Present = append(state.Present, normalized)
	}
	return state, nil
}

func computeSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DownloadItem is one artifact a managed or hybrid plan needs fetched,
// with candidate source URLs in priority order.
type DownloadItem struct {
	ArtifactID   string   `json:"artifact_id"`
	RelativePath string   `json:"relative_path"`
	SHA256       string   `json:"sha256"`
	Sources      []string `json:"sources"`
}

// Plan is the outcome of BuildSyncPlan.
type Plan struct {
	Mode                Mode           `json:"mode"`
	ManifestFingerprint string         `json:"manifest_fingerprint"`
	NeededArtifacts     []string       `json:"needed_artifacts"`
	NativeProvider      string         `json:"native_provider,omitempty"`
	LANDownloadEnabled  bool           `json:"lanrage_download_enabled"`
	Ready               bool           `json:"ready"`
	NextStep            string         `json:"next_step"`
	Downloads           []DownloadItem `json:"downloads,omitempty"`
}

// BuildSyncPlan inspects modsRoot against manifest and produces a plan
// for the given mode. In native mode, local LAN-relay downloading is
// disabled and the caller is pointed at nativeProvider. In managed or
// hybrid mode, one DownloadItem is emitted per needed artifact, with the
// manifest's own source URLs followed by a peerSources[i]/relative_path
// candidate for each peer source.
func BuildSyncPlan(mode Mode, manifest Manifest, modsRoot string, nativeProvider string, peerSources []string) (Plan, error) {
	state, err := InspectLocalState(manifest, modsRoot)
	if err != nil {
		return Plan{}, err
	}

	needed := sortedUnion(state.Missing, state.Corrupt)
	fingerprint, err := manifest.Fingerprint()
	if err != nil {
		return Plan{}, err
	}
	ready := len(needed) == 0

	if mode == ModeNative {
		nextStep := "Use game-native mod downloader."
		if ready {
			nextStep = "No sync required."
		}
		return Plan{
			Mode:                mode,
			ManifestFingerprint: fingerprint,
			NeededArtifacts:     needed,
			NativeProvider:      nativeProvider,
			LANDownloadEnabled:  false,
			Ready:               ready,
			NextStep:            nextStep,
		}, nil
	}

	byID := make(map[string]Artifact, len(manifest.Artifacts))
	for _, a := range manifest.Artifacts {
		byID[a.NormalizedID()] = a
	}

	downloads := make([]DownloadItem, 0, len(needed))
	for _, id := range needed {
		artifact, ok := byID[id]
		if !ok {
			continue
		}
		sources := append([]string{}, artifact.SourceURLs...)
		for _, base := range peerSources {
			base = strings.TrimRight(base, "/")
			sources = append(sources, base+"/"+artifact.RelativePath)
		}
		downloads = append(downloads, DownloadItem{
			ArtifactID:   id,
			RelativePath: artifact.RelativePath,
			SHA256:       artifact.SHA256,
			Sources:      sources,
		})
	}

	var nextStep string
	switch {
	case !ready && mode == ModeHybrid:
		nextStep = "Resolve native dependencies, then download remaining via LANrage."
	case !ready:
		nextStep = "Download missing/corrupt artifacts via LANrage."
	default:
		nextStep = "No sync required."
	}

	return Plan{
		Mode:                mode,
		ManifestFingerprint: fingerprint,
		NeededArtifacts:     needed,
		NativeProvider:      nativeProvider,
		LANDownloadEnabled:  true,
		Ready:               ready,
		NextStep:            nextStep,
		Downloads:           downloads,
	}, nil
}

// CacheManifest persists manifest to path, gzip-compressed, so a future
// run can compare a freshly fetched manifest against the last one synced
// without re-fetching it from the host. Overwrites any existing file.
func CacheManifest(path string, manifest Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("modsync: create manifest cache %s: %w", path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(manifest); err != nil {
		gz.Close()
		return fmt.Errorf("modsync: write manifest cache %s: %w", path, err)
	}
	return gz.Close()
}

// LoadCachedManifest reads a manifest previously written by CacheManifest.
func LoadCachedManifest(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("modsync: open manifest cache %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return Manifest{}, fmt.Errorf("modsync: read manifest cache %s: %w", path, err)
	}
	defer gz.Close()

	var manifest Manifest
	if err := json.NewDecoder(gz).Decode(&manifest); err != nil {
		return Manifest{}, fmt.Errorf("modsync: decode manifest cache %s: %w", path, err)
	}
	return manifest, nil
}

func sortedUnion(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
