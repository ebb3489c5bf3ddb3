package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/mediacat/internal/apperr"
)

func tempSource(t *testing.T) (*FS, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadDir_SortedAndFiltered(t *testing.T) {
	s, dir := tempSource(t)
	writeFile(t, filepath.Join(dir, "b.mp3"), "bb")
	writeFile(t, filepath.Join(dir, "a.flac"), "a")
	writeFile(t, filepath.Join(dir, "a.flac.yaml"), "title: x")
	writeFile(t, filepath.Join(dir, ".hidden"), "")
	writeFile(t, filepath.Join(dir, "sub", "c.jpg"), "c")

	got, err := s.ReadDir("")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range got {
		names = append(names, e.Name)
	}
	want := []string{"a.flac", "b.mp3", "sub"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	if got[0].MimeType != "audio/flac" || got[1].Size != 2 || !got[2].IsDir {
		t.Errorf("unexpected entries: %+v", got)
	}

	sub, err := s.ReadDir("sub")
	if err != nil {
		t.Fatal(err)
	}
	if len(sub) != 1 || sub[0].Ref != "sub/c.jpg" || sub[0].MimeType != "image/jpeg" {
		t.Errorf("sub = %+v", sub)
	}
}

func TestSafePath_RejectsTraversal(t *testing.T) {
	s, _ := tempSource(t)
	for _, ref := range []string{"../etc/passwd", "a/../../x", "/etc/passwd"} {
		if _, err := s.Stat(ref); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Errorf("Stat(%q) err = %v, want ErrInvalidArgument", ref, err)
		}
	}
}

func TestStat_NotFound(t *testing.T) {
	s, _ := tempSource(t)
	if _, err := s.Stat("missing.mp3"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOpenRange(t *testing.T) {
	s, dir := tempSource(t)
	writeFile(t, filepath.Join(dir, "data.bin"), "0123456789")

	r, err := s.OpenRange("data.bin", 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "234" {
		t.Errorf("range = %q, want 234", got)
	}

	tail, err := s.OpenRange("data.bin", 7, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer tail.Close()
	got, _ = io.ReadAll(tail)
	if string(got) != "789" {
		t.Errorf("tail = %q, want 789", got)
	}
}

func TestRelAndLocator(t *testing.T) {
	s, dir := tempSource(t)
	ref, err := s.Rel(filepath.Join(s.Root(), "x", "y.mp3"))
	if err != nil || ref != "x/y.mp3" {
		t.Errorf("Rel = %q, %v", ref, err)
	}
	if _, err := s.Rel(filepath.Dir(dir)); err == nil {
		t.Error("Rel outside root should fail")
	}
	if got := s.Locator("x/y.mp3"); got != filepath.Join(s.Root(), "x", "y.mp3") {
		t.Errorf("Locator = %q", got)
	}
}

func TestIsSidecar(t *testing.T) {
	cases := map[string]bool{
		"song.mp3.yaml": true,
		"song.mp3.md":   true,
		"list.yaml":     false,
		"README.md":     false,
		"song.mp3":      false,
	}
	for name, want := range cases {
		if got := IsSidecar(name); got != want {
			t.Errorf("IsSidecar(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSidecarModTime(t *testing.T) {
	s, dir := tempSource(t)
	writeFile(t, filepath.Join(dir, "song.mp3"), "x")
	if got := s.SidecarModTime("song.mp3"); !got.IsZero() {
		t.Errorf("no sidecar: got %v, want zero", got)
	}

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	for name, mtime := range map[string]time.Time{"song.mp3.yaml": older, "song.mp3.md": newer} {
		path := filepath.Join(dir, name)
		writeFile(t, path, "title: x\n")
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.SidecarModTime("song.mp3"); !got.Equal(newer) {
		t.Errorf("SidecarModTime = %v, want %v", got, newer)
	}
	if got := s.SidecarModTime("../song.mp3"); !got.IsZero() {
		t.Errorf("escaping ref: got %v, want zero", got)
	}
}
