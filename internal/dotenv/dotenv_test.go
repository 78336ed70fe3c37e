package dotenv

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeEnv(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unset %s: %v", k, err)
		}
	}
}

func TestFilesFor(t *testing.T) {
	if got := FilesFor(""); !slices.Equal(got, []string{".env"}) {
		t.Fatalf("FilesFor(\"\")=%v", got)
	}
	if got := FilesFor(" Staging "); !slices.Equal(got, []string{".env.staging", ".env"}) {
		t.Fatalf("FilesFor(staging)=%v", got)
	}
}

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestLoadFile_ParsesAndPreservesExisting(t *testing.T) {
	path := writeEnv(t, t.TempDir(), ".env", ""+
		"# interview gateway\n"+
		"VAI_INTERVIEW_TEST_ADDR=:9090\n"+
		"VAI_INTERVIEW_TEST_ROLE=\"Staff Engineer\"\n"+
		"export VAI_INTERVIEW_TEST_EXPORTED=ok\n"+
		"VAI_INTERVIEW_TEST_EXISTING=from_file\n")

	unset(t, "VAI_INTERVIEW_TEST_ADDR", "VAI_INTERVIEW_TEST_ROLE", "VAI_INTERVIEW_TEST_EXPORTED")
	t.Setenv("VAI_INTERVIEW_TEST_EXISTING", "already_set")

	if err := LoadFile(path); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	want := map[string]string{
		"VAI_INTERVIEW_TEST_ADDR":     ":9090",
		"VAI_INTERVIEW_TEST_ROLE":     "Staff Engineer",
		"VAI_INTERVIEW_TEST_EXPORTED": "ok",
		"VAI_INTERVIEW_TEST_EXISTING": "already_set",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Fatalf("%s=%q, want %q", k, got, v)
		}
	}
}

func TestLoad_FirstFileWins(t *testing.T) {
	dir := t.TempDir()
	specific := writeEnv(t, dir, ".env.staging", "VAI_INTERVIEW_TEST_PLAN_TABLE=staging.yaml\n")
	base := writeEnv(t, dir, ".env", "VAI_INTERVIEW_TEST_PLAN_TABLE=base.yaml\nVAI_INTERVIEW_TEST_ONLY_BASE=yes\n")
	unset(t, "VAI_INTERVIEW_TEST_PLAN_TABLE", "VAI_INTERVIEW_TEST_ONLY_BASE")

	if err := Load(filepath.Join(dir, ".env.missing"), specific, base); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := os.Getenv("VAI_INTERVIEW_TEST_PLAN_TABLE"); got != "staging.yaml" {
		t.Fatalf("PLAN_TABLE=%q, want staging.yaml", got)
	}
	if got := os.Getenv("VAI_INTERVIEW_TEST_ONLY_BASE"); got != "yes" {
		t.Fatalf("ONLY_BASE=%q, want yes", got)
	}
}
