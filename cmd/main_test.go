package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binary holds the path to the compiled mizan binary used by every test.
var binary string

// TestMain builds the binary once before any test runs and removes it afterwards.
func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "mizan-test-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmp)

	binary = filepath.Join(tmp, "mizan")
	build := exec.Command("go", "build", "-o", binary, ".")
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to build binary: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// configDirPath returns the absolute path to the config directory that lives
// next to the cmd/ package.
func configDirPath(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("..", "config"))
	if err != nil {
		t.Fatalf("resolving config dir: %v", err)
	}
	return dir
}

// run executes the binary with the given arguments, the --config flag pointing
// at the real config directory, and --db pointing at a throwaway database.
func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	full := append([]string{
		"--config", configDirPath(t),
		"--db", filepath.Join(t.TempDir(), "telemetry.db"),
	}, args...)
	cmd := exec.Command(binary, full...)
	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// --------------------------------------------------------------------------
// features command
// --------------------------------------------------------------------------

func TestFeaturesCommand(t *testing.T) {
	stdout, stderr, err := run(t, "features", "عايز أعرف رأيك في الخدمة دي")
	if err != nil {
		t.Fatalf("unexpected error: %v\nstderr: %s", err, stderr)
	}

	var out struct {
		LengthTokens    int     `json:"length_tokens"`
		ScriptRatio     float64 `json:"script_ratio"`
		DialectDensity  float64 `json:"dialect_density"`
		ComplexityScore float64 `json:"complexity_score"`
		Region          string  `json:"detected_region"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("failed to parse JSON: %v\nstdout: %s", err, stdout)
	}

	if out.LengthTokens == 0 {
		t.Error("expected non-zero token count")
	}
	if out.ScriptRatio != 1.0 {
		t.Errorf("script ratio = %.2f, want 1.0 for pure Arabic text", out.ScriptRatio)
	}
	if out.DialectDensity <= 0 {
		t.Errorf("dialect density = %.3f, want > 0 for Egyptian markers", out.DialectDensity)
	}
	if out.Region != "egyptian" {
		t.Errorf("detected region = %q, want egyptian", out.Region)
	}
}

func TestFeaturesCommandEnglishText(t *testing.T) {
	stdout, stderr, err := run(t, "features", "This text has no Arabic in it at all")
	if err != nil {
		t.Fatalf("unexpected error: %v\nstderr: %s", err, stderr)
	}

	var out struct {
		ScriptRatio    float64 `json:"script_ratio"`
		DialectDensity float64 `json:"dialect_density"`
		Region         string  `json:"detected_region"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("failed to parse JSON: %v\nstdout: %s", err, stdout)
	}
	if out.ScriptRatio != 0 {
		t.Errorf("script ratio = %.2f, want 0 for English text", out.ScriptRatio)
	}
	if out.DialectDensity != 0 || out.Region != "" {
		t.Errorf("expected no dialect signal, got density %.3f region %q", out.DialectDensity, out.Region)
	}
}

// --------------------------------------------------------------------------
// backends command
// --------------------------------------------------------------------------

func TestBackendsCommand(t *testing.T) {
	stdout, stderr, err := run(t, "backends")
	if err != nil {
		t.Fatalf("unexpected error: %v\nstderr: %s", err, stderr)
	}

	var profiles []struct {
		ID        string
		Available bool
	}
	if err := json.Unmarshal([]byte(stdout), &profiles); err != nil {
		t.Fatalf("failed to parse JSON: %v\nstdout: %s", err, stdout)
	}

	expected := []string{"dialect-specialist", "fast-generic", "reasoning-heavy", "local-fallback"}
	if len(profiles) != len(expected) {
		t.Fatalf("got %d backends, want %d", len(profiles), len(expected))
	}
	got := make(map[string]bool)
	for _, p := range profiles {
		got[p.ID] = true
		if !p.Available {
			t.Errorf("backend %s should start available", p.ID)
		}
	}
	for _, id := range expected {
		if !got[id] {
			t.Errorf("output missing backend %q", id)
		}
	}
}

// --------------------------------------------------------------------------
// decisions and stats commands
// --------------------------------------------------------------------------

func TestDecisionsCommandEmptyDatabase(t *testing.T) {
	stdout, stderr, err := run(t, "decisions")
	if err != nil {
		t.Fatalf("unexpected error: %v\nstderr: %s", err, stderr)
	}
	if strings.TrimSpace(stdout) != "null" && strings.TrimSpace(stdout) != "[]" {
		t.Errorf("expected empty decision list, got: %s", stdout)
	}
}

func TestStatsCommandEmptyDatabase(t *testing.T) {
	stdout, stderr, err := run(t, "stats")
	if err != nil {
		t.Fatalf("unexpected error: %v\nstderr: %s", err, stderr)
	}

	var stats struct {
		TotalRequests int
		FallbackCount int
	}
	if err := json.Unmarshal([]byte(stdout), &stats); err != nil {
		t.Fatalf("failed to parse JSON: %v\nstdout: %s", err, stdout)
	}
	if stats.TotalRequests != 0 || stats.FallbackCount != 0 {
		t.Errorf("expected zeroed stats, got: %s", stdout)
	}
}

// --------------------------------------------------------------------------
// Error cases
// --------------------------------------------------------------------------

func TestMissingConfigDirFeatures(t *testing.T) {
	cmd := exec.Command(binary, "--config", "/nonexistent/config/path", "features", "نص")
	var errBuf strings.Builder
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err == nil {
		t.Error("expected error for missing config directory, got nil")
	}
}

func TestMissingConfigDirBackends(t *testing.T) {
	cmd := exec.Command(binary, "--config", "/nonexistent/config/path", "backends")
	var errBuf strings.Builder
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err == nil {
		t.Error("expected error for missing config directory on backends, got nil")
	}
}

func TestUnknownSubcommand(t *testing.T) {
	_, _, err := run(t, "no-such-command")
	if err == nil {
		t.Error("expected error for unknown subcommand, got nil")
	}
}
