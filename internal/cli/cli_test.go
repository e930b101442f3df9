package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath = ""
		reconcileLimit = 0
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	rootCmd.Version = "1.2.3"
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.Contains(out, "1.2.3") {
		t.Errorf("output = %q, want version", out)
	}
}

func TestReconcile_MemoryStore(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE", "memory")

	out, err := execute(t, "reconcile", "--limit", "5")
	if err != nil {
		t.Fatalf("reconcile error: %v", err)
	}
	if !strings.Contains(out, "updated 0 task(s)") {
		t.Errorf("output = %q", out)
	}
}

func TestReconcile_BadConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE", "redis")

	if _, err := execute(t, "reconcile"); err == nil {
		t.Fatal("reconcile error = nil, want config failure")
	}
}

func TestServe_RejectsArgs(t *testing.T) {
	if _, err := execute(t, "serve", "extra"); err == nil {
		t.Fatal("serve with positional args error = nil")
	}
}
