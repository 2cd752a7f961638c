package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dumpftp/dumpftp/internal/config"
)

func tempFile(t *testing.T, name string) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func contents(t *testing.T, f *os.File) string {
	t.Helper()
	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"help", []string{"-h"}, exitOK},
		{"missing host", nil, exitUsage},
		{"unknown option", []string{"-z", "host"}, exitUsage},
		{"bad filter", []string{"-f", "[", "host"}, exitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr := tempFile(t, "stdout"), tempFile(t, "stderr")
			if got := run(tt.args, stdout, stderr); got != tt.code {
				t.Errorf("run(%q) = %d, want %d", tt.args, got, tt.code)
			}
			if !strings.Contains(contents(t, stderr), "Usage: dumpftp") {
				t.Errorf("usage not printed:\n%s", contents(t, stderr))
			}
		})
	}
}

func TestOpenTarget_Local(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mirror")
	b, err := openTarget(context.Background(), &config.Config{Target: root})
	if err != nil {
		t.Fatalf("openTarget: %v", err)
	}
	defer b.Close()
	if b.Type() != "local" {
		t.Errorf("Type = %q", b.Type())
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Errorf("target root not created: %v", err)
	}
}

func TestOpenTarget_S3(t *testing.T) {
	b, err := openTarget(context.Background(), &config.Config{
		Target:      "s3://bucket/mirror",
		S3Region:    "us-east-1",
		S3AccessKey: "key",
		S3SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("openTarget: %v", err)
	}
	if b.Type() != "s3" || b.Location("x") != "s3://bucket/mirror/x" {
		t.Errorf("backend = %s %s", b.Type(), b.Location("x"))
	}
}

func TestOpenTarget_Invalid(t *testing.T) {
	if _, err := openTarget(context.Background(), &config.Config{Target: "s3://"}); err == nil {
		t.Error("expected error for target without bucket")
	}
}
