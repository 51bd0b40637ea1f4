package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const chatLog = `hello everyone
first code ABCD-EFGH-IJKL-MNOP-QRST and AAAAA-BBBBB-CCCCC-DDDDD-EEEEE
lowercase abcd-efgh-ijkl-mnop-qrst does not count
`

func TestRun(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		in       string
		wantOut  string
		wantCode int
	}{
		{"first match per line", nil, chatLog, "ABCD-EFGH-IJKL-MNOP-QRST\n", 0},
		{"all matches", []string{"--all"}, chatLog, "ABCD-EFGH-IJKL-MNOP-QRST\nAAAAA-BBBBB-CCCCC-DDDDD-EEEEE\n", 0},
		{"custom pattern", []string{"-p", `[a-z]{4}-[a-z]{4}`}, chatLog, "abcd-efgh\n", 0},
		{"nothing found", nil, "just chatting\n", "", 1},
		{"bad pattern", []string{"--pattern", "("}, chatLog, "", 2},
		{"bad flag", []string{"--nope"}, chatLog, "", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CODE_PATTERN", "")
			var stdout, stderr bytes.Buffer
			code := run(tt.args, strings.NewReader(tt.in), &stdout, &stderr)
			if code != tt.wantCode {
				t.Errorf("run() = %d, want %d (stderr=%q)", code, tt.wantCode, stderr.String())
			}
			if stdout.String() != tt.wantOut {
				t.Errorf("stdout = %q, want %q", stdout.String(), tt.wantOut)
			}
		})
	}
}

func TestRunFiles(t *testing.T) {
	t.Setenv("CODE_PATTERN", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.log")
	if err := os.WriteFile(path, []byte(chatLog), 0o600); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	if code := run([]string{path, filepath.Join(dir, "missing.log")}, strings.NewReader(""), &stdout, &stderr); code != 1 {
		t.Errorf("run() = %d, want 1 for missing file", code)
	}
	if !strings.Contains(stderr.String(), "missing.log") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if !strings.Contains(stdout.String(), "ABCD-EFGH-IJKL-MNOP-QRST") {
		t.Errorf("stdout = %q, want match from first file", stdout.String())
	}
}

type trackedFile struct {
	io.Reader
	name   string
	closed *[]string
}

func (f trackedFile) Close() error {
	*f.closed = append(*f.closed, f.name)
	return nil
}

func TestRunClosesEachFileBeforeOpeningNext(t *testing.T) {
	t.Setenv("CODE_PATTERN", "")
	var opened, closed []string
	orig := openInput
	t.Cleanup(func() { openInput = orig })
	openInput = func(name string) (io.ReadCloser, error) {
		if len(closed) != len(opened) {
			t.Errorf("opening %s while %d file(s) still open", name, len(opened)-len(closed))
		}
		opened = append(opened, name)
		line := fmt.Sprintf("code AAAAA-BBBBB-CCCCC-DDDDD-%05d\n", len(opened))
		return trackedFile{Reader: strings.NewReader(line), name: name, closed: &closed}, nil
	}

	var args []string
	for i := 0; i < 50; i++ {
		args = append(args, fmt.Sprintf("chat-%02d.log", i))
	}
	var stdout, stderr bytes.Buffer
	if code := run(args, strings.NewReader(""), &stdout, &stderr); code != 0 {
		t.Fatalf("run() = %d, want 0 (stderr=%q)", code, stderr.String())
	}
	if len(closed) != len(args) {
		t.Errorf("closed %d files, want %d", len(closed), len(args))
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != len(args) || lines[0] != "AAAAA-BBBBB-CCCCC-DDDDD-00001" || lines[49] != "AAAAA-BBBBB-CCCCC-DDDDD-00050" {
		t.Errorf("stdout lines = %d, first=%q", len(lines), lines[0])
	}
}
