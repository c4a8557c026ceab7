package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestVersionCmd_PrintsInfo(t *testing.T) {
	cmd := versionCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Cloudauth version:") || !strings.Contains(out, "Go version:") || !strings.Contains(out, "Platform:") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestVersionCmd_SkipsSetupUnderRoot(t *testing.T) {
	root := createRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"--config", "/nonexistent/dir/config.yaml", "version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version should not need config or database: %v", err)
	}
	if !strings.Contains(buf.String(), "Cloudauth version:") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestVersionCmd_JSON(t *testing.T) {
	cmd := versionCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var info versionInfo
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if info.Version != version || info.Platform != platform {
		t.Fatalf("unexpected version info: %+v", info)
	}
}
