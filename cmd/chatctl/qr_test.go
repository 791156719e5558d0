package main

import (
	"strings"
	"testing"
)

func TestRenderQRHalvesRows(t *testing.T) {
	out, err := renderQR("eyJhbGciOiJIUzI1NiJ9.e30.sig")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 10 {
		t.Fatalf("got %d lines, want a full symbol", len(lines))
	}
	width := len([]rune(lines[0]))
	for i, l := range lines {
		if n := len([]rune(l)); n != width {
			t.Errorf("line %d has %d runes, want %d", i, n, width)
		}
	}
	if !strings.ContainsRune(out, '█') {
		t.Error("no dark modules rendered")
	}
}
