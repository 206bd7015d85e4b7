package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/k2io/hooksync/internal/host/sim"
	"github.com/k2io/hooksync/internal/layout"
)

func TestPlayCommands(t *testing.T) {
	h, err := sim.New(layout.Default(), nil)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	for _, line := range []string{"", "load 1", "secondary 5 7 42", "spawn 1 2 0x10", "end", "show"} {
		if quit, err := play(&out, h, line); err != nil || quit {
			t.Fatalf("%q: quit=%v err=%v", line, quit, err)
		}
	}
	if got := len(h.Actors()); got != 2 {
		t.Errorf("%d actors", got)
	}
	if !strings.Contains(out.String(), "secondary actor 42 at (5, 7)") {
		t.Errorf("show printed:\n%s", out.String())
	}
	if _, err := play(&out, h, "primary 1 2"); err == nil {
		t.Error("short actor command accepted")
	}
	if _, err := play(&out, h, "jump"); err == nil {
		t.Error("unknown command accepted")
	}
	if quit, _ := play(&out, h, "quit"); !quit {
		t.Error("quit did not quit")
	}
}
