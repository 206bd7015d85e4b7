package layout

import (
	"errors"
	"testing"
)

func TestApply(t *testing.T) {
	l := Default()
	err := l.Apply(map[string]uint64{"EndLevel": 0x00413500, "Gate": 0x1000})
	if err != nil {
		t.Fatal(err)
	}
	if l.EndLevel != 0x00413500 || l.Gate != 0x1000 {
		t.Errorf("EndLevel %#x, Gate %#x", l.EndLevel, l.Gate)
	}
	if l.LoadLevel != Default().LoadLevel {
		t.Error("unrelated field changed")
	}
	if err := l.Apply(map[string]uint64{"endlevel": 1}); !errors.Is(err, ErrUnknownField) {
		t.Errorf("got %v, want ErrUnknownField", err)
	}
}

func TestApplySymbols(t *testing.T) {
	l := Default()
	names := l.ApplySymbols(map[string]uintptr{
		"CreatePrimaryActor": 0x0040D200,
		"main.main":          0x1234,
	})
	if len(names) != 1 || names[0] != "CreatePrimaryActor" {
		t.Errorf("set %v", names)
	}
	if l.CreatePrimaryActor != 0x0040D200 {
		t.Errorf("CreatePrimaryActor %#x", l.CreatePrimaryActor)
	}
}
