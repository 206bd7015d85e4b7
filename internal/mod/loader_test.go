package mod

import (
	"errors"
	"fmt"
	"testing"
)

type recorder struct {
	name  string
	fail  bool
	trace *[]string
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Enable() error {
	*r.trace = append(*r.trace, "enable "+r.name)
	if r.fail {
		return errors.New("protection change refused")
	}
	return nil
}

func (r *recorder) Disable() error {
	*r.trace = append(*r.trace, "disable "+r.name)
	return nil
}

func TestLoadEnablesInOrder(t *testing.T) {
	var trace, enabled []string
	l := NewLoader(nil).OnEnable(func(name string) { enabled = append(enabled, name) })
	const n = 5
	for i := 0; i < n; i++ {
		if err := l.Register(&recorder{name: fmt.Sprintf("mod-%d", i), trace: &trace}); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if len(trace) != n || len(enabled) != n {
		t.Fatalf("trace %v, enabled %v", trace, enabled)
	}
	for i, got := range trace {
		if want := fmt.Sprintf("enable mod-%d", i); got != want {
			t.Errorf("step %d: %s, want %s", i, got, want)
		}
	}
}

func TestRegisterRejects(t *testing.T) {
	var trace []string
	l := NewLoader(nil)
	if err := l.Register(nil); !errors.Is(err, ErrNilMod) {
		t.Errorf("nil: got %v", err)
	}
	if err := l.Register(&recorder{name: "Hook-Level-End", trace: &trace}); err != nil {
		t.Fatal(err)
	}
	if err := l.Register(&recorder{name: "Hook-Level-End", trace: &trace}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate: got %v", err)
	}
	// names compare case sensitively
	if err := l.Register(&recorder{name: "hook-level-end", trace: &trace}); err != nil {
		t.Errorf("different case: %v", err)
	}
	if got := len(l.Mods()); got != 2 {
		t.Errorf("%d mods registered", got)
	}
}

func TestAddChainKeepsFirstError(t *testing.T) {
	var trace []string
	l := NewLoader(nil).
		Add(&recorder{name: "a", trace: &trace}).
		Add(&recorder{name: "a", trace: &trace}).
		Add(&recorder{name: "b", trace: &trace})
	if !errors.Is(l.Err(), ErrDuplicate) {
		t.Fatalf("Err() = %v", l.Err())
	}
	if err := l.Load(); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Load() = %v", err)
	}
	if len(trace) != 0 {
		t.Errorf("mods enabled despite registration failure: %v", trace)
	}
}

func TestLoadStopsAtFailure(t *testing.T) {
	var trace []string
	l := NewLoader(nil).
		Add(&recorder{name: "a", trace: &trace}).
		Add(&recorder{name: "b", fail: true, trace: &trace}).
		Add(&recorder{name: "c", trace: &trace})
	err := l.Load()
	if err == nil {
		t.Fatal("expected an error")
	}
	want := []string{"enable a", "enable b"}
	if fmt.Sprint(trace) != fmt.Sprint(want) {
		t.Errorf("trace %v, want %v", trace, want)
	}

	trace = trace[:0]
	if err := l.Disable(); err != nil {
		t.Fatal(err)
	}
	want = []string{"disable c", "disable b", "disable a"}
	if fmt.Sprint(trace) != fmt.Sprint(want) {
		t.Errorf("trace %v, want %v", trace, want)
	}
}
