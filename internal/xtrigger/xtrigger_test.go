package xtrigger

import (
	"testing"
	"time"

	"github.com/me/cyflow/pkg/cycling"
)

func TestRegistry_CheckAndLatch(t *testing.T) {
	clock := time.Date(2020, 1, 1, 6, 0, 0, 0, time.UTC)
	r := NewRegistry(map[string]string{
		"after_epoch": "now >= 1577858400", // 2020-01-01T06:00Z
	})
	r.SetClock(func() time.Time { return clock })

	p := cycling.NewIntegerPoint(1)
	ok, err := r.Check("after_epoch", p)
	if err != nil || !ok {
		t.Fatalf("Check = %v, %v; want true", ok, err)
	}

	// Latched: stays true even when the expression would now be false.
	clock = time.Unix(0, 0)
	ok, err = r.Check("after_epoch", p)
	if err != nil || !ok {
		t.Errorf("latched Check = %v, %v; want true", ok, err)
	}

	// A different point re-evaluates.
	ok, err = r.Check("after_epoch", cycling.NewIntegerPoint(2))
	if err != nil || ok {
		t.Errorf("other point Check = %v, %v; want false", ok, err)
	}
}

func TestRegistry_PointGlobal(t *testing.T) {
	r := NewRegistry(map[string]string{
		"at_three": `point === "3"`,
	})

	if ok, _ := r.Check("at_three", cycling.NewIntegerPoint(3)); !ok {
		t.Error("point 3: want true")
	}
	if ok, _ := r.Check("at_three", cycling.NewIntegerPoint(4)); ok {
		t.Error("point 4: want false")
	}
}

func TestRegistry_UndeclaredAndBroken(t *testing.T) {
	r := NewRegistry(map[string]string{"bad": "this is not js"})

	if _, err := r.Check("missing", cycling.NewIntegerPoint(1)); err == nil {
		t.Error("undeclared xtrigger: want error")
	}
	if _, err := r.Check("bad", cycling.NewIntegerPoint(1)); err == nil {
		t.Error("broken expression: want error")
	}
}

func TestRegistry_ForceAndRestore(t *testing.T) {
	r := NewRegistry(map[string]string{"never": "false"})
	p := cycling.NewIntegerPoint(7)

	r.Force("never", p)
	if ok, _ := r.Check("never", p); !ok {
		t.Error("forced xtrigger not satisfied")
	}

	r2 := NewRegistry(map[string]string{"never": "false"})
	r2.Restore(r.Satisfied())
	if ok, _ := r2.Check("never", p); !ok {
		t.Error("restored xtrigger not satisfied")
	}
}

func TestRegistry_ReloadKeepsLatches(t *testing.T) {
	r := NewRegistry(map[string]string{"gate": "false", "old": "true"})
	p := cycling.NewIntegerPoint(1)
	r.Force("gate", p)

	r.Reload(map[string]string{"gate": "true"})
	if r.Declared("old") {
		t.Error("dropped declaration survived reload")
	}
	if ok, _ := r.Check("gate", p); !ok {
		t.Error("latched satisfaction lost on reload")
	}
}
