package env

import (
	"slices"
	"strings"
	"testing"
)

func TestMergeLayering(t *testing.T) {
	e := New()
	e.base = Var{"HOME": "/home/op", "PATCH_ROOT": "/srv"}
	e.Set("PATCH_ROOT", "/srv/autopatch")
	e.Set("REPORTS", "${PATCH_ROOT}/reports")

	out := e.Merge([]string{"RUN_TRIGGER=schedule"})
	if !slices.Contains(out, "PATCH_ROOT=/srv/autopatch") {
		t.Fatalf("configured override missing: %v", out)
	}
	if !slices.Contains(out, "REPORTS=/srv/autopatch/reports") {
		t.Fatalf("expansion not applied: %v", out)
	}
	if !slices.Contains(out, "RUN_TRIGGER=schedule") {
		t.Fatalf("per-run entry missing: %v", out)
	}
	if !slices.Contains(out, "HOME=/home/op") {
		t.Fatalf("base entry missing: %v", out)
	}
}

func TestMergePerRunWins(t *testing.T) {
	e := New()
	e.base = Var{}
	e.Set("ENGINE_ENV", "qa")
	out := e.Merge([]string{"ENGINE_ENV=prod", "=broken"})
	if !slices.Contains(out, "ENGINE_ENV=prod") {
		t.Fatalf("per-run override lost: %v", out)
	}
	for _, kv := range out {
		if strings.HasPrefix(kv, "=") {
			t.Fatalf("malformed entry survived: %q", kv)
		}
	}
}

func TestUnset(t *testing.T) {
	e := New()
	e.base = Var{}
	e.Set("A", "1")
	e.Unset("A")
	if out := e.Merge(nil); len(out) != 0 {
		t.Fatalf("expected empty environment, got %v", out)
	}
}
