package sweepcfg

import (
	"errors"
	"testing"
)

func TestResolveFixed(t *testing.T) {
	vals, err := Fixed(256).Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(vals) != 1 || vals[0] != 256 {
		t.Fatalf("expected [256], got %v", vals)
	}
}

func TestResolveListPreservesOrder(t *testing.T) {
	vals, err := List(512, 128, 2048).Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []int{512, 128, 2048}
	if len(vals) != len(want) {
		t.Fatalf("expected %v, got %v", want, vals)
	}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, vals)
		}
	}
}

func TestResolveListDedupes(t *testing.T) {
	vals, err := List(128, 128, 512, 128).Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(vals) != 2 || vals[0] != 128 || vals[1] != 512 {
		t.Fatalf("expected [128 512], got %v", vals)
	}
}

func TestResolveRange(t *testing.T) {
	vals, err := Range(128, 512, 128).Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(vals) != 4 {
		t.Fatalf("expected 4 values, got %v", vals)
	}
	if vals[0] != 128 {
		t.Fatalf("range must start at min, got %v", vals)
	}
	for i := 1; i < len(vals); i++ {
		if vals[i] <= vals[i-1] {
			t.Fatalf("range must be strictly increasing, got %v", vals)
		}
		if vals[i] > 512 {
			t.Fatalf("range must not exceed max, got %v", vals)
		}
	}
}

func TestResolveRangeMaxNotOnStep(t *testing.T) {
	vals, err := Range(100, 250, 100).Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(vals) != 2 || vals[0] != 100 || vals[1] != 200 {
		t.Fatalf("expected [100 200], got %v", vals)
	}
}

func TestResolveMalformed(t *testing.T) {
	bad := []LengthSpec{
		Range(128, 512, 0),
		Range(128, 512, -64),
		Range(512, 128, 64),
		List(),
		List(128, -1),
		Fixed(0),
		{Type: "exponential"},
		{},
	}
	for _, spec := range bad {
		_, err := spec.Resolve()
		if err == nil {
			t.Fatalf("expected error for %+v", spec)
		}
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("expected ConfigError for %+v, got %T", spec, err)
		}
	}
}

func TestResolveLengthsNamesField(t *testing.T) {
	_, err := ResolveLengths("sweep.input_lengths", Range(512, 128, 64))
	if err == nil {
		t.Fatal("expected error")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
	if ce.Field != "sweep.input_lengths" {
		t.Fatalf("expected field name on error, got %q", ce.Field)
	}
}
