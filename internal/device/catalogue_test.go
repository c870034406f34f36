package device

import "testing"

func TestNewCatalogueAppendsFallbackLast(t *testing.T) {
	fb := NewCPUFallback()
	acc := NewAccelerator("accel-0", "1.0")
	dsp := NewDSP("dsp-0", "1.0")

	cat, err := NewCatalogue(fb, acc, dsp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	devices := cat.Devices()
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(devices))
	}
	if devices[len(devices)-1].Name() != fb.Name() {
		t.Fatalf("fallback device must be last, got %q", devices[len(devices)-1].Name())
	}
	if devices[0].Name() != acc.Name() || devices[1].Name() != dsp.Name() {
		t.Fatalf("unexpected device order: %v", devices)
	}
}

func TestNewCatalogueRejectsNilFallback(t *testing.T) {
	if _, err := NewCatalogue(nil); err == nil {
		t.Fatal("expected error for nil fallback device")
	}
}

func TestNewCatalogueRejectsDuplicateNames(t *testing.T) {
	fb := NewCPUFallback()
	a1 := NewAccelerator("dup", "1.0")
	a2 := NewAccelerator("dup", "2.0")
	if _, err := NewCatalogue(fb, a1, a2); err == nil {
		t.Fatal("expected error for duplicate device names")
	}
}

func TestCatalogueLookup(t *testing.T) {
	fb := NewCPUFallback()
	acc := NewAccelerator("accel-0", "1.0")
	cat, err := NewCatalogue(fb, acc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cat.Lookup("accel-0"); err != nil {
		t.Fatalf("expected to find accel-0: %v", err)
	}
	if _, err := cat.Lookup("missing"); err == nil {
		t.Fatal("expected error for missing device")
	}
	if cat.Fallback().Name() != fb.Name() {
		t.Fatalf("Fallback() returned wrong device")
	}
}
