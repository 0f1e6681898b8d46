package master_test

import (
	"bytes"
	"testing"

	"github.com/dantte-lp/dnp3master/internal/master"
)

func TestEventClassesNone(t *testing.T) {
	t.Parallel()

	if !(master.EventClasses{}).None() {
		t.Error("None() = false for zero-value EventClasses, want true")
	}
	if (master.EventClasses{Class2: true}).None() {
		t.Error("None() = true with Class2 set, want false")
	}
}

func TestIntegrityClasses(t *testing.T) {
	t.Parallel()

	c := master.IntegrityClasses()
	if !c.Class0 || !c.Events.Class1 || !c.Events.Class2 || !c.Events.Class3 {
		t.Errorf("IntegrityClasses() = %+v, want all classes selected", c)
	}
}

func TestRangeScanValidate(t *testing.T) {
	t.Parallel()

	if err := (master.RangeScan{Start: 0, Stop: 10}).Validate(); err != nil {
		t.Errorf("Validate() error for well-formed range: %v", err)
	}
	if err := (master.RangeScan{Start: 11, Stop: 10}).Validate(); err == nil {
		t.Error("Validate() = nil for start > stop, want error")
	}
}

func TestReadRequestValidateClassScan(t *testing.T) {
	t.Parallel()

	if err := master.NewClassScanRequest(master.IntegrityClasses()).Validate(); err != nil {
		t.Errorf("Validate() error for integrity scan: %v", err)
	}

	empty := master.NewClassScanRequest(master.Classes{})
	if err := empty.Validate(); err == nil {
		t.Error("Validate() = nil for a class scan selecting nothing, want error")
	}
}

func TestReadRequestValidateRange(t *testing.T) {
	t.Parallel()

	req := master.NewRangeRequest(master.RangeScan{Start: 0, Stop: 5})
	if err := req.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}

	bad := master.NewRangeRequest(master.RangeScan{Start: 5, Stop: 0})
	if err := bad.Validate(); err == nil {
		t.Error("Validate() = nil for inverted range, want error")
	}
}

func TestReadRequestEncodeClassScan(t *testing.T) {
	t.Parallel()

	got, err := master.NewClassScanRequest(master.IntegrityClasses()).Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	want := []byte{
		60, 2, 0x06, // Group60Var2 (class 1), all objects
		60, 3, 0x06, // Group60Var3 (class 2), all objects
		60, 4, 0x06, // Group60Var4 (class 3), all objects
		60, 1, 0x06, // Group60Var1 (class 0), all objects
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = % x, want % x", got, want)
	}
}

func TestReadRequestEncodeRangeOneByte(t *testing.T) {
	t.Parallel()

	got, err := master.NewRangeRequest(master.RangeScan{Group: 1, Variation: 2, Start: 0, Stop: 10}).Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	want := []byte{1, 2, 0x00, 0, 10}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = % x, want % x", got, want)
	}
}

func TestReadRequestEncodeRangeTwoByte(t *testing.T) {
	t.Parallel()

	got, err := master.NewRangeRequest(master.RangeScan{Group: 30, Variation: 1, Start: 0, Stop: 300}).Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	want := []byte{30, 1, 0x01, 0x00, 0x00, 0x01, 0x2c}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = % x, want % x", got, want)
	}
}

func TestReadRequestEncodeRaw(t *testing.T) {
	t.Parallel()

	payload := []byte{0x01, 0x02, 0x03}
	got, err := master.NewRawRequest(payload).Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Encode() = % x, want % x", got, payload)
	}
}

func TestReadRequestEncodeInvalid(t *testing.T) {
	t.Parallel()

	if _, err := master.NewClassScanRequest(master.Classes{}).Encode(); err == nil {
		t.Error("Encode() = nil error for a class scan selecting nothing, want error")
	}
}

func TestReadRequestValidateRaw(t *testing.T) {
	t.Parallel()

	if err := master.NewRawRequest([]byte{0x01}).Validate(); err != nil {
		t.Errorf("Validate() error for non-empty raw payload: %v", err)
	}
	if err := master.NewRawRequest(nil).Validate(); err == nil {
		t.Error("Validate() = nil for empty raw payload, want error")
	}
}
