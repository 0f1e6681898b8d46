package master_test

import (
	"testing"

	"github.com/dantte-lp/dnp3master/internal/master"
)

func TestControlByteRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []master.Control{
		{FIR: true, FIN: true, CON: false, Seq: 5},
		{FIR: true, FIN: false, CON: true, Seq: 15},
		{FIR: false, FIN: true, CON: false, Seq: 0},
		{},
	}

	for _, c := range tests {
		b := c.Byte()
		got := master.ParseControl(b)
		if got != c {
			t.Errorf("ParseControl(Byte(%+v)) = %+v, want %+v", c, got, c)
		}
	}
}

func TestRequestControl(t *testing.T) {
	t.Parallel()

	c := master.RequestControl(7)
	if !c.FIR || !c.FIN || c.CON {
		t.Errorf("RequestControl(7) = %+v, want FIR=true FIN=true CON=false", c)
	}
	if c.Seq.Value() != 7 {
		t.Errorf("Seq = %d, want 7", c.Seq.Value())
	}
}

func TestControlIsFirAndFin(t *testing.T) {
	t.Parallel()

	if !(master.Control{FIR: true, FIN: true}).IsFirAndFin() {
		t.Error("IsFirAndFin() = false, want true")
	}
	if (master.Control{FIR: true, FIN: false}).IsFirAndFin() {
		t.Error("IsFirAndFin() = true, want false")
	}
}

func TestFunctionCodeIsUnsolicited(t *testing.T) {
	t.Parallel()

	if !master.FuncUnsolicitedResponse.IsUnsolicited() {
		t.Error("FuncUnsolicitedResponse.IsUnsolicited() = false, want true")
	}
	if master.FuncResponse.IsUnsolicited() {
		t.Error("FuncResponse.IsUnsolicited() = true, want false")
	}
}

func TestFunctionCodeString(t *testing.T) {
	t.Parallel()

	if got := master.FuncRead.String(); got != "Read" {
		t.Errorf("String() = %q, want %q", got, "Read")
	}
	if got := master.FunctionCode(0xFE).String(); got != "FunctionCode(254)" {
		t.Errorf("String() for unknown code = %q, want %q", got, "FunctionCode(254)")
	}
}
