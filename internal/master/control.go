package master

import "fmt"

// FunctionCode identifies the application-layer operation carried by a
// fragment header.
type FunctionCode uint8

// Function codes relevant to the master session. Unsolicited responses
// and confirmations are the two codes the session itself must recognize
// to route fragments correctly; the rest are used to build outbound
// requests via the Task types in task.go.
const (
	FuncConfirm             FunctionCode = 0
	FuncRead                FunctionCode = 1
	FuncWrite               FunctionCode = 2
	FuncSelect              FunctionCode = 3
	FuncOperate             FunctionCode = 4
	FuncDirectOperate       FunctionCode = 5
	FuncDirectOperateNoAck  FunctionCode = 6
	FuncColdRestart         FunctionCode = 13
	FuncWarmRestart         FunctionCode = 14
	FuncEnableUnsolicited   FunctionCode = 20
	FuncDisableUnsolicited  FunctionCode = 21
	FuncResponse            FunctionCode = 129
	FuncUnsolicitedResponse FunctionCode = 130
)

// IsUnsolicited reports whether this function code marks a fragment as an
// unsolicited response.
func (f FunctionCode) IsUnsolicited() bool {
	return f == FuncUnsolicitedResponse
}

// String renders the function code mnemonic, falling back to its numeric
// value for codes not named above.
func (f FunctionCode) String() string {
	switch f {
	case FuncConfirm:
		return "Confirm"
	case FuncRead:
		return "Read"
	case FuncWrite:
		return "Write"
	case FuncSelect:
		return "Select"
	case FuncOperate:
		return "Operate"
	case FuncDirectOperate:
		return "DirectOperate"
	case FuncDirectOperateNoAck:
		return "DirectOperateNoAck"
	case FuncColdRestart:
		return "ColdRestart"
	case FuncWarmRestart:
		return "WarmRestart"
	case FuncEnableUnsolicited:
		return "EnableUnsolicited"
	case FuncDisableUnsolicited:
		return "DisableUnsolicited"
	case FuncResponse:
		return "Response"
	case FuncUnsolicitedResponse:
		return "UnsolicitedResponse"
	default:
		return fmt.Sprintf("FunctionCode(%d)", uint8(f))
	}
}

// Control carries the FIR/FIN/CON bits and sequence number present on
// every fragment header.
type Control struct {
	FIR bool
	FIN bool
	CON bool
	Seq Sequence
}

// IsFirAndFin reports whether this fragment is a complete single-fragment
// response (FIR=1 and FIN=1), the shape required by non-read tasks.
func (c Control) IsFirAndFin() bool {
	return c.FIR && c.FIN
}

// RequestControl builds the Control bits for an outbound request: FIR and
// FIN are always set for requests (they are not fragmented), CON is never
// requested by the master.
func RequestControl(seq Sequence) Control {
	return Control{FIR: true, FIN: true, Seq: seq}
}

// Byte packs the control bits into the wire control octet: FIR, FIN, CON
// in the top three bits, the 4-bit sequence number in the low nibble.
func (c Control) Byte() byte {
	var b byte
	if c.FIR {
		b |= 1 << 7
	}
	if c.FIN {
		b |= 1 << 6
	}
	if c.CON {
		b |= 1 << 5
	}
	b |= c.Seq.Value() & seqMask
	return b
}

// ParseControl unpacks a wire control octet.
func ParseControl(b byte) Control {
	return Control{
		FIR: b&(1<<7) != 0,
		FIN: b&(1<<6) != 0,
		CON: b&(1<<5) != 0,
		Seq: Sequence(b & seqMask),
	}
}

// ResponseHeader is the parsed header of one received fragment.
type ResponseHeader struct {
	Function FunctionCode
	Control  Control
	IIN      IIN
}
