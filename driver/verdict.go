package driver

// Verdict classifies a finished run.
type Verdict string

// Verdicts. VerdictNone marks an aborted run, which has no verdict.
const (
	VerdictNone          Verdict = ""
	VerdictPass          Verdict = "PASS"
	VerdictFail          Verdict = "FAIL"
	VerdictIndeterminate Verdict = "INDETERMINATE"
)

// Registers inspected after a run: a diagnostic register and two flags.
const (
	RegDiagnostic = 3
	RegDone       = 26
	RegPass       = 27
)

// Registers is the register snapshot taken when a run completes.
type Registers struct {
	X3  uint64 `json:"x3"`
	X26 uint64 `json:"x26"`
	X27 uint64 `json:"x27"`
}

// Judge maps the two flag registers to a verdict: (1,1) is PASS, (1,0) is
// FAIL and anything else is INDETERMINATE.
func Judge(done, pass uint64) Verdict {
	switch {
	case done == 1 && pass == 1:
		return VerdictPass
	case done == 1 && pass == 0:
		return VerdictFail
	default:
		return VerdictIndeterminate
	}
}

// Verdict applies Judge to the snapshot.
func (r Registers) Verdict() Verdict {
	return Judge(r.X26, r.X27)
}
