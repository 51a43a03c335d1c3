package types

// Stage is how far a run progressed. The pipeline states Built through
// Confirmed follow the ones reached while resolving and compiling.
type Stage byte

const (
	StageResolve Stage = iota
	StageAttest
	StageAggregate
	StageCompile
	StageBuilt
	StageSigned
	StageSimulated
	StageRejected
	StageSubmitted
	StageConfirmed
)

var stageNames = [...]string{
	StageResolve:   "resolve",
	StageAttest:    "attest",
	StageAggregate: "aggregate",
	StageCompile:   "compile",
	StageBuilt:     "built",
	StageSigned:    "signed",
	StageSimulated: "simulated",
	StageRejected:  "rejected",
	StageSubmitted: "submitted",
	StageConfirmed: "confirmed",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}
