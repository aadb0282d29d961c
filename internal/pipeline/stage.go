package pipeline

// Stage is a step of one narration run.
type Stage string

const (
	StageChunking     Stage = "chunking"
	StageSynthesizing Stage = "synthesizing"
	StageAssembling   Stage = "assembling"
	StageDelivering   Stage = "delivering"
	StageCleaningUp   Stage = "cleaning_up"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

var transitions = map[Stage][]Stage{
	StageChunking:     {StageSynthesizing},
	StageSynthesizing: {StageAssembling},
	StageAssembling:   {StageDelivering, StageCleaningUp},
	StageDelivering:   {StageCleaningUp},
	StageCleaningUp:   {StageDone},
}

func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// CanTransition reports whether a run may move from s to next. Failed is
// reachable from every non-terminal stage.
func (s Stage) CanTransition(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
