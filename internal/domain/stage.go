package domain

import "strconv"

// Stage selects which conversational framing the model receives.
type Stage int

const (
	// StageOverview asks for a general read on the semester.
	StageOverview Stage = 1
	// StageTargetPrediction asks what it takes to reach a target.
	StageTargetPrediction Stage = 2
	// StageStudyPlan asks for a concrete study plan.
	StageStudyPlan Stage = 3
)

// DefaultStage is used when a request omits the stage.
const DefaultStage = StageOverview

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s >= StageOverview && s <= StageStudyPlan
}

func (s Stage) String() string {
	switch s {
	case StageOverview:
		return "overview"
	case StageTargetPrediction:
		return "target_prediction"
	case StageStudyPlan:
		return "study_plan"
	default:
		return "stage(" + strconv.Itoa(int(s)) + ")"
	}
}
