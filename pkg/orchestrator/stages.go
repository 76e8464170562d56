package orchestrator

// Stage is one state of the job state machine. Transitions only happen
// through the orchestrator; the store persists the stage as an opaque string.
type Stage string

const (
	// StageIngesting reads and parses the source sheet.
	StageIngesting Stage = "ingesting"

	// StageAnalyzing profiles the source columns and derives the structural
	// signature.
	StageAnalyzing Stage = "analyzing"

	// StagePlanning produces a transformation plan, either replayed from the
	// plan library or proposed by a planner.
	StagePlanning Stage = "planning"

	// StageValidatingPlan statically checks the plan before any cell is
	// touched.
	StageValidatingPlan Stage = "validating_plan"

	// StageExecuting interprets the plan over the dataset.
	StageExecuting Stage = "executing"

	// StageValidatingOutput assesses the transformed dataset against the
	// target schema.
	StageValidatingOutput Stage = "validating_output"

	// StageCompleted is the successful terminal stage.
	StageCompleted Stage = "completed"

	// StageAwaitingHuman suspends the job until an operator answers the
	// pending question. Not terminal: Resume moves the job back to planning.
	StageAwaitingHuman Stage = "awaiting_human"

	// StageFailedPermanently is the unsuccessful terminal stage.
	StageFailedPermanently Stage = "failed_permanently"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageIngesting, StageAnalyzing, StagePlanning, StageValidatingPlan,
		StageExecuting, StageValidatingOutput, StageCompleted,
		StageAwaitingHuman, StageFailedPermanently:
		return true
	}
	return false
}

// IsTerminal reports whether the job can never leave this stage.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailedPermanently
}
