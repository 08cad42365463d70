package workflow

import (
	"fmt"

	"github.com/joelklabo/shep/internal/domain"
)

func phasePrompt(p domain.Phase, feature string) string {
	switch p {
	case domain.PhaseRequirements:
		return fmt.Sprintf("Write a short product requirements document for the feature below. "+
			"List goals, non-goals and acceptance criteria. Do not modify any files yet.\n\nFeature:\n%s", feature)
	case domain.PhasePlan:
		return "Using the requirements you wrote, produce a step-by-step implementation plan " +
			"naming the files to change and the tests to add. Do not modify any files yet."
	case domain.PhaseImplement:
		return "Implement the plan. Keep changes focused, run the test suite, and commit the result " +
			"on a new branch with a descriptive message."
	default:
		return feature
	}
}
