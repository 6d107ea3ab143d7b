package ctxbuild

import (
	"fmt"

	"github.com/kadirpekel/resagent/pkg/pipeline"
)

// MinOutputFloor is the smallest output-token allowance a stage can run
// with; headroom below this is treated as an unrecoverable overflow.
const MinOutputFloor = 512

// ContextBudgetManager computes the max output tokens available for one
// LLM call given a fixed context window.
type ContextBudgetManager struct {
	ContextWindow  int
	MinOutputFloor int
}

// NewContextBudgetManager builds a manager for the given window, using
// MinOutputFloor unless overridden.
func NewContextBudgetManager(contextWindow int) ContextBudgetManager {
	return ContextBudgetManager{ContextWindow: contextWindow, MinOutputFloor: MinOutputFloor}
}

// CalculateMaxTokens returns min(desiredOutput, contextWindow-estimatedInput),
// or a wrapped pipeline.ErrContextOverflow if the remaining headroom falls
// below the minimum-output floor.
func (m ContextBudgetManager) CalculateMaxTokens(estimatedInput, desiredOutput int) (int, error) {
	floor := m.MinOutputFloor
	if floor == 0 {
		floor = MinOutputFloor
	}

	headroom := m.ContextWindow - estimatedInput
	if headroom < floor {
		return 0, fmt.Errorf(
			"%w: input ~%d tokens leaves %d headroom in a %d window, below the %d floor",
			pipeline.ErrContextOverflow, estimatedInput, headroom, m.ContextWindow, floor,
		)
	}

	if desiredOutput < headroom {
		return desiredOutput, nil
	}
	return headroom, nil
}
