package engine

import (
	"github.com/browsergrid/flowkit/pkg/flow"
)

// frameKind discriminates execution stack frames.
type frameKind int

const (
	frameIf frameKind = iota
	frameFor
	frameForeach
	frameTry
)

func (k frameKind) String() string {
	switch k {
	case frameIf:
		return "IF"
	case frameFor:
		return "FOR"
	case frameForeach:
		return "FOREACH"
	case frameTry:
		return "TRY"
	default:
		return "unknown"
	}
}

// frame is one open control-flow block. Only the fields of the active kind
// are meaningful.
type frame struct {
	kind      frameKind
	openIndex int // index of the opening step

	// if
	conditionResult bool
	inElse          bool

	// for
	loopVar  string
	current  float64
	end      float64
	step     float64
	integral bool // bind the loop variable as an integer

	// foreach
	itemVar  string
	indexVar string
	items    []interface{} // snapshot taken when the loop opened
	keys     []string      // map keys in iteration order, empty for lists
	index    int

	// try
	catchIndex   int
	finallyIndex int
	endIndex     int
	pending      error
	caught       bool
	finallyDone  bool
}

// scanIf finds the first top-level ELSE and the matching END_IF for the IF at
// openIndex. Either index is -1 when absent.
func scanIf(steps []flow.Step, openIndex int) (elseIndex, endIndex int) {
	elseIndex, endIndex = -1, -1
	nesting := 1
	for i := openIndex + 1; i < len(steps); i++ {
		switch steps[i].ActionID {
		case flow.ActionIf:
			nesting++
		case flow.ActionElse:
			if nesting == 1 && elseIndex == -1 {
				elseIndex = i
			}
		case flow.ActionEndIf:
			nesting--
			if nesting == 0 {
				endIndex = i
				return
			}
		}
	}
	return
}

// scanTry finds the first top-level CATCH, the first top-level FINALLY, and
// the matching END_TRY for the TRY at openIndex.
func scanTry(steps []flow.Step, openIndex int) (catchIndex, finallyIndex, endIndex int) {
	catchIndex, finallyIndex, endIndex = -1, -1, -1
	nesting := 1
	for i := openIndex + 1; i < len(steps); i++ {
		switch steps[i].ActionID {
		case flow.ActionTry:
			nesting++
		case flow.ActionCatch:
			if nesting == 1 && catchIndex == -1 {
				catchIndex = i
			}
		case flow.ActionFinally:
			if nesting == 1 && finallyIndex == -1 {
				finallyIndex = i
			}
		case flow.ActionEndTry:
			nesting--
			if nesting == 0 {
				endIndex = i
				return
			}
		}
	}
	return
}

// findMatching returns the index of the terminator matching the opener at
// openIndex, or -1 when the flow runs out of steps first.
func findMatching(steps []flow.Step, openIndex int, open, terminator flow.ActionID) int {
	nesting := 1
	for i := openIndex + 1; i < len(steps); i++ {
		switch steps[i].ActionID {
		case open:
			nesting++
		case terminator:
			nesting--
			if nesting == 0 {
				return i
			}
		}
	}
	return -1
}
