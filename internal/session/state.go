package session

import "github.com/lgulliver/cliniprompt/pkg/types"

// legalEdges is the complete workflow state machine. Anything absent is illegal.
var legalEdges = map[types.WorkflowState][]types.WorkflowState{
	types.StateInitial:       {types.StateAudioUploaded, types.StateError},
	types.StateAudioUploaded: {types.StateContentAdded, types.StateProcessing, types.StateError},
	types.StateContentAdded:  {types.StateProcessing, types.StateError},
	types.StateProcessing:    {types.StateCompleted, types.StateError},
	types.StateCompleted:     {types.StateInitial, types.StateError},
	types.StateError:         {types.StateProcessing, types.StateInitial},
}

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to types.WorkflowState) bool {
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the states reachable from s in one step
func NextStates(s types.WorkflowState) []types.WorkflowState {
	return append([]types.WorkflowState(nil), legalEdges[s]...)
}
