package domain

import "fmt"

// GenerationMode is the coarse state of a generation session.
type GenerationMode int

const (
	GenerationIdle GenerationMode = iota
	GenerationStreamingNew
	GenerationStreamingRegenerate
)

func (m GenerationMode) String() string {
	switch m {
	case GenerationIdle:
		return "idle"
	case GenerationStreamingNew:
		return "streaming"
	case GenerationStreamingRegenerate:
		return "regenerating"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// GenerationState is Idle, StreamingNew, or StreamingRegenerate(TargetIndex).
// TargetIndex is meaningful only in StreamingRegenerate.
type GenerationState struct {
	Mode        GenerationMode `json:"mode"`
	TargetIndex int            `json:"target_index"`
}

// Idle returns the idle state.
func Idle() GenerationState { return GenerationState{Mode: GenerationIdle, TargetIndex: -1} }

// StreamingNew returns the state of a fresh response being streamed.
func StreamingNew() GenerationState {
	return GenerationState{Mode: GenerationStreamingNew, TargetIndex: -1}
}

// StreamingRegenerate returns the state of message index being regenerated.
func StreamingRegenerate(index int) GenerationState {
	return GenerationState{Mode: GenerationStreamingRegenerate, TargetIndex: index}
}

// IsIdle reports whether user input should be accepted.
func (s GenerationState) IsIdle() bool { return s.Mode == GenerationIdle }

// IsStreaming reports whether a stream is in flight.
func (s GenerationState) IsStreaming() bool { return !s.IsIdle() }

func (s GenerationState) String() string {
	if s.Mode == GenerationStreamingRegenerate {
		return fmt.Sprintf("%s(%d)", s.Mode, s.TargetIndex)
	}
	return s.Mode.String()
}
