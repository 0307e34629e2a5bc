package suspicion

import (
	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

// FrameAnalyzer classifies a single monitoring frame. The aggregator only
// depends on this interface, so a real vision model can replace the shipped
// heuristic without touching window logic.
type FrameAnalyzer interface {
	Analyze(frame []byte) types.AnalysisOutcome
}

// Frame-size thresholds for the heuristic stand-in. A webcam frame with a
// visible face lands comfortably between them at typical JPEG quality.
const (
	heuristicNoFaceMaxBytes    = 4 * 1024
	heuristicMultiFaceMinBytes = 256 * 1024
)

// HeuristicAnalyzer is the stand-in analyzer: it infers flags from frame
// size alone. Tiny frames read as an empty scene, oversized frames as extra
// detail in view, and a large delta from the previous frame as movement.
type HeuristicAnalyzer struct {
	lastSize int
}

// NewHeuristicAnalyzer creates the frame-size heuristic analyzer.
func NewHeuristicAnalyzer() *HeuristicAnalyzer {
	return &HeuristicAnalyzer{}
}

// Analyze classifies one frame. Not safe for concurrent use; each connection
// owns its analyzer instance.
func (a *HeuristicAnalyzer) Analyze(frame []byte) types.AnalysisOutcome {
	size := len(frame)
	out := types.AnalysisOutcome{Confidence: 0.5}

	switch {
	case size <= heuristicNoFaceMaxBytes:
		out.HasNoFace = true
		out.Confidence = 0.7
	case size >= heuristicMultiFaceMinBytes:
		out.HasMultipleFaces = true
		out.Confidence = 0.6
	}

	// Movement proxy: consecutive frames of a still scene compress to
	// near-identical sizes.
	if a.lastSize > 0 {
		delta := size - a.lastSize
		if delta < 0 {
			delta = -delta
		}
		if delta > a.lastSize/2 {
			out.HasUnusualMovement = true
		}
	}
	a.lastSize = size

	return out
}
