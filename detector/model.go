package detector

import (
	"gocv.io/x/gocv"

	"edgevision/model"
)

// ModelRunner is a pluggable inference backend. Concrete runners wrap
// whatever ML library or RPC client actually hosts the object/pose
// model; the core only needs one pass over a BGR frame producing a
// Detections payload (spec §4.4 step 2 "the ML model internals" are an
// external collaborator, §1).
type ModelRunner interface {
	// Name identifies this runner for logging and annotation config.
	Name() string
	// Run performs one inference pass over frame and returns detections.
	Run(frame gocv.Mat) (*model.Detections, error)
	// Close releases any resources (model handles, RPC connections).
	Close() error
}

// ModelSet runs every configured model for an agent and concatenates
// their outputs into a single Detections payload (spec §4.4 step 2).
type ModelSet struct {
	runners []ModelRunner
}

// NewModelSet wraps one or more ModelRunners.
func NewModelSet(runners ...ModelRunner) *ModelSet {
	return &ModelSet{runners: runners}
}

// Run executes every runner in order and merges their outputs.
func (m *ModelSet) Run(frame gocv.Mat) (*model.Detections, error) {
	out := &model.Detections{}
	var firstErr error
	for _, r := range m.runners {
		det, err := r.Run(frame)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue // spec §4.4 "Model errors are logged and the frame is skipped"
		}
		out.Merge(det)
	}
	return out, firstErr
}

// Close closes every runner, returning the first error encountered.
func (m *ModelSet) Close() error {
	var firstErr error
	for _, r := range m.runners {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
