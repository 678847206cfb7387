package model

// EventFrame is everything a fired rule hands off to the
// EventSessionManager: the annotated frame, the rule's label, the
// detection snapshot, and enough agent/camera context to build the
// bus messages (spec §4.4 step 4, §4.6).
type EventFrame struct {
	Frame      *Frame
	Label      string
	Detections *Detections
	Agent      Agent
	Camera     Camera
}
