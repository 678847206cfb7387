package model

import "time"

// Box is a pixel-space bounding box, x1,y1,x2,y2.
type Box [4]float32

// Keypoint is a single pose landmark: x, y, confidence.
type Keypoint [3]float32

// Detections holds one model pass's worth of output. All slices are
// parallel and indexed identically; Keypoints is nil unless a pose
// model ran.
type Detections struct {
	Classes   []string
	Scores    []float32
	Boxes     []Box
	Keypoints [][]Keypoint // per-detection list of keypoints, may be nil
	Timestamp time.Time
}

// Len returns the number of detections.
func (d *Detections) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Classes)
}

// Merge appends another Detections' parallel arrays onto this one,
// used by DetectionWorker to concatenate output across configured
// models (spec §4.4 step 2).
func (d *Detections) Merge(other *Detections) {
	if other == nil || other.Len() == 0 {
		return
	}
	d.Classes = append(d.Classes, other.Classes...)
	d.Scores = append(d.Scores, other.Scores...)
	d.Boxes = append(d.Boxes, other.Boxes...)
	if other.Keypoints != nil {
		if d.Keypoints == nil {
			d.Keypoints = make([][]Keypoint, len(d.Classes)-len(other.Classes))
		}
		d.Keypoints = append(d.Keypoints, other.Keypoints...)
	} else if d.Keypoints != nil {
		for range other.Classes {
			d.Keypoints = append(d.Keypoints, nil)
		}
	}
}
