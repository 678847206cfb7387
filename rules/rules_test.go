package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgevision/model"
)

func detWith(classes ...string) *model.Detections {
	det := &model.Detections{Timestamp: time.Now()}
	for _, c := range classes {
		det.Classes = append(det.Classes, c)
		det.Scores = append(det.Scores, 0.9)
		det.Boxes = append(det.Boxes, model.Box{0, 0, 10, 10})
	}
	return det
}

func TestClassPresenceHandler(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		rule      model.Rule
		det       *model.Detections
		wantFired bool
	}{
		{
			name:      "any match, no duration, fires immediately",
			rule:      model.Rule{Type: model.RuleClassPresence, Match: model.MatchAny, Classes: []string{"person", "dog"}},
			det:       detWith("dog"),
			wantFired: true,
		},
		{
			name:      "any match, none present",
			rule:      model.Rule{Type: model.RuleClassPresence, Match: model.MatchAny, Classes: []string{"person"}},
			det:       detWith("dog"),
			wantFired: false,
		},
		{
			name:      "all match requires every class",
			rule:      model.Rule{Type: model.RuleClassPresence, Match: model.MatchAll, Classes: []string{"person", "dog"}},
			det:       detWith("person"),
			wantFired: false,
		},
		{
			name:      "all match satisfied",
			rule:      model.Rule{Type: model.RuleClassPresence, Match: model.MatchAll, Classes: []string{"person", "dog"}},
			det:       detWith("person", "dog"),
			wantFired: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, _ := classPresenceHandler(tc.rule, tc.det, nil, t0)
			if tc.wantFired {
				require.NotNil(t, result)
			} else {
				assert.Nil(t, result)
			}
		})
	}
}

func TestClassPresenceHandler_DurationGating(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := model.Rule{Type: model.RuleClassPresence, Match: model.MatchAny, Classes: []string{"person"}, DurationS: 5}
	det := detWith("person")

	result, state := classPresenceHandler(rule, det, nil, t0)
	assert.Nil(t, result, "first match within the window must not fire yet")

	result, state = classPresenceHandler(rule, det, state, t0.Add(3*time.Second))
	assert.Nil(t, result, "3s elapsed, still short of duration_s=5")

	result, state = classPresenceHandler(rule, det, state, t0.Add(6*time.Second))
	require.NotNil(t, result, "6s elapsed exceeds duration_s=5")

	emptyDet := detWith()
	result, _ = classPresenceHandler(rule, emptyDet, state, t0.Add(7*time.Second))
	assert.Nil(t, result, "match dropping resets the duration window")
}

func TestCountAtLeastHandler(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := model.Rule{Type: model.RuleCountAtLeast, Class: "person", MinCount: 3}

	result, _ := countAtLeastHandler(rule, detWith("person", "person"), nil, t0)
	assert.Nil(t, result, "below min_count must not fire")

	result, _ = countAtLeastHandler(rule, detWith("person", "person", "person"), nil, t0)
	require.NotNil(t, result)
	assert.Contains(t, result.Label, "person")
}

func TestCountAtLeastHandler_ZeroMinCountNeverFires(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := model.Rule{Type: model.RuleCountAtLeast, Class: "person", MinCount: 0}
	result, _ := countAtLeastHandler(rule, detWith("person", "person"), nil, t0)
	assert.Nil(t, result)
}

func TestClassCountHandler_AlwaysFires(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := model.Rule{Type: model.RuleClassCount, Class: "car"}

	result, _ := classCountHandler(rule, detWith(), nil, t0)
	require.NotNil(t, result, "class_count reports even on zero detections")
	assert.Contains(t, result.Label, "car: 0")

	result, _ = classCountHandler(rule, detWith("car", "car"), nil, t0)
	require.NotNil(t, result)
	assert.Contains(t, result.Label, "car: 2")
}

func TestEngine_FirstMatchWins(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ruleList := []model.Rule{
		{Type: model.RuleClassCount, Class: "car"},
		{Type: model.RuleClassPresence, Match: model.MatchAny, Classes: []string{"person"}},
	}
	engine := NewEngine()
	result := engine.Evaluate(ruleList, detWith("person"), t0)
	require.NotNil(t, result, "class_count at index 0 always matches and must mask rule 1")
	assert.Equal(t, 0, result.RuleIndex)
}

func TestEngine_SkipsUnknownType(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ruleList := []model.Rule{
		{Type: "bogus"},
		{Type: model.RuleClassPresence, Match: model.MatchAny, Classes: []string{"person"}},
	}
	engine := NewEngine()
	result := engine.Evaluate(ruleList, detWith("person"), t0)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.RuleIndex)
}

func TestEngine_Reset(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ruleList := []model.Rule{
		{Type: model.RuleClassPresence, Match: model.MatchAny, Classes: []string{"person"}, DurationS: 10},
	}
	engine := NewEngine()

	result := engine.Evaluate(ruleList, detWith("person"), t0)
	assert.Nil(t, result, "duration_s=10 means no fire on first sighting")

	engine.Reset()

	result = engine.Evaluate(ruleList, detWith("person"), t0.Add(11*time.Second))
	assert.Nil(t, result, "after Reset the duration window must restart, not carry the old lastMatchedSince forward")
}

// personDetection builds a single "person" Detections entry with the given
// hip_y and box height, mirroring spec §8 scenario 4/5's fixtures. The
// shoulder/hip midpoints are offset horizontally by a large, fixed dx so
// angleFromVertical stays comfortably above the shared 45deg lying
// threshold regardless of the small hip_y deltas the scenarios exercise.
func personDetection(hipY, boxHeight float32) *model.Detections {
	return personDetectionAngled(hipY, boxHeight, 1000)
}

// personDetectionUpright is personDetection with the hip directly below
// the shoulders (angle 0, not "lying"), used to break a state-of-lying
// streak without masking the act-of-falling counter under test.
func personDetectionUpright(hipY, boxHeight float32) *model.Detections {
	return personDetectionAngled(hipY, boxHeight, 0)
}

func personDetectionAngled(hipY, boxHeight, dx float32) *model.Detections {
	kps := make([]model.Keypoint, 13)
	kps[kpLeftShoulder] = model.Keypoint{0, 0, 1}
	kps[kpRightShoulder] = model.Keypoint{10, 0, 1}
	kps[kpLeftHip] = model.Keypoint{5 + dx, hipY, 1}
	kps[kpRightHip] = model.Keypoint{15 + dx, hipY, 1}
	return &model.Detections{
		Classes:   []string{"person"},
		Scores:    []float32{0.9},
		Boxes:     []model.Box{{0, 0, 10, boxHeight}},
		Keypoints: [][]model.Keypoint{kps},
	}
}

// TestAccidentPresence_ActOfFalling follows spec §8 scenario 4 up to the
// firing frame: after an upright baseline, hip_y deltas {+8, +9} and
// height ratios {0.6, 0.65} with the person lying (angle ~84deg from the
// personDetection fixture). The counter reaches the fire threshold (2)
// after frame 2.
func TestAccidentPresence_ActOfFalling(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := model.Rule{Type: model.RuleAccidentPresent}

	// Frame 0: establish baseline, hip_y=100, height=100. Upright (not
	// lying) so the state-of-lying streak doesn't also build up across
	// frames 1-2 and mask the act-of-falling label under test.
	det0 := personDetectionUpright(100, 100)
	result, state := accidentPresenceHandler(rule, det0, nil, t0)
	assert.Nil(t, result)

	// Frame 1: hip_y rises by 8 (100->108), height ratio 0.6 (100->60).
	det1 := personDetection(108, 60)
	result, state = accidentPresenceHandler(rule, det1, state, t0.Add(1*time.Second))
	assert.Nil(t, result, "counter is only 1 after frame 1, below threshold 2")

	// Frame 2: hip_y rises by 9 (108->117), height ratio 0.65 (60->39).
	det2 := personDetection(117, 39)
	result, _ = accidentPresenceHandler(rule, det2, state, t0.Add(2*time.Second))
	require.NotNil(t, result, "counter reaches 2 at frame 2 and must fire")
	assert.Contains(t, result.Label, "act of falling")
}

// TestAccidentPresence_StateOfLying reproduces spec §8 scenario 5: angle
// >= 50 deg and height 120px held for 3 frames fires on the 3rd frame,
// not before.
func TestAccidentPresence_StateOfLying(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := model.Rule{Type: model.RuleAccidentPresent}

	// shoulder mid=(5,0), hip mid=(1010,150): atan2(1005,150)~81.5deg
	// from vertical, comfortably past the shared 45deg "lying" threshold;
	// box height 120 > stateLyingMinHeight.
	det := personDetection(150, 120)

	var state any
	var result *MatchResult
	for i := 0; i < 2; i++ {
		result, state = accidentPresenceHandler(rule, det, state, t0.Add(time.Duration(i)*time.Second))
		assert.Nil(t, result, "2 frames is not enough (spec: fires at frame 3)")
	}
	result, _ = accidentPresenceHandler(rule, det, state, t0.Add(2*time.Second))
	require.NotNil(t, result, "3rd consecutive frame must fire state-of-lying")
	assert.Contains(t, result.Label, "state of lying")
}

// TestAccidentPresence_FallCounterDecrementsNotResets locks in the fixed
// hysteresis behavior: a single bad frame after the counter has built up
// must decrement by one, not reset to zero, so the rule keeps firing on
// the next good frame instead of needing to rebuild from scratch.
func TestAccidentPresence_FallCounterDecrementsNotResets(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := model.Rule{Type: model.RuleAccidentPresent}

	det0 := personDetectionUpright(100, 100)
	_, state := accidentPresenceHandler(rule, det0, nil, t0)

	// Two consecutive qualifying frames bring the counter to 2 (fires).
	det1 := personDetection(108, 60)
	_, state = accidentPresenceHandler(rule, det1, state, t0.Add(1*time.Second))
	det2 := personDetection(117, 39)
	result, state := accidentPresenceHandler(rule, det2, state, t0.Add(2*time.Second))
	require.NotNil(t, result)

	// A frame with no hip rise and upright (breaks both fallMotion and
	// the lying streak) must decrement the counter to 1, not reset it to 0.
	det3 := personDetectionUpright(118, 39)
	result, state = accidentPresenceHandler(rule, det3, state, t0.Add(3*time.Second))
	assert.Nil(t, result, "counter dropped from 2 to 1, below fire threshold")

	// One more qualifying frame should bring it straight back to 2 and
	// fire again -- this would fail if the prior frame had reset to 0.
	det4 := personDetection(127, 25)
	result, _ = accidentPresenceHandler(rule, det4, state, t0.Add(4*time.Second))
	require.NotNil(t, result, "decrement-by-one means one more good frame re-fires; reset-to-zero would need two")
}

// TestAccidentPresence_SharedLyingThreshold locks in the fix removing the
// duplicate state-of-lying-only angle constant: a person whose angle
// sits between the two now-deleted thresholds (45 and the former 50)
// must still count as "lying" for state-of-lying, since both triggers
// share one lying = angle > 45 computation.
func TestAccidentPresence_SharedLyingThreshold(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := model.Rule{Type: model.RuleAccidentPresent}

	// shoulder mid=(5,0), hip mid=(16,10) -> dx=11, dy=10 -> angle~47.7deg,
	// past the shared 45deg threshold but under the deleted 50deg one.
	kps := make([]model.Keypoint, 13)
	kps[kpLeftShoulder] = model.Keypoint{0, 0, 1}
	kps[kpRightShoulder] = model.Keypoint{10, 0, 1}
	kps[kpLeftHip] = model.Keypoint{11, 10, 1}
	kps[kpRightHip] = model.Keypoint{21, 10, 1}
	det := &model.Detections{
		Classes:   []string{"person"},
		Scores:    []float32{0.9},
		Boxes:     []model.Box{{0, 0, 10, 120}},
		Keypoints: [][]model.Keypoint{kps},
	}

	var state any
	var result *MatchResult
	for i := 0; i < 3; i++ {
		result, state = accidentPresenceHandler(rule, det, state, t0.Add(time.Duration(i)*time.Second))
	}
	require.NotNil(t, result, "angle just past the shared 45deg threshold with height>20 held 3 frames must fire state-of-lying without a separate, stricter threshold")
}
