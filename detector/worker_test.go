package detector

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"edgevision/framehub"
	"edgevision/model"
	"edgevision/rules"
)

// boxRunner is a fake ModelRunner returning one fixed "person" box so
// worker.tick always annotates and always fires a class_presence match.
type boxRunner struct{}

func (boxRunner) Name() string { return "box" }
func (boxRunner) Run(_ gocv.Mat) (*model.Detections, error) {
	return &model.Detections{
		Classes: []string{"person"},
		Scores:  []float32{0.99},
		Boxes:   []model.Box{{1, 1, 3, 3}},
	}, nil
}
func (boxRunner) Close() error { return nil }

// captureSink records every EventFrame handed to it.
type captureSink struct {
	frames []model.EventFrame
}

func (c *captureSink) HandleEventFrame(_ model.SessionKey, ev model.EventFrame) {
	c.frames = append(c.frames, ev)
}

func solidFrame(width, height int, value byte) *model.Frame {
	pixels := bytes.Repeat([]byte{value}, width*height*3)
	return &model.Frame{Width: width, Height: height, FrameIndex: 1, Pixels: pixels}
}

// TestWorker_Tick_EventGetsAnnotatedFrame is the regression test for the
// fixed bug where the event sink received the raw, un-annotated frame
// while FrameStore got the annotated one: both consumers must now see
// the same annotated pixels, and neither must alias the other's buffer.
func TestWorker_Tick_EventGetsAnnotatedFrame(t *testing.T) {
	const w, h = 8, 8
	fs := framehub.NewFrameStore()
	camID := "cam-1"
	agentID := "agent-1"
	fs.Put(camID, solidFrame(w, h, 10))

	sink := &captureSink{}
	worker := &Worker{
		Agent:  model.Agent{ID: agentID, CameraID: camID},
		Camera: model.Camera{ID: camID},
		Store:  fs,
		Models: NewModelSet(boxRunner{}),
		Sink:   sink,
		Log:    zerolog.Nop(),
	}

	ruleList := []model.Rule{
		{Type: model.RuleClassPresence, Match: model.MatchAny, Classes: []string{"person"}},
	}
	targetClasses := map[string]bool{"person": true}
	engine := rules.NewEngine()

	_, processed := worker.tick(context.Background(), engine, ruleList, targetClasses, 0)
	require.True(t, processed)
	require.Len(t, sink.frames, 1)

	eventFrame := sink.frames[0].Frame
	storedFrame := fs.Get(agentID)
	require.NotNil(t, storedFrame, "annotated frame must be published under the agent id")

	assert.NotEqual(t, bytes.Repeat([]byte{10}, w*h*3), eventFrame.Pixels,
		"event frame must carry annotated (box-drawn) pixels, not the raw solid-color input")
	assert.Equal(t, storedFrame.Pixels, eventFrame.Pixels,
		"event sink and FrameStore must observe the same annotated pixels")

	// The two consumers must not share backing memory: mutating one
	// must not affect the other.
	eventFrame.Pixels[0] ^= 0xFF
	assert.NotEqual(t, eventFrame.Pixels[0], storedFrame.Pixels[0],
		"event frame and stored frame must be independent copies")
}

