package bus

import "time"

// Notification is the immediate single-frame event message (spec §6,
// key = agent_id).
type Notification struct {
	Event struct {
		Label     string    `json:"label"`
		RuleIndex int       `json:"rule_index"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"event"`
	Agent struct {
		AgentID   string `json:"agent_id"`
		AgentName string `json:"agent_name"`
		CameraID  string `json:"camera_id"`
	} `json:"agent"`
	Camera struct {
		OwnerUserID string `json:"owner_user_id"`
		DeviceID    string `json:"device_id"`
	} `json:"camera"`
	Frame struct {
		ImageBase64 string `json:"image_base64"`
		Format      string `json:"format"`
	} `json:"frame"`
	Metadata struct {
		VideoTimestamp time.Time `json:"video_timestamp"`
		Detections     any       `json:"detections"`
		SessionID      string    `json:"session_id"`
	} `json:"metadata"`
}

// VideoChunk is the event_video message (spec §6, key = session_id).
type VideoChunk struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	SequenceNumber int    `json:"sequence_number"`
	IsFinalChunk   bool   `json:"is_final_chunk"`
	Chunk          struct {
		ChunkNumber    int       `json:"chunk_number"`
		StartTime      time.Time `json:"start_time"`
		EndTime        time.Time `json:"end_time"`
		DurationSecond float64   `json:"duration_seconds"`
	} `json:"chunk"`
	Event struct {
		Label     string    `json:"label"`
		RuleIndex int       `json:"rule_index"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"event"`
	Agent struct {
		AgentID   string `json:"agent_id"`
		AgentName string `json:"agent_name"`
		CameraID  string `json:"camera_id"`
	} `json:"agent"`
	Camera struct {
		OwnerUserID string `json:"owner_user_id"`
		DeviceID    string `json:"device_id"`
	} `json:"camera"`
	Video struct {
		DataBase64 string `json:"data_base64"`
		Format     string `json:"format"`
		FPS        int    `json:"fps"`
		Resolution struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"resolution"`
	} `json:"video"`
	Metadata struct {
		SessionID      string `json:"session_id"`
		ChunkSequence  int    `json:"chunk_sequence"`
	} `json:"metadata"`
}
