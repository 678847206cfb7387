package webrtcpub

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

var (
	errTimeoutWaitingForAnswer = errors.New("webrtcpub: timed out waiting for signaling answer")
	errICEFailed               = errors.New("webrtcpub: ice connection failed")
)

// Envelope is the signaling wire message (spec §6 "Messages are JSON
// envelopes with {type, from, to, …}").
type Envelope struct {
	Type      string                     `json:"type"`
	From      string                     `json:"from"`
	To        string                     `json:"to,omitempty"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// signalingConn wraps a single websocket connection to the relay,
// following the teacher's single-writer-goroutine hub-client pattern
// (websocket.websocket.go Client) but scoped to one outbound peer.
type signalingConn struct {
	conn *websocket.Conn
	from string
}

func dialSignaling(url, identity string) (*signalingConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling dial: %w", err)
	}
	return &signalingConn{conn: conn, from: identity}, nil
}

func (s *signalingConn) send(env Envelope) error {
	env.From = s.from
	return s.conn.WriteJSON(env)
}

func (s *signalingConn) readNext() (Envelope, error) {
	var env Envelope
	err := s.conn.ReadJSON(&env)
	return env, err
}

func (s *signalingConn) closeWithTimeout(d time.Duration) {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(d))
	_ = s.conn.Close()
}

// CameraIdentity / AgentIdentity build the client identities spec §6
// defines for the signaling relay.
func CameraIdentity(ownerUserID, cameraID string) string {
	return fmt.Sprintf("camera:%s:%s", ownerUserID, cameraID)
}

func AgentIdentity(ownerUserID, cameraID, agentID string) string {
	return fmt.Sprintf("agent:%s:%s:%s", ownerUserID, cameraID, agentID)
}

// generateTurnCredentials builds time-limited Coturn-style REST
// credentials: username is "expiry:user", password is the
// base64(HMAC-SHA1(secret, username)).
func generateTurnCredentials(secret, user string, ttl time.Duration) (username, password string) {
	expires := time.Now().Add(ttl).Unix()
	username = fmt.Sprintf("%d:%s", expires, user)
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	password = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return username, password
}
