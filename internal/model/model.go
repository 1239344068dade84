package model

import "strconv"

// ─────────────────────────────────────────────
// Node WebSocket Protocol
// ─────────────────────────────────────────────

type MsgType string

const (
	// Node → Server
	MsgTypeRegister  MsgType = "register"
	MsgTypeJobResult MsgType = "job_result"
	MsgTypePong      MsgType = "pong"

	// Server → Node
	MsgTypeRegistered  MsgType = "registered"
	MsgTypeAuthError   MsgType = "auth_error"
	MsgTypeJobDispatch MsgType = "job_dispatch"
	MsgTypePing        MsgType = "ping"
)

// Envelope is the top-level WebSocket frame.
type Envelope struct {
	Type    MsgType     `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// RegisterRequest is sent by a node right after connecting.
type RegisterRequest struct {
	NodeID       string       `json:"node_id"`
	AuthToken    string       `json:"auth_token"`
	Capabilities Capabilities `json:"capabilities"`
}

// Capabilities declares what a provider node can run.
type Capabilities struct {
	Models   []string          `json:"models"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Registered acknowledges a successful registration handshake.
type Registered struct {
	Status string `json:"status"`
	Owner  string `json:"owner"`
}

// AuthError is sent before the server closes an unauthenticated or
// revoked connection.
type AuthError struct {
	Error string `json:"error"`
}

// JobDispatch is broadcast to all live node connections when a new job
// is submitted. Any node may execute it; the first result wins.
type JobDispatch struct {
	JobID   string `json:"job_id"`
	OwnerID string `json:"owner_id"`
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
}

// JobResult is submitted by a node after executing a job.
type JobResult struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"` // "success" | "failed"
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	JobResultSuccess = "success"
	JobResultFailed  = "failed"
)

// ─────────────────────────────────────────────
// Dashboard push messages
// ─────────────────────────────────────────────

const (
	TopicPublic     = "dashboard:public"
	TopicUserPrefix = "dashboard:user:"
)

// UserTopic builds the per-user private topic name.
func UserTopic(userID string) string {
	return TopicUserPrefix + userID
}

// ─────────────────────────────────────────────
// Credits
// ─────────────────────────────────────────────

// FormatCredits renders an amount of cents as a fixed-point decimal
// string, e.g. 10000 → "100.00", -80 → "-0.80".
func FormatCredits(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + strconv.FormatInt(cents/100, 10) + "." + pad2(cents%100)
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
