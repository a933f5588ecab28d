package session

import "time"

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Call is the registry view of one voice call.
type Call struct {
	ID             string    `json:"call_id"`
	RemoteAddr     string    `json:"remote_addr"`
	Status         Status    `json:"status"`
	Connection     string    `json:"connection"`
	Voice          string    `json:"voice"`
	AudioChunks    int       `json:"audio_chunks"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
}

// ListResponse is the payload of the call listing endpoint.
type ListResponse struct {
	Calls           []*Call `json:"calls"`
	Active          int     `json:"active"`
	InactivityTTLMS int64   `json:"inactivity_ttl_ms"`
}
