package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status      string          `json:"status"` // "healthy", "idle"
	Connections ConnectionStats `json:"connections"`
	Users       []UserInfo      `json:"users"`
	Advisory    AdvisoryStats   `json:"advisory"`
}

// ConnectionStats holds connection-related statistics
type ConnectionStats struct {
	TotalConnected int `json:"totalConnected"` // Total sockets currently connected
	TotalUsers     int `json:"totalUsers"`     // Distinct users with at least one socket
}

// UserInfo contains information about one connected user
type UserInfo struct {
	UserID      string   `json:"userId"`
	Connections []string `json:"connections"` // client IDs
}

// AdvisoryStats holds advisory pipeline statistics
type AdvisoryStats struct {
	QueueDepth int   `json:"queueDepth"`
	Evaluated  int64 `json:"evaluated"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}
