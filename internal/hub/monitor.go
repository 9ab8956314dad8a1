package hub

import (
	"sort"

	"tradepost/internal/model"
)

// MonitorService provides methods to gather dispatcher statistics
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns connection statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	users := ms.getUserList()

	totalConnected := 0
	for _, u := range users {
		totalConnected += len(u.Connections)
	}

	status := "healthy"
	if totalConnected == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status: status,
		Connections: model.ConnectionStats{
			TotalConnected: totalConnected,
			TotalUsers:     len(users),
		},
		Users: users,
	}
}

func (ms *MonitorService) getUserList() []model.UserInfo {
	var users []model.UserInfo

	for _, bucket := range ms.hub.shards {
		bucket.RLock()
		for userID, conns := range bucket.users {
			info := model.UserInfo{UserID: userID}
			for clientID := range conns {
				info.Connections = append(info.Connections, clientID)
			}
			sort.Strings(info.Connections)
			users = append(users, info)
		}
		bucket.RUnlock()
	}

	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}
