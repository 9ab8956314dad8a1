package configuration

import (
	"encoding/json"
	"os"
)

type MongoConfig struct {
	Uri                     string `json:"uri"`
	Database                string `json:"database"`
	MessagesCollection      string `json:"messagesCollection"`
	ConversationsCollection string `json:"conversationsCollection"`
	AdvisoriesCollection    string `json:"advisoriesCollection"`
	SocketRoute             string `json:"socketRoute"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	SocketPort     int      `json:"socket_port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type AuthConfig struct {
	JwtSecret            string `json:"jwt_secret"`
	Issuer               string `json:"issuer"`
	TokenValidityMinutes int    `json:"token_validity_minutes"`
}

type CollabConfig struct {
	ListingBaseUrl string `json:"listing_base_url"`
	NotifyBaseUrl  string `json:"notify_base_url"`
}

type AdvisoryConfig struct {
	GeminiApiKey string `json:"gemini_api_key"`
	QueueSize    int    `json:"queue_size"`
	Workers      int    `json:"workers"`
}

type NegotiationConfig struct {
	OfferTtlMinutes int `json:"offer_ttl_minutes"`
}

type Config struct {
	ChatDatabase MongoConfig       `json:"mongo"`
	Server       ServerConfig      `json:"server"`
	Auth         AuthConfig        `json:"auth"`
	Collab       CollabConfig      `json:"collab"`
	Advisory     AdvisoryConfig    `json:"advisory"`
	Negotiation  NegotiationConfig `json:"negotiation"`
}

func LoadConfig(config_path string) (*Config, error) {
	file, err := os.ReadFile(config_path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = json.Unmarshal(file, &config)
	if err != nil {
		return nil, err
	}

	return &config, nil
}
