package config

type NetcodeSettings struct {
	PlayerName               string `yaml:"playerName"`
	MaxConnectedPlayers      int    `yaml:"maxConnectedPlayers"`
	MaxReconnectAttempts     int    `yaml:"maxReconnectAttempts"`
	ReconnectCooldownSeconds int    `yaml:"reconnectCooldownSeconds"`
	FirstAttemptDelaySeconds int    `yaml:"firstAttemptDelaySeconds"`
	PrepareTimeoutSeconds    int    `yaml:"prepareTimeoutSeconds"`
	MaxPayloadBytes          int    `yaml:"maxPayloadBytes"`
	DebugBuild               bool   `yaml:"debugBuild"`
}

type RedisSettings struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LobbySettings struct {
	Redis      RedisSettings `yaml:"redis"`
	TTLSeconds int           `yaml:"ttlSeconds"`
}

type TransportSettings struct {
	Port int `yaml:"port"`
	// Connection attempts admitted per second before the host starts
	// refusing websocket upgrades outright.
	AcceptsPerSecond int `yaml:"acceptsPerSecond"`
}

type SessionSettings struct {
	// Path of the sqlite database holding player profiles. Empty disables
	// persistence.
	DBPath string `yaml:"dbPath"`
}

type Config struct {
	Netcode   NetcodeSettings   `yaml:"netcode"`
	Lobby     LobbySettings     `yaml:"lobby"`
	Transport TransportSettings `yaml:"transport"`
	Sessions  SessionSettings   `yaml:"sessions"`
}
