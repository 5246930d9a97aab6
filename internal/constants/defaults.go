package constants

// Defaults applied when the configuration omits a value.
const (
	DefaultShell        = "/bin/bash"
	DefaultTokenFile    = "./data/tokens.json"
	DefaultHistoryDB    = "./data/history.db"
	DefaultLogFile      = "./data/warp_client.log"
	DefaultModulesDir   = "./modules"
	DefaultMaxFileSize  = 10 * 1024 * 1024
	DownloadChunkSize   = 8192
	DefaultHistoryLimit = 1000

	// PluginEventQueueSize bounds events waiting for a script plugin.
	PluginEventQueueSize = 64
)

// Health service names reported by warpd.
const (
	HealthServiceTransport = "warp.transport"
	HealthServiceAuth      = "warp.auth"
)
