package constants

import "time"

// Shared duration vocabulary used by timeouts, polling and retry checks.
// Keep these centralized to simplify system-wide timing tuning.
const (
	Duration100Milliseconds = 100 * time.Millisecond
	Duration200Milliseconds = 200 * time.Millisecond
	Duration500Milliseconds = 500 * time.Millisecond

	Duration1Second   = 1 * time.Second
	Duration2Seconds  = 2 * time.Second
	Duration5Seconds  = 5 * time.Second
	Duration10Seconds = 10 * time.Second
	Duration30Seconds = 30 * time.Second
	Duration60Seconds = 60 * time.Second
)

// Domain-level timeout constants.
const (
	WebsocketHandshakeTimeout = Duration10Seconds
	WebsocketWriteTimeout     = Duration5Seconds
	DisconnectJoinTimeout     = Duration2Seconds

	ReconnectInitialDelay = Duration1Second
	ReconnectMaxDelay     = Duration60Seconds

	HTTPRequestTimeout    = Duration30Seconds
	CommandTimeout        = Duration30Seconds
	CommandKillGrace      = Duration500Milliseconds
	ConfigWatchDebounce   = Duration200Milliseconds
	HistoryBusyTimeout    = Duration5Seconds
	DaemonShutdownTimeout = Duration10Seconds
	PluginInitTimeout     = Duration10Seconds
	PluginUnloadTimeout   = Duration2Seconds
)
