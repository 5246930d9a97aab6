package eventbus

import (
	"time"
)

// Topic identifies a class of events on the bus.
type Topic string

const (
	TopicConnected       Topic = "connected"
	TopicDisconnected    Topic = "disconnected"
	TopicConnectionError Topic = "connection_error"
	TopicAuthenticated   Topic = "authenticated"
	TopicCommandResponse Topic = "command_response"
	TopicAgentMessage    Topic = "agent_message"
	TopicFileUpdate      Topic = "file_update"
	TopicMessage         Topic = "websocket_message"
	TopicCommandExecuted Topic = "command_executed"
	TopicAgentResponse   Topic = "agent_response"
	TopicFileUploaded    Topic = "file_uploaded"
	TopicFileDownloaded  Topic = "file_downloaded"
	TopicConfigReloaded  Topic = "config_reloaded"
	TopicPluginLoaded    Topic = "plugin_loaded"
)

// Source identifies the component that published an event.
type Source string

const (
	SourceTransport Source = "transport"
	SourceSession   Source = "session"
	SourceConfig    Source = "config"
	SourcePlugins   Source = "plugins"
	SourceUnknown   Source = "unknown"
)

// Payload is implemented by every event variant carried on the bus. The set
// of variants is closed to this package.
type Payload interface {
	Topic() Topic
	isPayload()
}

// Envelope wraps a payload with delivery metadata.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       Payload
}

// ConnectedEvent is published once the realtime channel handshake succeeds.
type ConnectedEvent struct {
	URL string
}

// DisconnectedEvent is published when the realtime channel closes, whether
// locally requested or remote.
type DisconnectedEvent struct {
	Code   int
	Reason string
}

// ConnectionErrorEvent reports a handshake or read failure.
type ConnectionErrorEvent struct {
	Err error
}

// AuthenticatedEvent carries the authentication response with the access
// token removed.
type AuthenticatedEvent struct {
	Data map[string]any
}

// CommandResponseEvent carries a server message of type "command_response".
type CommandResponseEvent struct {
	Data map[string]any
}

// AgentMessageEvent carries a server message of type "agent_message".
type AgentMessageEvent struct {
	Data map[string]any
}

// FileUpdateEvent carries a server message of type "file_update".
type FileUpdateEvent struct {
	Data map[string]any
}

// MessageEvent carries any other server message. Type is empty when the
// message had no type field.
type MessageEvent struct {
	Type string
	Data map[string]any
}

// CommandExecutedEvent describes a finished local command.
type CommandExecutedEvent struct {
	Command    string
	WorkingDir string
	ExitCode   int
	Stdout     string
	Stderr     string
	Duration   time.Duration
	TimedOut   bool
	Error      string
}

// AgentResponseEvent carries the agent endpoint response.
type AgentResponseEvent struct {
	Response map[string]any
}

// FileUploadedEvent carries the upload endpoint response.
type FileUploadedEvent struct {
	Path     string
	Response map[string]any
}

// FileDownloadedEvent describes a completed download.
type FileDownloadedEvent struct {
	FileID   string
	SavePath string
	Size     int64
}

// ConfigReloadedEvent is published after the configuration changed on disk
// and was reloaded successfully.
type ConfigReloadedEvent struct {
	Dir string
}

// PluginLoadedEvent is published for each plugin activated by the host.
type PluginLoadedEvent struct {
	Name   string
	Kind   string
	Source string
}

func (ConnectedEvent) Topic() Topic       { return TopicConnected }
func (DisconnectedEvent) Topic() Topic    { return TopicDisconnected }
func (ConnectionErrorEvent) Topic() Topic { return TopicConnectionError }
func (AuthenticatedEvent) Topic() Topic   { return TopicAuthenticated }
func (CommandResponseEvent) Topic() Topic { return TopicCommandResponse }
func (AgentMessageEvent) Topic() Topic    { return TopicAgentMessage }
func (FileUpdateEvent) Topic() Topic      { return TopicFileUpdate }
func (MessageEvent) Topic() Topic         { return TopicMessage }
func (CommandExecutedEvent) Topic() Topic { return TopicCommandExecuted }
func (AgentResponseEvent) Topic() Topic   { return TopicAgentResponse }
func (FileUploadedEvent) Topic() Topic    { return TopicFileUploaded }
func (FileDownloadedEvent) Topic() Topic  { return TopicFileDownloaded }
func (ConfigReloadedEvent) Topic() Topic  { return TopicConfigReloaded }
func (PluginLoadedEvent) Topic() Topic    { return TopicPluginLoaded }

func (ConnectedEvent) isPayload()       {}
func (DisconnectedEvent) isPayload()    {}
func (ConnectionErrorEvent) isPayload() {}
func (AuthenticatedEvent) isPayload()   {}
func (CommandResponseEvent) isPayload() {}
func (AgentMessageEvent) isPayload()    {}
func (FileUpdateEvent) isPayload()      {}
func (MessageEvent) isPayload()         {}
func (CommandExecutedEvent) isPayload() {}
func (AgentResponseEvent) isPayload()   {}
func (FileUploadedEvent) isPayload()    {}
func (FileDownloadedEvent) isPayload()  {}
func (ConfigReloadedEvent) isPayload()  {}
func (PluginLoadedEvent) isPayload()    {}

// ServerMessage maps a decoded realtime message onto its payload variant.
func ServerMessage(data map[string]any) Payload {
	msgType, _ := data["type"].(string)
	switch Topic(msgType) {
	case TopicCommandResponse:
		return CommandResponseEvent{Data: data}
	case TopicAgentMessage:
		return AgentMessageEvent{Data: data}
	case TopicFileUpdate:
		return FileUpdateEvent{Data: data}
	default:
		return MessageEvent{Type: msgType, Data: data}
	}
}
