package pluginhost

import (
	"encoding/json"
	"time"

	"github.com/nupi-ai/warp/internal/eventbus"
	"github.com/nupi-ai/warp/internal/session"
)

// Script plugins see plain maps with snake_case keys rather than Go structs.

func eventData(env eventbus.Envelope) map[string]any {
	return map[string]any{
		"topic":          string(env.Topic),
		"source":         string(env.Source),
		"timestamp":      env.Timestamp.Format(time.RFC3339Nano),
		"correlation_id": env.CorrelationID,
		"data":           payloadData(env.Payload),
	}
}

func payloadData(p eventbus.Payload) map[string]any {
	switch ev := p.(type) {
	case eventbus.ConnectedEvent:
		return map[string]any{"url": ev.URL}
	case eventbus.DisconnectedEvent:
		return map[string]any{"code": ev.Code, "reason": ev.Reason}
	case eventbus.ConnectionErrorEvent:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return map[string]any{"error": msg}
	case eventbus.AuthenticatedEvent:
		return ev.Data
	case eventbus.CommandResponseEvent:
		return ev.Data
	case eventbus.AgentMessageEvent:
		return ev.Data
	case eventbus.FileUpdateEvent:
		return ev.Data
	case eventbus.MessageEvent:
		return ev.Data
	case eventbus.CommandExecutedEvent:
		return map[string]any{
			"command":        ev.Command,
			"working_dir":    ev.WorkingDir,
			"exit_code":      ev.ExitCode,
			"stdout":         ev.Stdout,
			"stderr":         ev.Stderr,
			"execution_time": ev.Duration.Seconds(),
			"timed_out":      ev.TimedOut,
			"error":          ev.Error,
		}
	case eventbus.AgentResponseEvent:
		return ev.Response
	case eventbus.FileUploadedEvent:
		return map[string]any{"path": ev.Path, "response": ev.Response}
	case eventbus.FileDownloadedEvent:
		return map[string]any{"file_id": ev.FileID, "save_path": ev.SavePath, "size": ev.Size}
	case eventbus.ConfigReloadedEvent:
		return map[string]any{"dir": ev.Dir}
	case eventbus.PluginLoadedEvent:
		return map[string]any{"name": ev.Name, "kind": ev.Kind, "source": ev.Source}
	default:
		return map[string]any{}
	}
}

func commandData(res session.CommandResult) map[string]any {
	out := map[string]any{
		"command":        res.Command,
		"exit_code":      res.ExitCode,
		"stdout":         res.Stdout,
		"stderr":         res.Stderr,
		"execution_time": res.Elapsed.Seconds(),
		"working_dir":    res.WorkingDir,
		"success":        res.Err == nil && res.ExitCode == 0,
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	return out
}

// statusData renders Status through its JSON form.
func statusData(st session.Status) map[string]any {
	out := map[string]any{}
	data, err := json.Marshal(st)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}
