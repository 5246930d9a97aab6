package session

import (
	"context"

	"github.com/nupi-ai/warp/internal/eventbus"
)

// ChatWithAgent sends message to the agent endpoint and returns its decoded
// response.
func (s *Session) ChatWithAgent(ctx context.Context, message string, chatContext map[string]any) (map[string]any, error) {
	if !s.cfg.GetBool("features.ai_agent.enabled", true) {
		return nil, featureDisabled("ai_agent")
	}
	endpoint, ok := s.cfg.Endpoint("agent_endpoint")
	if !ok {
		return nil, endpointMissing("agent_endpoint")
	}
	if chatContext == nil {
		chatContext = map[string]any{}
	}

	payload := map[string]any{
		"message":     message,
		"model":       s.configValue("features.ai_agent.model"),
		"max_tokens":  s.configValue("features.ai_agent.max_tokens"),
		"temperature": s.configValue("features.ai_agent.temperature"),
		"context":     chatContext,
	}
	resp, err := s.postJSON(ctx, "chat", endpoint, payload)
	if err != nil {
		return nil, err
	}
	s.bus.Emit(eventbus.SourceSession, eventbus.AgentResponseEvent{Response: resp})
	return resp, nil
}

func (s *Session) configValue(path string) any {
	v, _ := s.cfg.Get(path)
	return v
}
