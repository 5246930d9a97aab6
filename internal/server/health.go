package server

import (
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nupi-ai/warp/internal/constants"
	"github.com/nupi-ai/warp/internal/eventbus"
)

// watch keeps the health statuses in step with the transport. The overall
// service and warp.transport follow the connection; warp.auth follows the
// credential.
func (s *Server) watch() {
	s.refresh()
	for _, topic := range []eventbus.Topic{
		eventbus.TopicConnected,
		eventbus.TopicDisconnected,
		eventbus.TopicConnectionError,
		eventbus.TopicAuthenticated,
	} {
		s.subs.Add(s.bus.Subscribe(topic, func(eventbus.Envelope) { s.refresh() }))
	}
}

func (s *Server) refresh() {
	if s.status == nil {
		return
	}
	conn := s.status.Status().Connection
	transport := servingStatus(conn.Connected)
	s.health.SetServingStatus("", transport)
	s.health.SetServingStatus(constants.HealthServiceTransport, transport)
	s.health.SetServingStatus(constants.HealthServiceAuth, servingStatus(conn.Authenticated))
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
