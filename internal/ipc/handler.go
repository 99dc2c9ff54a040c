package ipc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"keycore/internal/controller"
	"keycore/internal/host"
	"keycore/internal/rgb"
)

// Backend is the controller side of the daemon. host.Host implements it.
type Backend interface {
	Status(ctx context.Context) (controller.Status, error)
	Reset(ctx context.Context) error
	Indicators(ctx context.Context) (rgb.RenderDecision, error)
}

// DaemonHandler answers client requests on behalf of keycored.
type DaemonHandler struct {
	Backend Backend

	// Reload rereads the configuration; nil disables MsgReloadConfig.
	Reload func(ctx context.Context) error

	// Metrics returns a metric snapshot; nil disables MsgMetricsRequest.
	Metrics func() map[string]any

	// TraceSession names the active trace session, if any.
	TraceSession func() string

	Version   string
	StartedAt time.Time
	Server    *Server
	Logger    *slog.Logger

	RequestTimeout time.Duration
}

// HandleMessage implements Handler.
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	timeout := h.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := msg.Header.RequestID
	switch msg.Header.Type {
	case MsgStatusRequest:
		st, err := h.Backend.Status(ctx)
		if err != nil {
			return backendError(id, err), nil
		}
		resp := NewStatusResponse(st)
		resp.Version = h.Version
		resp.StartedAt = h.StartedAt
		resp.Uptime = time.Since(h.StartedAt)
		if h.Server != nil {
			resp.Clients = h.Server.ClientCount()
		}
		if h.TraceSession != nil {
			resp.TraceSession = h.TraceSession()
		}
		return NewResponse(MsgStatusResponse, id, resp)

	case MsgIndicatorsRequest:
		d, err := h.Backend.Indicators(ctx)
		if err != nil {
			return backendError(id, err), nil
		}
		return NewResponse(MsgIndicatorsResponse, id, &IndicatorsResponse{Decision: d})

	case MsgReset:
		if err := h.Backend.Reset(ctx); err != nil {
			return backendError(id, err), nil
		}
		st, err := h.Backend.Status(ctx)
		if err != nil {
			return backendError(id, err), nil
		}
		h.logger().Info("controller reset by client", "client", client.ID)
		return NewResponse(MsgResetResp, id, &ResetResponse{Success: true, Status: st})

	case MsgReloadConfig:
		if h.Reload == nil {
			return NewErrorMessage(id, ErrUnsupported, "config reload not available"), nil
		}
		resp := &ReloadConfigResponse{Success: true}
		if err := h.Reload(ctx); err != nil {
			resp.Success = false
			resp.Error = err.Error()
		} else if h.Server != nil {
			h.Server.Broadcast(&Event{Type: EventConfigReloaded, Timestamp: time.Now()})
		}
		return NewResponse(MsgReloadConfigResp, id, resp)

	case MsgMetricsRequest:
		if h.Metrics == nil {
			return NewErrorMessage(id, ErrUnsupported, "metrics not enabled"), nil
		}
		return NewResponse(MsgMetricsResponse, id, &MetricsResponse{Metrics: h.Metrics()})
	}

	return NewErrorMessage(id, ErrInvalidRequest, "unknown message type"), nil
}

func (h *DaemonHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func backendError(id uint32, err error) *Message {
	if errors.Is(err, host.ErrNotRunning) {
		return NewErrorMessage(id, ErrNotRunning, err.Error())
	}
	return NewErrorMessage(id, ErrInternalError, err.Error())
}

// Relay forwards controller events to subscribed clients until ctx is done
// or events is closed.
func (s *Server) Relay(ctx context.Context, events <-chan controller.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Broadcast(EventFromController(ev))
		}
	}
}
