package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hrygo/agentworld/engine/bus"
	"github.com/hrygo/agentworld/engine/logstream"
	"github.com/hrygo/agentworld/engine/subscription"
)

func (s *Server) registerStreamRoutes(g *echo.Group) {
	g.GET("/worlds/:worldId/events", s.streamWorldEvents)
	g.GET("/logs/stream", s.streamLogs)
}

// sseFrame is one rendered server-sent event.
type sseFrame struct {
	event string
	data  any
}

// streamWorldEvents subscribes the HTTP client to a world's bus and
// relays events as SSE frames until the client disconnects. An optional
// chatId query parameter scopes the stream to one chat.
func (s *Server) streamWorldEvents(c echo.Context) error {
	worldID := c.Param("worldId")
	chatID := c.QueryParam("chatId")
	ctx := c.Request().Context()

	frames := make(chan sseFrame, 256)
	push := func(event string, data any) {
		select {
		case frames <- sseFrame{event: event, data: data}:
		default:
			// Drop when the client cannot keep up; sse and tool topics
			// already tolerate loss, and message replay is served by the
			// memory endpoint.
		}
	}

	hooks := subscription.Hooks{
		OnMessage:  func(e bus.MessageEvent) { push(string(bus.TopicMessage), e) },
		OnSSE:      func(e bus.SSEEvent) { push(string(bus.TopicSSE), e) },
		OnTool:     func(e bus.ToolEvent) { push(string(bus.TopicTool), e) },
		OnActivity: func(e bus.ActivityEvent) { push(string(bus.TopicActivity), e) },
		OnSystem:   func(e bus.SystemEvent) { push(string(bus.TopicSystem), e) },
	}

	sub, err := s.Manager.SubscribeWorld(ctx, "sse:"+uuid.NewString(), worldID, chatID, hooks)
	if err != nil {
		return httpError(err)
	}
	defer sub.Destroy()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-frames:
			if err := writeSSE(w, frame); err != nil {
				return nil
			}
		}
	}
}

// streamLogs relays the process log stream as SSE frames.
func (s *Server) streamLogs(c echo.Context) error {
	ctx := c.Request().Context()

	frames := make(chan sseFrame, 256)
	unsubscribe := logstream.AddCallback(func(r logstream.Record) {
		select {
		case frames <- sseFrame{event: "log", data: r}:
		default:
		}
	})
	defer unsubscribe()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-frames:
			if err := writeSSE(w, frame); err != nil {
				return nil
			}
		}
	}
}

func writeSSE(w *echo.Response, frame sseFrame) error {
	payload, err := json.Marshal(frame.data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.event, payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}
