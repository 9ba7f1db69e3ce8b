package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/agentworld/store"
)

func (s *Server) registerChatRoutes(g *echo.Group) {
	g.GET("/worlds/:worldId/chats", s.listChats)
	g.POST("/worlds/:worldId/chats", s.newChat)
	g.POST("/worlds/:worldId/chats/:chatId/restore", s.restoreChat)
	g.DELETE("/worlds/:worldId/chats/:chatId", s.deleteChat)
	g.POST("/worlds/:worldId/chats/:chatId/stop", s.stopChat)
	g.GET("/worlds/:worldId/memory", s.getMemory)
	g.POST("/worlds/:worldId/messages", s.publishMessage)
	g.POST("/worlds/:worldId/messages/remove", s.removeMessagesFrom)
}

func (s *Server) listChats(c echo.Context) error {
	chats, err := s.Manager.ListChats(c.Request().Context(), c.Param("worldId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, chats)
}

// chatResponse wraps a chat mutation result with the updated world and an
// optional refresh warning.
type chatResponse struct {
	World          *store.World `json:"world"`
	Chat           *store.Chat  `json:"chat,omitempty"`
	RefreshWarning string       `json:"refreshWarning,omitempty"`
}

func (s *Server) newChat(c echo.Context) error {
	world, chat, warning, err := s.Manager.NewChat(c.Request().Context(), c.Param("worldId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, chatResponse{World: world, Chat: chat, RefreshWarning: warning})
}

func (s *Server) restoreChat(c echo.Context) error {
	world, warning, err := s.Manager.RestoreChat(c.Request().Context(), c.Param("worldId"), c.Param("chatId"))
	if err != nil {
		return httpError(err)
	}
	if world == nil {
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	return c.JSON(http.StatusOK, chatResponse{World: world, RefreshWarning: warning})
}

func (s *Server) deleteChat(c echo.Context) error {
	deleted, warning, err := s.Manager.DeleteChat(c.Request().Context(), c.Param("worldId"), c.Param("chatId"))
	if err != nil {
		return httpError(err)
	}
	if !deleted {
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"refreshWarning": warning})
}

func (s *Server) stopChat(c echo.Context) error {
	cancelled := s.Manager.StopChat(c.Param("worldId"), c.Param("chatId"))
	return c.JSON(http.StatusOK, map[string]int{"cancelledStreams": cancelled})
}

func (s *Server) getMemory(c echo.Context) error {
	memory, err := s.Manager.GetMemory(c.Request().Context(), c.Param("worldId"), c.QueryParam("chatId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, memory)
}

// publishMessageRequest is the message injection payload.
type publishMessageRequest struct {
	Content string `json:"content"`
	Sender  string `json:"sender"`
	ChatID  string `json:"chatId"`
}

func (s *Server) publishMessage(c echo.Context) error {
	var req publishMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg, err := s.Manager.PublishMessage(c.Request().Context(), c.Param("worldId"), req.Content, req.Sender, req.ChatID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, msg)
}

// removeMessagesRequest targets the delete-from-message mutation.
type removeMessagesRequest struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

func (s *Server) removeMessagesFrom(c echo.Context) error {
	var req removeMessagesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MessageID == "" || req.ChatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "messageId and chatId are required")
	}
	result, err := s.Manager.RemoveMessagesFrom(c.Request().Context(), c.Param("worldId"), req.MessageID, req.ChatID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}
