package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/agentworld/engine"
	"github.com/hrygo/agentworld/store"
)

func (s *Server) registerAgentRoutes(g *echo.Group) {
	g.GET("/worlds/:worldId/agents", s.listAgents)
	g.POST("/worlds/:worldId/agents", s.createAgent)
	g.GET("/worlds/:worldId/agents/:agentId", s.getAgent)
	g.PATCH("/worlds/:worldId/agents/:agentId", s.updateAgent)
	g.DELETE("/worlds/:worldId/agents/:agentId", s.deleteAgent)
	g.GET("/worlds/:worldId/agents/:agentId/memory", s.getAgentMemory)
	g.POST("/worlds/:worldId/agents/:agentId/memory/clear", s.clearAgentMemory)
}

func (s *Server) listAgents(c echo.Context) error {
	agents, err := s.Manager.ListAgents(c.Request().Context(), c.Param("worldId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, agents)
}

func (s *Server) createAgent(c echo.Context) error {
	var params engine.CreateAgentParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	params.WorldID = c.Param("worldId")
	agent, err := s.Manager.CreateAgent(c.Request().Context(), params)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, agent)
}

func (s *Server) getAgent(c echo.Context) error {
	agent, err := s.Manager.GetAgent(c.Request().Context(), c.Param("worldId"), c.Param("agentId"))
	if err != nil {
		return httpError(err)
	}
	if agent == nil {
		return echo.NewHTTPError(http.StatusNotFound, "agent not found")
	}
	return c.JSON(http.StatusOK, agent)
}

func (s *Server) updateAgent(c echo.Context) error {
	upd := &store.UpdateAgent{}
	if err := c.Bind(upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	upd.WorldID = c.Param("worldId")
	upd.ID = c.Param("agentId")
	agent, err := s.Manager.UpdateAgent(c.Request().Context(), upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, agent)
}

func (s *Server) deleteAgent(c echo.Context) error {
	if err := s.Manager.DeleteAgent(c.Request().Context(), c.Param("worldId"), c.Param("agentId")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getAgentMemory(c echo.Context) error {
	memory, err := s.Manager.GetAgentMemory(c.Request().Context(), c.Param("worldId"), c.Param("agentId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, memory)
}

func (s *Server) clearAgentMemory(c echo.Context) error {
	if err := s.Manager.ClearAgentMemory(c.Request().Context(), c.Param("worldId"), c.Param("agentId")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
