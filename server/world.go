package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/agentworld/engine"
	"github.com/hrygo/agentworld/engine/llm"
	"github.com/hrygo/agentworld/store"
)

func (s *Server) registerWorldRoutes(g *echo.Group) {
	g.GET("/worlds", s.listWorlds)
	g.POST("/worlds", s.createWorld)
	g.POST("/worlds/import", s.importWorld)
	g.GET("/worlds/:worldId", s.getWorld)
	g.PATCH("/worlds/:worldId", s.updateWorld)
	g.DELETE("/worlds/:worldId", s.deleteWorld)
	g.GET("/worlds/:worldId/export", s.exportWorld)
	g.POST("/providers/:provider", s.configureProvider)
}

// worldResponse wraps a world with an optional refresh warning.
type worldResponse struct {
	World          *store.World `json:"world"`
	RefreshWarning string       `json:"refreshWarning,omitempty"`
}

func (s *Server) listWorlds(c echo.Context) error {
	worlds, err := s.Manager.ListWorlds(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, worlds)
}

func (s *Server) createWorld(c echo.Context) error {
	var params engine.CreateWorldParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	world, err := s.Manager.CreateWorld(c.Request().Context(), params)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, world)
}

func (s *Server) getWorld(c echo.Context) error {
	world, err := s.Manager.GetWorld(c.Request().Context(), c.Param("worldId"))
	if err != nil {
		return httpError(err)
	}
	if world == nil {
		return echo.NewHTTPError(http.StatusNotFound, "world not found")
	}
	return c.JSON(http.StatusOK, world)
}

func (s *Server) updateWorld(c echo.Context) error {
	upd := &store.UpdateWorld{}
	if err := c.Bind(upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	upd.ID = c.Param("worldId")
	world, warning, err := s.Manager.UpdateWorld(c.Request().Context(), upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, worldResponse{World: world, RefreshWarning: warning})
}

func (s *Server) deleteWorld(c echo.Context) error {
	if err := s.Manager.DeleteWorld(c.Request().Context(), c.Param("worldId")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) exportWorld(c echo.Context) error {
	export, err := s.Manager.ExportWorld(c.Request().Context(), c.Param("worldId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, export)
}

func (s *Server) importWorld(c echo.Context) error {
	var export engine.WorldExport
	if err := c.Bind(&export); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	world, err := s.Manager.ImportWorld(c.Request().Context(), &export)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, world)
}

// providerConfigRequest is the runtime credential override payload.
type providerConfigRequest struct {
	APIKey       string `json:"apiKey"`
	BaseURL      string `json:"baseUrl"`
	ResourceName string `json:"resourceName"`
	Deployment   string `json:"deployment"`
	APIVersion   string `json:"apiVersion"`
}

func (s *Server) configureProvider(c echo.Context) error {
	var req providerConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := s.Manager.ConfigureLLMProvider(c.Param("provider"), llm.ProviderConfig{
		APIKey:       req.APIKey,
		BaseURL:      req.BaseURL,
		ResourceName: req.ResourceName,
		Deployment:   req.Deployment,
		APIVersion:   req.APIVersion,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
