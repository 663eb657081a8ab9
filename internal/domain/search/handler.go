package search

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinsync/clinsync/internal/platform/auth"
	"github.com/clinsync/clinsync/internal/platform/remote"
	"github.com/clinsync/clinsync/pkg/records"
)

type Handler struct {
	adapter *Adapter
}

func NewHandler(a *Adapter) *Handler {
	return &Handler{adapter: a}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "registrar", "physician", "nurse"))
	readGroup.GET("/patients/search", h.SearchPatients)
}

// SearchPatients answers from the remote service when reachable and from
// the local cache otherwise. The response names its source so the UI can
// flag possibly stale results.
func (h *Handler) SearchPatients(c echo.Context) error {
	term := c.QueryParam("term")
	kind := c.QueryParam("kind")
	if kind == "" {
		kind = records.KindName
	}

	result, err := h.adapter.Search(c.Request().Context(), term, kind)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
		}
		var se *remote.ServiceError
		if errors.As(err, &se) {
			return echo.NewHTTPError(se.StatusCode, se.Message)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}
