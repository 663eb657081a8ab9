package registration

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinsync/clinsync/internal/platform/auth"
	"github.com/clinsync/clinsync/internal/platform/middleware"
	"github.com/clinsync/clinsync/internal/platform/remote"
	"github.com/clinsync/clinsync/internal/platform/store"
	"github.com/clinsync/clinsync/pkg/pagination"
	"github.com/clinsync/clinsync/pkg/records"
)

// Drainer triggers an on-demand outbox drain. Implemented by the sync
// reconciler.
type Drainer interface {
	Drain(ctx context.Context) (synced int, err error)
}

type Handler struct {
	coordinator *Coordinator
	outbox      *Outbox
	drainer     Drainer
}

func NewHandler(c *Coordinator, o *Outbox, d Drainer) *Handler {
	return &Handler{coordinator: c, outbox: o, drainer: d}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	writeGroup := api.Group("", auth.RequireRole("admin", "registrar"))
	writeGroup.POST("/registrations", h.SubmitRegistration)
	writeGroup.POST("/outbox/drain", h.DrainOutbox)

	readGroup := api.Group("", auth.RequireRole("admin", "registrar", "physician", "nurse"))
	readGroup.GET("/outbox", h.ListOutbox)
	readGroup.GET("/outbox/:key", h.GetOutboxEntry)
	readGroup.GET("/outbox/:key/resolution", h.ResolveOutboxEntry)
}

// SubmitRegistration runs one registration attempt. Every outcome maps
// to a distinct status code and message: the UI must be able to tell
// "registered remotely" from "saved on this device" from "lost".
func (h *Handler) SubmitRegistration(c echo.Context) error {
	var in SubmitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.coordinator.Submit(c.Request().Context(), in)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
		}
		var de *DuplicateConsultationError
		if errors.As(err, &de) {
			return echo.NewHTTPError(http.StatusConflict, "Duplicate Consultation: "+de.Error())
		}
		if errors.Is(err, ErrSubmissionInFlight) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		var se *remote.ServiceError
		if errors.As(err, &se) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, se.Message)
		}
		var ste *store.StorageError
		if errors.As(err, &ste) {
			logger := middleware.FromContext(c)
			logger.Error().Err(ste).Msg("registration lost: local store write failed")
			return echo.NewHTTPError(http.StatusInternalServerError,
				"The registration could not be saved on this device and was NOT recorded anywhere. Please retry.")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	switch result.Status {
	case StatusRegistered:
		return c.JSON(http.StatusCreated, result)
	case StatusQueuedOffline:
		return c.JSON(http.StatusAccepted, result)
	default:
		// Near-match confirmation required.
		return c.JSON(http.StatusOK, result)
	}
}

func (h *Handler) ListOutbox(c echo.Context) error {
	entries, err := h.outbox.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	pg := pagination.FromContext(c)
	total := len(entries)
	start := pg.Offset
	if start > total {
		start = total
	}
	end := start + pg.Limit
	if end > total {
		end = total
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries[start:end], total, pg))
}

func (h *Handler) GetOutboxEntry(c echo.Context) error {
	entry, err := h.outbox.Get(c.Request().Context(), c.Param("key"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "outbox entry not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entry)
}

// ResolveOutboxEntry reports whether a temporary offline id has been
// exchanged for a server-issued one. The UI polls it to upgrade
// references it handed out while the entry was still queued.
func (h *Handler) ResolveOutboxEntry(c echo.Context) error {
	key := c.Param("key")
	if !records.IsOfflineID(key) {
		return echo.NewHTTPError(http.StatusBadRequest, "not a temporary offline id")
	}

	serverID, err := h.outbox.ResolveID(c.Request().Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusOK, map[string]interface{}{"id": key, "synced": false})
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":          key,
		"resolved_id": serverID,
		"synced":      true,
	})
}

func (h *Handler) DrainOutbox(c echo.Context) error {
	synced, err := h.drainer.Drain(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"synced": synced})
}
