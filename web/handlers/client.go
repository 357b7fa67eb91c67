package handlers

import (
	"errors"
	"io"
	"net/http"

	"multichat/catalog"
	"multichat/dispatch"
	"multichat/web/format"
	"multichat/web/middleware"
	"multichat/web/services"
	"multichat/web/types"
	"multichat/web/views"

	"github.com/a-h/templ"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ClientHandler serves the chat client of the workspace that belongs to the
// calling browser.
type ClientHandler struct {
	workspaces *services.WorkspaceService
	catalog    *catalog.Catalog
	renderer   *format.Renderer
	stream     *services.StreamService
	logger     *zap.Logger
}

type createSessionRequest struct {
	Model string `json:"model"`
}

type composerRequest struct {
	Text  *string `json:"text"`
	Model *string `json:"model"`
}

type sendRequest struct {
	Text *string `json:"text"`
}

func NewClientHandler(workspaces *services.WorkspaceService, cat *catalog.Catalog, renderer *format.Renderer, stream *services.StreamService, logger *zap.Logger) *ClientHandler {
	return &ClientHandler{
		workspaces: workspaces,
		catalog:    cat,
		renderer:   renderer,
		stream:     stream,
		logger:     logger,
	}
}

// bindOptionalJSON decodes the body into obj when there is one. Bodies of
// unknown length (chunked) are read too; an empty body leaves obj untouched.
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *ClientHandler) controller(c *gin.Context) *dispatch.Controller {
	clientID := c.GetString(middleware.ClientKey)
	return h.workspaces.Get(clientID).Controller
}

func (h *ClientHandler) view(ctrl *dispatch.Controller) types.StateView {
	return types.NewStateView(ctrl.State(), h.catalog, h.renderer.Render)
}

// respondState writes the workspace state. For a failure the error message
// is included at the top level as well.
func (h *ClientHandler) respondState(c *gin.Context, status int, ctrl *dispatch.Controller, err error) {
	view := h.view(ctrl)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error(), "state": view})
		return
	}
	c.JSON(status, gin.H{"state": view})
}

func (h *ClientHandler) render(c *gin.Context, component templ.Component) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := component.Render(c.Request.Context(), c.Writer); err != nil {
		h.logger.Error("Failed to render page", zap.Error(err))
	}
}

func (h *ClientHandler) Index(c *gin.Context) {
	h.render(c, views.Page(h.view(h.controller(c))))
}

// Fragment renders the app body alone; the page swaps it in on every event.
func (h *ClientHandler) Fragment(c *gin.Context) {
	h.render(c, views.App(h.view(h.controller(c))))
}

func (h *ClientHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":  h.catalog.Models(),
		"default": h.catalog.Default().ID,
	})
}

func (h *ClientHandler) State(c *gin.Context) {
	h.respondState(c, http.StatusOK, h.controller(c), nil)
}

func (h *ClientHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Invalid request")
		return
	}

	ctrl := h.controller(c)
	ref, err := ctrl.CreateSession(req.Model)
	if err != nil {
		h.respondState(c, statusFor(err), ctrl, err)
		return
	}

	h.logger.Info("Chat created",
		zap.String("client_id", c.GetString(middleware.ClientKey)),
		zap.String("session_id", ref.ID),
		zap.String("model", ref.ModelID))
	h.respondState(c, http.StatusCreated, ctrl, nil)
}

func (h *ClientHandler) SelectSession(c *gin.Context) {
	ctrl := h.controller(c)
	if err := ctrl.SelectSession(c.Param("id")); err != nil {
		h.respondState(c, statusFor(err), ctrl, err)
		return
	}
	h.respondState(c, http.StatusOK, ctrl, nil)
}

func (h *ClientHandler) UpdateComposer(c *gin.Context) {
	var req composerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Invalid request")
		return
	}

	ctrl := h.controller(c)
	if req.Text != nil {
		ctrl.SetText(*req.Text)
	}
	if req.Model != nil {
		if err := ctrl.SelectModel(*req.Model); err != nil {
			h.respondState(c, statusFor(err), ctrl, err)
			return
		}
	}
	h.respondState(c, http.StatusOK, ctrl, nil)
}

func (h *ClientHandler) UploadAttachment(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		respondWithClientError(c, http.StatusBadRequest, "No file uploaded")
		return
	}

	ctrl := h.controller(c)
	if err := ctrl.AttachUpload(file); err != nil {
		h.respondState(c, statusFor(err), ctrl, err)
		return
	}
	h.respondState(c, http.StatusOK, ctrl, nil)
}

func (h *ClientHandler) RemoveAttachment(c *gin.Context) {
	ctrl := h.controller(c)
	ctrl.RemoveAttachment()
	h.respondState(c, http.StatusOK, ctrl, nil)
}

// Send submits the composer. Text in the body replaces the composer text
// first. With ?wait=true the response is held until the reply is routed.
func (h *ClientHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "Invalid request")
		return
	}

	ctrl := h.controller(c)
	if req.Text != nil {
		ctrl.SetText(*req.Text)
	}

	d, err := ctrl.Submit(c.Request.Context())
	if err != nil {
		h.respondState(c, statusFor(err), ctrl, err)
		return
	}
	if d == nil {
		// blank text or a send already in flight
		h.respondState(c, http.StatusOK, ctrl, nil)
		return
	}

	if c.Query("wait") != "true" {
		h.respondState(c, http.StatusAccepted, ctrl, nil)
		return
	}

	if err := d.Wait(c.Request.Context()); err != nil {
		h.respondState(c, statusFor(err), ctrl, err)
		return
	}
	h.respondState(c, http.StatusOK, ctrl, nil)
}

func (h *ClientHandler) DismissError(c *gin.Context) {
	ctrl := h.controller(c)
	ctrl.ClearError()
	h.respondState(c, http.StatusOK, ctrl, nil)
}

// Events streams change notifications for the caller's workspace.
func (h *ClientHandler) Events(c *gin.Context) {
	ctrl := h.controller(c)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if err := h.stream.StreamEvents(c.Request.Context(), c.Writer, ctrl.Store()); err != nil {
		h.logger.Debug("Event stream ended", zap.Error(err))
	}
}
