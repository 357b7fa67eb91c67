package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"multichat/chatapi"
	"multichat/config"
	"multichat/llmclient"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Completer produces a model reply. *llmclient.Client implements it.
type Completer interface {
	Chat(ctx context.Context, model string, messages []llmclient.Message) (string, error)
}

// BackendHandler serves POST /chat, the endpoint the chat client talks to. In
// echo mode the reply is the message itself; in upstream mode it comes from
// an OpenAI-compatible completions API.
type BackendHandler struct {
	mode   string
	llm    Completer
	logger *zap.Logger
}

// NewBackendHandler returns a handler for mode. llm may be nil in echo mode.
func NewBackendHandler(mode string, llm Completer, logger *zap.Logger) *BackendHandler {
	if mode != config.BackendModeUpstream || llm == nil {
		mode = config.BackendModeEcho
	}
	return &BackendHandler{mode: mode, llm: llm, logger: logger}
}

// Mode reports the mode the handler runs in.
func (h *BackendHandler) Mode() string { return h.mode }

func (h *BackendHandler) Chat(c *gin.Context) {
	var req chatapi.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Failed to bind backend chat request", zap.Error(err))
		respondWithClientError(c, http.StatusBadRequest, "Invalid request")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		respondWithClientError(c, http.StatusBadRequest, "Message cannot be empty")
		return
	}

	dataURL := ""
	if img := req.Image; img != nil {
		if !strings.HasPrefix(img.MIMEType, "image/") {
			respondWithClientError(c, http.StatusBadRequest, "Image must have an image/* type")
			return
		}
		if _, err := base64.StdEncoding.DecodeString(img.DataBase64); err != nil {
			respondWithClientError(c, http.StatusBadRequest, "Image data is not valid base64")
			return
		}
		dataURL = "data:" + img.MIMEType + ";base64," + img.DataBase64
	}

	if h.mode == config.BackendModeEcho {
		c.JSON(http.StatusOK, chatapi.Response{Reply: req.Message})
		return
	}

	messages := []llmclient.Message{llmclient.UserMessage(req.Message, dataURL)}
	reply, err := h.llm.Chat(c.Request.Context(), req.Model, messages)
	if err != nil {
		respondWithError(c, http.StatusBadGateway, err, "Upstream model request failed: "+err.Error(), h.logger,
			zap.String("model", req.Model),
			zap.Bool("has_image", dataURL != ""))
		return
	}

	c.JSON(http.StatusOK, chatapi.Response{Reply: reply})
}
