package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docchat/internal/models"
	"docchat/internal/relay"
	"docchat/internal/service/ai"
	"docchat/internal/service/catalog"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Parts   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"parts"`
}

// text returns Content, falling back to the concatenated text parts.
func (m chatMessage) text() string {
	if m.Content != "" {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == "" || p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
	ChatID   string        `json:"chatId"`
}

// chat runs one turn and streams the reply as plain text. The chat id is
// sent in a header so new chats can be resumed.
func (h *Handler) chat(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing messages"})
		return
	}

	messages := make([]ai.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := models.Role(strings.ToLower(m.Role))
		if role != models.RoleAssistant && role != models.RoleSystem {
			role = models.RoleUser
		}
		messages = append(messages, ai.Message{Role: role, Content: m.text()})
	}

	ctx := c.Request.Context()
	turn, err := h.relay.Begin(ctx, relay.TurnRequest{
		OwnerID:  ownerID,
		ChatID:   strings.TrimSpace(req.ChatID),
		Messages: messages,
	})
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrNoMessages):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing messages"})
		case errors.Is(err, catalog.ErrChatNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		default:
			h.log.Error("begin chat turn", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error", "details": err.Error()})
		}
		return
	}

	c.Header(ChatIDHeader, turn.ChatID())
	wrote := false
	w := relay.ChunkWriterFunc(func(chunk string) error {
		if !wrote {
			c.Header("Content-Type", "text/plain; charset=utf-8")
			c.Header("Cache-Control", "no-cache")
			c.Header("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
			wrote = true
		}
		if _, err := c.Writer.WriteString(chunk); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})

	if err := turn.Stream(ctx, w); err != nil {
		if wrote {
			// Headers are already sent; the client sees a truncated reply.
			h.log.Warn("chat stream ended early", "chat_id", turn.ChatID(), "error", err)
			return
		}
		h.log.Error("chat turn failed", "chat_id", turn.ChatID(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error", "details": err.Error()})
	}
}

func (h *Handler) listChats(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}
	chats, err := h.catalog.ListChats(c.Request.Context(), ownerID, c.Query("query"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if chats == nil {
		chats = make([]models.Chat, 0)
	}
	c.JSON(http.StatusOK, chats)
}

func (h *Handler) createChat(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = relay.DefaultTitle
	}
	chat, err := h.catalog.CreateChat(c.Request.Context(), ownerID, title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *Handler) getChat(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}
	chatID := c.Param("chatId")
	if _, err := h.catalog.GetChat(c.Request.Context(), ownerID, chatID); err != nil {
		if errors.Is(err, catalog.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	messages, err := h.catalog.ListMessages(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = make([]models.Message, 0)
	}
	c.JSON(http.StatusOK, messages)
}

func (h *Handler) deleteChat(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteChat(c.Request.Context(), ownerID, c.Param("chatId")); err != nil {
		if errors.Is(err, catalog.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
