package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"captain/internal/services"
	"captain/internal/utils"
)

const defaultHistoryLimit = 100

type MessageHandler struct {
	chatService *services.ChatService
}

func NewMessageHandler(chatService *services.ChatService) *MessageHandler {
	return &MessageHandler{chatService: chatService}
}

// GetConversationMessages returns a conversation's persisted messages, oldest first.
func (h *MessageHandler) GetConversationMessages(c *gin.Context) {
	limit := int64(defaultHistoryLimit)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 || parsed > utils.MaxHistoryLimit {
			utils.BadRequestResponse(c, "Invalid limit")
			return
		}
		limit = parsed
	}

	messages, err := h.chatService.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "MESSAGES_FETCH_FAILED", "Failed to fetch messages")
		return
	}

	utils.SuccessResponse(c, "Messages retrieved successfully", messages)
}
