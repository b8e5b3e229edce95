package http

import (
	stderrors "errors"
	"net/http"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/pkg/errors"
	"studyroom/pkg/validation"

	"github.com/gin-gonic/gin"
)

type RoomHandler struct {
	registry    ports.RoomRegistry
	streaks     ports.StreakEngine
	maxCapacity int
}

func NewRoomHandler(registry ports.RoomRegistry, streaks ports.StreakEngine, maxCapacity int) *RoomHandler {
	return &RoomHandler{
		registry:    registry,
		streaks:     streaks,
		maxCapacity: maxCapacity,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/rooms", h.CreateRoom)
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
		api.GET("/rooms/:id/participants", h.GetParticipants)
		api.GET("/users/:id/streak", h.GetStreak)
	}
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
		IsPublic    bool   `json:"is_public"`
		Capacity    int    `json:"capacity"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validation.ValidateRoomName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Capacity != 0 {
		if err := validation.ValidateCapacity(req.Capacity, h.maxCapacity); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	room, err := h.registry.CreateRoom(c.Request.Context(), req.Name, req.Description, req.IsPublic, req.Capacity)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to create room", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"room": roomView(room),
	})
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	publicOnly := c.Query("public") != "false"

	rooms, err := h.registry.ListRooms(c.Request.Context(), publicOnly)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to list rooms", http.StatusInternalServerError))
		return
	}

	views := make([]gin.H, 0, len(rooms))
	for _, room := range rooms {
		views = append(views, roomView(room))
	}

	c.JSON(http.StatusOK, gin.H{
		"rooms": views,
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateRoomID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.registry.GetRoom(c.Request.Context(), domain.RoomID(id))
	if err != nil {
		if stderrors.Is(err, domain.ErrRoomNotFound) {
			c.Error(errors.NewRoomNotFoundError())
			return
		}
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to load room", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room": roomView(room),
	})
}

func (h *RoomHandler) GetParticipants(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateRoomID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	participants, err := h.registry.Participants(c.Request.Context(), domain.RoomID(id))
	if err != nil {
		if stderrors.Is(err, domain.ErrRoomNotFound) {
			c.Error(errors.NewRoomNotFoundError())
			return
		}
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to load participants", http.StatusInternalServerError))
		return
	}

	views := make([]gin.H, 0, len(participants))
	for _, p := range participants {
		views = append(views, gin.H{
			"user_id":   p.UserID,
			"video_on":  p.VideoOn,
			"audio_on":  p.AudioOn,
			"is_host":   p.IsHost,
			"x":         p.X,
			"y":         p.Y,
			"joined_at": p.JoinedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"participants": views,
	})
}

func (h *RoomHandler) GetStreak(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateUserID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.streaks.Get(c.Request.Context(), domain.UserID(id))
	if err != nil {
		if stderrors.Is(err, domain.ErrStreakNotFound) {
			// A user with no study history has a zero streak, not a 404.
			c.JSON(http.StatusOK, gin.H{
				"streak": gin.H{
					"user_id": id,
					"current": 0,
					"longest": 0,
				},
			})
			return
		}
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to load streak", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"streak": gin.H{
			"user_id":       state.UserID,
			"current":       state.Current,
			"longest":       state.Longest,
			"last_study_at": state.LastStudyAt,
		},
	})
}

func roomView(room *domain.Room) gin.H {
	return gin.H{
		"id":          room.ID,
		"name":        room.Name,
		"description": room.Description,
		"is_public":   room.IsPublic,
		"capacity":    room.Capacity,
		"occupancy":   room.Occupancy,
		"active":      room.Active,
		"created_at":  room.CreatedAt,
	}
}
