package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/roomcode"
	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/store"
	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/ws"
)

// maxCodeAttempts bounds how often room creation retries on a generated-code
// collision before giving up with a 500.
const maxCodeAttempts = 10

type API struct {
	hub   *ws.Hub
	store *store.Store
}

func New(hub *ws.Hub, st *store.Store) *API {
	return &API{
		hub:   hub,
		store: st,
	}
}

// Register mounts all REST routes on the engine.
func (a *API) Register(r *gin.Engine) {
	r.GET("/health", a.Health)
	r.GET("/api/stats", a.Stats)

	rooms := r.Group("/api/rooms")
	rooms.POST("/join", a.JoinRoom)
	rooms.POST("/create", a.CreateRoom)
	rooms.GET("/:roomId", a.GetRoom)
	rooms.GET("/:roomId/stats", a.RoomStats)
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Stats(c *gin.Context) {
	stats := gin.H{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	dbStats, err := a.store.GetStats()
	if err == nil {
		stats["total_rooms"] = dbStats["room_count"]
	}

	c.JSON(http.StatusOK, stats)
}

type joinRoomRequest struct {
	RoomID string `json:"roomId"`
}

// JoinRoom finds or creates a room record for the given id. Creation is a
// single conditional insert, so two racing joins for the same id resolve at
// the store instead of with a check-then-write.
func (a *API) JoinRoom(c *gin.Context) {
	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Room ID is required"})
		return
	}

	roomID := roomcode.Normalize(req.RoomID)
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Room ID is required"})
		return
	}

	created, err := a.store.CreateRoom(roomID)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if !created {
		if err := a.store.Touch(roomID); err != nil {
			log.Warn().Err(err).Str("room", roomID).Msg("failed to touch room")
		}
	}

	room, err := a.store.GetRoom(roomID)
	if err != nil || room == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"roomId":         room.ID,
		"created":        created,
		"hasDrawingData": room.HasDrawingData(),
	})
}

// CreateRoom makes a room with a freshly generated code, retrying on the
// rare collision with an existing code.
func (a *API) CreateRoom(c *gin.Context) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		roomID := roomcode.Generate()

		created, err := a.store.CreateRoom(roomID)
		if err != nil {
			log.Error().Err(err).Str("room", roomID).Msg("failed to create room")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if created {
			c.JSON(http.StatusOK, gin.H{
				"roomId":  roomID,
				"created": true,
			})
			return
		}
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not generate unique room code"})
}

func (a *API) GetRoom(c *gin.Context) {
	roomID := roomcode.Normalize(c.Param("roomId"))

	room, err := a.store.GetRoom(roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	if err := a.store.Touch(roomID); err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("failed to touch room")
	}

	c.JSON(http.StatusOK, gin.H{
		"roomId":              room.ID,
		"createdAt":           room.CreatedAt,
		"lastActivity":        room.LastActivity,
		"hasDrawingData":      room.HasDrawingData(),
		"drawingCommandCount": room.CommandCount(),
	})
}

func (a *API) RoomStats(c *gin.Context) {
	roomID := roomcode.Normalize(c.Param("roomId"))

	room, err := a.store.GetRoom(roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	now := time.Now()
	c.JSON(http.StatusOK, gin.H{
		"roomId":               room.ID,
		"createdAt":            room.CreatedAt,
		"lastActivity":         room.LastActivity,
		"totalDrawingCommands": room.CommandCount(),
		"activeUsers":          a.hub.GetActiveRooms()[roomID],
		"roomAgeMs":            now.Sub(room.CreatedAt).Milliseconds(),
		"lastActiveAgoMs":      now.Sub(room.LastActivity).Milliseconds(),
	})
}
