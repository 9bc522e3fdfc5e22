package server

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/hub"
	"github.com/Sharif2023/StudyNest-sub001/internal/logging"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type RoomResponse struct {
	ID           string                     `json:"id"`
	CreatedAt    time.Time                  `json:"created_at"`
	Occupancy    int                        `json:"occupancy"`
	Participants []protocol.ParticipantInfo `json:"participants"`
}

func roomToApi(r hub.RoomInfo) RoomResponse {
	return RoomResponse{
		ID:           r.ID,
		CreatedAt:    r.CreatedAt,
		Occupancy:    len(r.Participants),
		Participants: r.Participants,
	}
}

// RoomController serves the websocket endpoint and the room directory.
type RoomController struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewRoomController(h *hub.Hub, allowedOrigins []string, log *slog.Logger) *RoomController {
	return &RoomController{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		log: log,
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// ServeWs upgrades the request and hands the connection to the hub.
func (c *RoomController) ServeWs(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Warn("failed to upgrade connection", logging.Err(err))
		return
	}
	hub.NewClient(c.hub, conn).Serve()
}

func (c *RoomController) ListRooms(ctx *gin.Context) {
	rooms, err := c.hub.Snapshot(ctx.Request.Context())
	if err != nil {
		c.fail(ctx, err)
		return
	}

	out := make([]RoomResponse, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomToApi(r))
	}
	ctx.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (c *RoomController) GetRoom(ctx *gin.Context) {
	room, ok, err := c.hub.Room(ctx.Request.Context(), ctx.Param("roomID"))
	if err != nil {
		c.fail(ctx, err)
		return
	}
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": roomToApi(room)})
}

func (c *RoomController) ListParticipants(ctx *gin.Context) {
	room, ok, err := c.hub.Room(ctx.Request.Context(), ctx.Param("roomID"))
	if err != nil {
		c.fail(ctx, err)
		return
	}
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"participants": room.Participants})
}

func (c *RoomController) fail(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, hub.ErrStopped) {
		status = http.StatusServiceUnavailable
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}
