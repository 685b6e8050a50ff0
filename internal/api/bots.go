package api

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/minedeck/minedeck/internal/botname"
	"github.com/minedeck/minedeck/internal/domain"
	"github.com/minedeck/minedeck/internal/store"
	"github.com/minedeck/minedeck/internal/supervisor"
)

var serverAddressRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,253}$`)

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

type createBotRequest struct {
	Name          string `json:"name"`
	ServerAddress string `json:"server_address"`
	ServerPort    *int   `json:"server_port"`
	GameVersion   string `json:"game_version"`
	Behavior      string `json:"behavior"`
	AutoReconnect bool   `json:"auto_reconnect"`
	RecordChat    bool   `json:"record_chat"`
}

type updateBotRequest struct {
	Name          *string `json:"name"`
	ServerAddress *string `json:"server_address"`
	ServerPort    *int    `json:"server_port"`
	GameVersion   *string `json:"game_version"`
	Behavior      *string `json:"behavior"`
	AutoReconnect *bool   `json:"auto_reconnect"`
	RecordChat    *bool   `json:"record_chat"`
}

// ownedBot loads the bot from the :id param and enforces ownership.
// Writes the error response itself and returns nil when the caller
// should bail out.
func (s *Server) ownedBot(c *gin.Context) *domain.Bot {
	bot, err := s.store.GetBot(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "bot not found")
		} else {
			writeError(c, http.StatusServiceUnavailable, "store unavailable")
		}
		return nil
	}
	if bot.OwnerID != currentUser(c).ID {
		writeError(c, http.StatusForbidden, "forbidden")
		return nil
	}
	return bot
}

func (s *Server) handleBotsList(c *gin.Context) {
	bots, err := s.store.GetBots(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if bots == nil {
		bots = []*domain.Bot{}
	}
	c.JSON(http.StatusOK, bots)
}

func (s *Server) handleBotsCreate(c *gin.Context) {
	user := currentUser(c)

	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}

	req.ServerAddress = strings.TrimSpace(req.ServerAddress)
	if !serverAddressRe.MatchString(req.ServerAddress) {
		writeError(c, http.StatusBadRequest, "invalid server address")
		return
	}
	port := domain.DefaultServerPort
	if req.ServerPort != nil {
		port = *req.ServerPort
	}
	if !validPort(port) {
		writeError(c, http.StatusBadRequest, "server port must be between 1 and 65535")
		return
	}
	behavior := domain.BehaviorPassive
	switch domain.BotBehavior(req.Behavior) {
	case "", domain.BehaviorPassive:
	case domain.BehaviorActive:
		behavior = domain.BehaviorActive
	default:
		writeError(c, http.StatusBadRequest, "behavior must be passive or active")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = botname.Random()
	}
	version := strings.TrimSpace(req.GameVersion)
	if version == "" {
		version = domain.DefaultGameVersion
	}

	ctx := c.Request.Context()
	existing, err := s.store.GetBots(ctx, user.ID)
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if max := domain.MaxBotsFor(user); len(existing) >= max {
		c.JSON(http.StatusForbidden, gin.H{
			"message":       "bot limit reached",
			"limit":         max,
			"needs_premium": !user.IsPremium,
		})
		return
	}

	now := time.Now()
	bot := &domain.Bot{
		ID:            uuid.NewString(),
		OwnerID:       user.ID,
		Name:          name,
		ServerAddress: req.ServerAddress,
		ServerPort:    port,
		GameVersion:   version,
		Behavior:      behavior,
		AutoReconnect: req.AutoReconnect,
		RecordChat:    req.RecordChat,
		Status:        domain.StatusDisconnected,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateBot(ctx, bot); err != nil {
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	s.bc.BotsChanged(user.ID)
	c.JSON(http.StatusCreated, bot)
}

func (s *Server) handleBotGet(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) handleBotUpdate(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}
	// Config is immutable while a connection handle exists.
	if s.sup.IsActive(bot.ID) {
		writeError(c, http.StatusConflict, "disconnect the bot before updating it")
		return
	}

	var req updateBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ServerAddress != nil && !serverAddressRe.MatchString(strings.TrimSpace(*req.ServerAddress)) {
		writeError(c, http.StatusBadRequest, "invalid server address")
		return
	}
	if req.ServerPort != nil && !validPort(*req.ServerPort) {
		writeError(c, http.StatusBadRequest, "server port must be between 1 and 65535")
		return
	}
	var behavior *domain.BotBehavior
	if req.Behavior != nil {
		b := domain.BotBehavior(*req.Behavior)
		if b != domain.BehaviorPassive && b != domain.BehaviorActive {
			writeError(c, http.StatusBadRequest, "behavior must be passive or active")
			return
		}
		behavior = &b
	}

	updated, err := s.store.UpdateBot(c.Request.Context(), bot.ID, store.BotUpdate{
		Name:          req.Name,
		ServerAddress: req.ServerAddress,
		ServerPort:    req.ServerPort,
		GameVersion:   req.GameVersion,
		Behavior:      behavior,
		AutoReconnect: req.AutoReconnect,
		RecordChat:    req.RecordChat,
	})
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	s.bc.BotsChanged(bot.OwnerID)
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleBotDelete(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}

	// A connected bot is disconnected first, matching the dashboard's
	// delete semantics.
	if s.sup.IsActive(bot.ID) {
		if err := s.sup.Disconnect(c.Request.Context(), bot.ID); err != nil {
			s.log.Warnf("disconnect before delete of %s: %v", bot.ID, err)
		}
	}
	if err := s.sup.Release(bot.ID); err != nil {
		writeError(c, http.StatusConflict, "bot is still active")
		return
	}
	if _, err := s.store.DeleteBot(c.Request.Context(), bot.ID); err != nil {
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	s.bc.BotsChanged(bot.OwnerID)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleBotConnect(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}

	if err := s.sup.Connect(c.Request.Context(), bot.ID); err != nil {
		switch {
		case errors.Is(err, supervisor.ErrAlreadyActive):
			writeError(c, http.StatusBadRequest, "bot is already connected or connecting")
		case errors.Is(err, supervisor.ErrNotFound):
			writeError(c, http.StatusNotFound, "bot not found")
		default:
			writeError(c, http.StatusServiceUnavailable, "store unavailable")
		}
		return
	}

	updated, _ := s.store.GetBot(c.Request.Context(), bot.ID)
	if updated == nil {
		updated = bot
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleBotDisconnect(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}

	if err := s.sup.Disconnect(c.Request.Context(), bot.ID); err != nil {
		if errors.Is(err, supervisor.ErrNotActive) {
			writeError(c, http.StatusBadRequest, "bot is not connected")
			return
		}
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	updated, _ := s.store.GetBot(c.Request.Context(), bot.ID)
	if updated == nil {
		updated = bot
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleBotStatus(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}

	st, live, err := s.sup.Status(c.Request.Context(), bot.ID)
	if err != nil {
		if errors.Is(err, supervisor.ErrNotFound) {
			writeError(c, http.StatusNotFound, "bot not found")
			return
		}
		writeError(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	resp := gin.H{"status": st.Status, "error": st.Error}
	if live.Online {
		resp["online"] = true
		resp["player_count"] = live.PlayerCount
		if live.Position != nil {
			resp["position"] = live.Position
		}
	} else {
		resp["online"] = false
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleBotPlayers(c *gin.Context) {
	bot := s.ownedBot(c)
	if bot == nil {
		return
	}

	players, err := s.sup.Players(bot.ID)
	if err != nil {
		writeError(c, http.StatusBadRequest, "bot is not connected")
		return
	}
	if players == nil {
		players = []string{}
	}
	c.JSON(http.StatusOK, players)
}
