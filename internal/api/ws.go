package api

import (
	"github.com/gin-gonic/gin"
)

// handleObserverWS upgrades the request and hands the connection to the
// broadcaster, scoped to the authenticated owner's bots. The handler
// blocks for the lifetime of the observer.
func (s *Server) handleObserverWS(c *gin.Context) {
	user := currentUser(c)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		s.log.Debugf("websocket upgrade failed for owner %s: %v", user.ID, err)
		return
	}

	s.log.Debugf("observer connected for owner %s", user.ID)
	s.bc.ServeConn(c.Request.Context(), user.ID, conn)
	s.log.Debugf("observer disconnected for owner %s", user.ID)
}
