package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yanqian/sqlassistant/internal/domain/conversation"
)

const sessionContextKey = "conversation_session"

func setSession(c *gin.Context, session conversation.Session) {
	c.Set(sessionContextKey, session)
}

func getSession(c *gin.Context) (conversation.Session, bool) {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return conversation.Session{}, false
	}
	session, ok := value.(conversation.Session)
	return session, ok
}

// sessionMiddleware binds the visitor to a conversation via cookie, starting a new one
// when the cookie is missing, malformed or points at an expired session.
func sessionMiddleware(svc conversation.Service, cookieName string, ttl time.Duration) gin.HandlerFunc {
	maxAge := int(ttl.Seconds())
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if raw, err := c.Cookie(cookieName); err == nil {
			if id, err := uuid.Parse(raw); err == nil {
				session, found, err := svc.Resolve(ctx, id)
				if err != nil {
					abortWithError(c, fromAppError(err))
					return
				}
				if found {
					setSession(c, session)
					c.Next()
					return
				}
			}
		}

		session, err := svc.Start(ctx)
		if err != nil {
			abortWithError(c, fromAppError(err))
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cookieName, session.ID.String(), maxAge, "/", "", false, true)
		setSession(c, session)
		c.Next()
	}
}
