package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/crawlupload/internal/common"
	"github.com/dmitrijs2005/crawlupload/internal/server/auth"
	"github.com/dmitrijs2005/crawlupload/internal/server/models"
)

const (
	userKey = "user"
	orgKey  = "org"
)

func (s *Server) claims(c *gin.Context) (*auth.Claims, error) {
	header := c.GetHeader(common.AccessTokenHeaderName)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, common.ErrorUnauthorized
	}
	return auth.ParseToken(token, s.jwtSecret)
}

// authenticate resolves the caller from the bearer token and authorizes the
// :oid path parameter against the token's orgs.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := s.claims(c)
		if err != nil {
			abortWithError(c, err)
			return
		}

		org, err := claims.Org(c.Param("oid"))
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(userKey, claims.User())
		c.Set(orgKey, org)
		c.Next()
	}
}

// authenticateSuperuser admits only superusers. Routes behind it are not
// scoped to an org.
func (s *Server) authenticateSuperuser() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := s.claims(c)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if !claims.Superuser {
			abortWithError(c, common.ErrorForbidden)
			return
		}

		c.Set(userKey, claims.User())
		c.Next()
	}
}

// admit limits how many uploads run at once. A request waits for a slot
// until its context is done.
func (s *Server) admit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.admission.Acquire(c.Request.Context(), 1); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "too_many_uploads"})
			return
		}
		defer s.admission.Release(1)
		c.Next()
	}
}

func caller(c *gin.Context) (models.Organization, models.User) {
	return c.MustGet(orgKey).(models.Organization), c.MustGet(userKey).(models.User)
}
