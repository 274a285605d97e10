package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/adforge-backend/internal/http/response"
	"github.com/yungbote/adforge-backend/internal/platform/ctxutil"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
)

// Claims issued by the upstream identity service.
type Claims struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies HS256 bearer tokens and attaches the caller
// identity to the request context. Tokens are issued elsewhere.
type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

func NewAuthMiddleware(log *logger.Logger, secret string) *AuthMiddleware {
	return &AuthMiddleware{
		log:    log.With("middleware", "AuthMiddleware"),
		secret: []byte(secret),
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing or invalid token"))
			c.Abort()
			return
		}
		rd, err := am.Parse(tokenString)
		if err != nil {
			am.log.Debug("rejected token", "error", err)
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("invalid token"))
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

// Parse validates tokenString and returns the identity it carries.
func (am *AuthMiddleware) Parse(tokenString string) (*ctxutil.RequestData, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return nil, fmt.Errorf("token subject is not a user id")
	}
	rd := &ctxutil.RequestData{TokenString: tokenString, UserID: userID}
	if claims.SessionID != "" {
		if sid, err := uuid.Parse(claims.SessionID); err == nil {
			rd.SessionID = sid
		}
	}
	return rd, nil
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	// EventSource cannot set headers.
	if c.Request.Method == http.MethodGet {
		return strings.TrimSpace(c.Query("token"))
	}
	return ""
}
