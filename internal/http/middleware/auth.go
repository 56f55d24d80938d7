package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/neurobridge-struggle/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-struggle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

const roleService = "service"

// Claims are issued by the learning platform. Subject is the learner id.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

func LoadAuthConfigFromEnv() AuthConfig {
	return AuthConfig{
		Secret:   envutil.String("AUTH_JWT_SECRET", ""),
		Issuer:   envutil.String("AUTH_JWT_ISSUER", ""),
		Audience: envutil.String("AUTH_JWT_AUDIENCE", ""),
	}
}

func (c AuthConfig) Enabled() bool { return c.Secret != "" }

type AuthMiddleware struct {
	log    *logger.Logger
	cfg    AuthConfig
	parser *jwt.Parser
}

func NewAuthMiddleware(log *logger.Logger, cfg AuthConfig) *AuthMiddleware {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &AuthMiddleware{
		log:    log.With("Middleware", "AuthMiddleware"),
		cfg:    cfg,
		parser: jwt.NewParser(opts...),
	}
}

// Verify parses a bearer token into a principal.
func (am *AuthMiddleware) Verify(token string) (*ctxutil.Principal, error) {
	claims := &Claims{}
	_, err := am.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(am.cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims.TenantID == "" {
		return nil, errors.New("token has no tenant")
	}
	p := &ctxutil.Principal{TenantID: claims.TenantID, LearnerID: claims.Subject, Service: claims.Role == roleService}
	if !p.Service && p.LearnerID == "" {
		return nil, errors.New("token has no subject")
	}
	return p, nil
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractTokenFromAll(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		p, err := am.Verify(tokenString)
		if err != nil {
			am.log.Debug("token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// EventSource cannot set headers, so the stream route also accepts ?token=.
func extractTokenFromAll(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
