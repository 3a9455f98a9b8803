package middleware

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/richxcame/store-loyalty/pkg/common"
)

// Roles carried in the token. The core only needs to know which entity is calling.
const (
	RoleStore    = "store"
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

const (
	userIDKey   = "user_id"
	userRoleKey = "user_role"
)

// Claims are the JWT claims issued by the identity service
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates the bearer token and stores the caller identity in the context
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			common.AppErrorResponse(c, common.NewUnauthorizedError("authorization header required"))
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			common.AppErrorResponse(c, common.NewUnauthorizedError("invalid authorization header format"))
			c.Abort()
			return
		}

		claims, err := ParseToken(parts[1], jwtSecret)
		if err != nil {
			common.AppErrorResponse(c, common.NewUnauthorizedError("invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(userRoleKey, claims.Role)
		c.Next()
	}
}

// ParseToken validates an HS256 token and returns its claims
func ParseToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID <= 0 {
		return nil, errors.New("token has no user id")
	}
	switch claims.Role {
	case RoleStore, RoleCustomer, RoleAdmin:
	default:
		return nil, errors.New("token has unknown role")
	}
	return claims, nil
}

// GenerateToken signs claims for the given entity, used by tests and local tooling
func GenerateToken(userID int64, role, secret string) (string, error) {
	claims := Claims{
		UserID: userID,
		Role:   role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RequireRole rejects callers whose role is not in roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := GetUserRole(c)
		if err != nil {
			common.AppErrorResponse(c, common.NewUnauthorizedError("unauthorized"))
			c.Abort()
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		common.AppErrorResponse(c, common.NewForbiddenError("insufficient permissions"))
		c.Abort()
	}
}

// RequireSelf rejects callers that are not the entity named by the path parameter.
// Admins pass unless adminAllowed is false.
func RequireSelf(role, param string, adminAllowed bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		callerID, err := GetUserID(c)
		if err != nil {
			common.AppErrorResponse(c, common.NewUnauthorizedError("unauthorized"))
			c.Abort()
			return
		}
		callerRole, _ := GetUserRole(c)
		if callerRole == RoleAdmin && adminAllowed {
			c.Next()
			return
		}

		id, err := strconv.ParseInt(c.Param(param), 10, 64)
		if err != nil || callerRole != role || id != callerID {
			common.AppErrorResponse(c, common.NewForbiddenError("insufficient permissions"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated entity id
func GetUserID(c *gin.Context) (int64, error) {
	v, exists := c.Get(userIDKey)
	if !exists {
		return 0, errors.New("user id not found in context")
	}
	id, ok := v.(int64)
	if !ok {
		return 0, errors.New("invalid user id type")
	}
	return id, nil
}

// GetUserRole returns the authenticated entity role
func GetUserRole(c *gin.Context) (string, error) {
	v, exists := c.Get(userRoleKey)
	if !exists {
		return "", errors.New("user role not found in context")
	}
	role, ok := v.(string)
	if !ok {
		return "", errors.New("invalid user role type")
	}
	return role, nil
}
