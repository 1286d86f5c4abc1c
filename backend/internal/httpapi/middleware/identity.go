package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims：会话服务器只关心 peer 是谁、叫什么。
// 登录/注册流程不在这个服务里，令牌是别处签好带过来的
type Claims struct {
	PeerID      string `json:"sub"`
	DisplayName string `json:"name"`
	Type        string `json:"typ"` // "access"
	jwt.RegisteredClaims
}

func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	// 锁死 HS256：keyfunc 返回的是 HMAC 密钥，不能让别的算法拿去用
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// Identity：从 Authorization 或 ?token= 提取令牌，本地验签，
// 把 peerId / displayName 写进 gin.Context。
// 浏览器 WebSocket 没法自定义 Header，所以必须兼容 query 传 token
func Identity(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		tokenString := extractBearer(c.Request.Header.Get("Authorization"))
		if tokenString == "" {
			tokenString = strings.TrimSpace(c.Query("token"))
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(401, gin.H{
				"code":    "NOT_AUTHENTICATED",
				"message": "Authorization header is missing or invalid",
			})
			return
		}

		claims, err := ParseToken(tokenString, key)
		if err != nil || claims.PeerID == "" {
			c.AbortWithStatusJSON(401, gin.H{
				"code":    "NOT_AUTHENTICATED",
				"message": "invalid token",
			})
			return
		}

		c.Set("peerId", claims.PeerID)
		c.Set("displayName", claims.DisplayName)
		c.Next()
	}
}
