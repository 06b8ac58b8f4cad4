package auth

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"caskwatch/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Handler 提供登录接口与 JWT 签发。
type Handler struct {
	db        *gorm.DB
	jwtSecret []byte
	logger    *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(db *gorm.DB, jwtSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		db:        db,
		jwtSecret: []byte(jwtSecret),
		logger:    logger,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type customClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Login 校验用户并返回 JWT。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	var user model.User
	if err := h.db.Where("email = ?", email).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.issueToken(user.ID, user.Role)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	if h.logger != nil {
		h.logger.Info("user logged in", slog.String("email", email), slog.String("role", user.Role))
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token})
}

func (h *Handler) issueToken(userID uint, role string) (string, error) {
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}
