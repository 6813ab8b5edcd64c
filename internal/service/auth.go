package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/repository"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// AuthService 负责用户注册、登录以及 token 的签发与校验。
type AuthService struct {
	userRepo    repository.UserRepository
	jwtSecret   []byte          // 存储密钥的字节形式
	jwtExpiry   time.Duration   // JWT 过期时间
	adminEmails map[string]bool // 注册时获得 admin 角色的邮箱（小写）
}

// NewAuthService 创建 AuthService 实例。
// jwtSecretKey 应从安全配置中获取，jwtExpiryHours 定义 token 过期的小时数。
func NewAuthService(userRepo repository.UserRepository, jwtSecretKey string, jwtExpiryHours int, adminEmails []string) (*AuthService, error) {
	if userRepo == nil {
		panic("UserRepository cannot be nil for AuthService")
	}
	if jwtSecretKey == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	if jwtExpiryHours <= 0 {
		jwtExpiryHours = 24 // 默认 24 小时
	}
	admins := make(map[string]bool, len(adminEmails))
	for _, email := range adminEmails {
		if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
			admins[e] = true
		}
	}
	return &AuthService{
		userRepo:    userRepo,
		jwtSecret:   []byte(jwtSecretKey),
		jwtExpiry:   time.Duration(jwtExpiryHours) * time.Hour,
		adminEmails: admins,
	}, nil
}

// Register 处理用户注册。邮箱在管理员名单中的用户获得 admin 角色。
func (s *AuthService) Register(ctx context.Context, username, password, email, displayName string) (*domain.User, error) {
	logCtx := logrus.WithFields(logrus.Fields{"username": username, "email": email})

	// 1. 基本验证
	if username == "" || password == "" {
		return nil, ErrInvalidMessage
	}

	// 2. 检查用户名是否已被占用
	existing, err := s.userRepo.FindByUsername(ctx, username)
	if err == nil && existing != nil {
		logCtx.Warn("Registration failed: Username already exists")
		return nil, ErrRegistrationFailed
	}
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		logCtx.WithError(err).Error("Database error checking username")
		return nil, ErrInternalServer
	}

	// 3. 哈希密码
	hashedPassword, err := hashPassword(password)
	if err != nil {
		logCtx.WithError(err).Error("Failed to hash password during registration")
		return nil, ErrInternalServer
	}

	role := domain.RoleMember
	if s.adminEmails[strings.ToLower(email)] {
		role = domain.RoleAdmin
	}
	if displayName == "" {
		displayName = username
	}

	user := &domain.User{
		Username:    username,
		Password:    hashedPassword,
		Email:       email,
		DisplayName: displayName,
		Role:        role,
	}

	// 4. 保存用户
	if err := s.userRepo.Save(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.WithError(err).Warn("Registration failed: Username or email already exists (repo error)")
			return nil, ErrRegistrationFailed
		}
		logCtx.WithError(err).Error("Database error during user creation")
		return nil, ErrInternalServer
	}

	logCtx.WithFields(logrus.Fields{"user_id": user.ID, "role": role}).Info("User registered successfully")
	user.Password = "" // 清除密码哈希再返回
	return user, nil
}

// Login 校验用户名和密码，返回签名 token 和身份信息。
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *domain.Identity, error) {
	logCtx := logrus.WithField("username", username)

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			logCtx.WithError(err).Warn("Login attempt failed: User not found")
		} else {
			logCtx.WithError(err).Warn("Login attempt failed: Error finding user")
		}
		return "", nil, ErrAuthenticationFailed // 对客户端统一返回认证失败
	}
	if user == nil {
		logCtx.Warn("Login attempt failed: User not found (repo returned nil user without error)")
		return "", nil, ErrAuthenticationFailed
	}

	if !checkPassword(password, user.Password) {
		logCtx.Warn("Login attempt failed: Invalid password")
		return "", nil, ErrAuthenticationFailed
	}

	identity := domain.IdentityOf(user)
	token, err := s.generateJWT(identity)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate JWT token during login")
		return "", nil, ErrInternalServer
	}

	logCtx.WithField("user_id", user.ID).Info("User logged in successfully")
	return token, identity, nil
}

// Me 返回用户当前的身份信息（以数据库为准，而不是 token 中的快照）。
func (s *AuthService) Me(ctx context.Context, userID uint) (*domain.Identity, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		logrus.WithError(err).WithField("user_id", userID).Error("Me: failed to load user")
		return nil, ErrInternalServer
	}
	return domain.IdentityOf(user), nil
}

// ParseToken 校验 token 签名和有效期，返回其中的身份信息。
func (s *AuthService) ParseToken(tokenString string) (*domain.Identity, error) {
	return ParseIdentityToken(tokenString, s.jwtSecret)
}

// ParseIdentityToken 使用 HS256 密钥解析 token 中的身份 claims。
func ParseIdentityToken(tokenString string, secret []byte) (*domain.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrAuthenticationFailed
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	userIDFloat, ok := claims["user_id"].(float64)
	if !ok || userIDFloat <= 0 {
		return nil, ErrAuthenticationFailed
	}
	identity := &domain.Identity{UserID: uint(userIDFloat), Role: domain.RoleMember}
	if v, ok := claims["email"].(string); ok {
		identity.Email = v
	}
	if v, ok := claims["name"].(string); ok {
		identity.DisplayName = v
	}
	if v, ok := claims["picture"].(string); ok {
		identity.PhotoURL = v
	}
	if v, ok := claims["role"].(string); ok && v != "" {
		identity.Role = v
	}
	return identity, nil
}

// --- 私有辅助函数 ---

// hashPassword 使用 bcrypt 对密码进行哈希处理
func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to generate hash from password: %w", err)
	}
	return string(bytes), nil
}

// checkPassword 验证提供的密码是否与存储的哈希匹配
func checkPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// generateJWT 为身份签发 JWT，role claim 由服务端中间件用于授权
func (s *AuthService) generateJWT(identity *domain.Identity) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": identity.UserID,
		"email":   identity.Email,
		"name":    identity.DisplayName,
		"picture": identity.PhotoURL,
		"role":    identity.Role,
		"exp":     now.Add(s.jwtExpiry).Unix(),
		"iat":     now.Unix(),
	})
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}
