package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"finance_service/internal/auth"
	"finance_service/internal/models"
	"finance_service/internal/service"
	"finance_service/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	serviceLayer service.Service
	gate         *Gate
	codec        *auth.TokenCodec
	debugRoutes  bool
	validate     *validator.Validate
	log          *slog.Logger
}

type errorResponse struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type loginResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

type registerRequest struct {
	Name     string `json:"userName" validate:"required,min=2,max=50"`
	Email    string `json:"userEmail" validate:"required,email"`
	Password string `json:"userPassword" validate:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"userEmail" validate:"required,email"`
	Password string `json:"userPassword" validate:"required"`
}

type updateProfileRequest struct {
	Name string `json:"userName" validate:"omitempty,min=2,max=50"`
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6"`
}

type tokenInfoResponse struct {
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
	Subject   string `json:"subject,omitempty"`
	UserID    int64  `json:"userId,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

func newErrorResponse(c *gin.Context, statusCode int, errMessage string) {
	c.AbortWithStatusJSON(statusCode, errorResponse{Message: errMessage})
}

func NewHandler(srvc service.Service, gate *Gate, codec *auth.TokenCodec, debugRoutes bool, lgr *slog.Logger) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		serviceLayer: srvc,
		gate:         gate,
		codec:        codec,
		debugRoutes:  debugRoutes,
		validate:     validate,
		log:          lgr,
	}
}

func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger(h.log), h.gate.Middleware())

	router.NoRoute(func(c *gin.Context) {
		newErrorResponse(c, http.StatusNotFound, "not found")
	})

	api := router.Group("/api")

	users := api.Group("/users")
	{
		users.POST("/register", h.Register)
		users.POST("/login", h.Login)
		users.POST("/logout", h.Logout)

		users.GET("/:userId", h.GetUser)
		users.PUT("/:userId/profile", h.UpdateProfile)
		users.PUT("/:userId/password", h.UpdatePassword)
		users.DELETE("/:userId", h.DeleteUser)
	}

	if h.debugRoutes {
		debug := api.Group("/debug")
		debug.GET("/token", h.InspectToken)
	}

	return router
}

// POST /api/users/register
func (h *Handler) Register(c *gin.Context) {
	const op = "handler.Register"

	log := h.log.With(slog.String("op", op))

	var req registerRequest
	if !h.bind(c, log, &req) {
		return
	}

	user, err := h.serviceLayer.CreateUser(c.Request.Context(), strings.TrimSpace(req.Name), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			newErrorResponse(c, http.StatusConflict, "email is already registered")

			return
		}
		log.Error("failed to create user", slog.Any("error", err))

		newErrorResponse(c, http.StatusInternalServerError, "failed to create user")

		return
	}

	c.JSON(http.StatusCreated, user)
}

// POST /api/users/login
func (h *Handler) Login(c *gin.Context) {
	const op = "handler.Login"

	log := h.log.With(slog.String("op", op))

	var req loginRequest
	if !h.bind(c, log, &req) {
		return
	}

	jwtToken, user, err := h.serviceLayer.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			log.Info("login rejected", slog.String("email", req.Email))

			newErrorResponse(c, http.StatusUnauthorized, "invalid email or password")

			return
		}
		log.Error("failed to login", slog.Any("error", err))

		newErrorResponse(c, http.StatusInternalServerError, "failed to login")

		return
	}

	c.JSON(http.StatusOK, loginResponse{User: user, Token: jwtToken})
}

// POST /api/users/logout
func (h *Handler) Logout(c *gin.Context) {
	const op = "handler.Logout"

	log := h.log.With(slog.String("op", op))

	identity := CurrentIdentity(c)
	if identity == nil {
		log.Warn("logout without resolved identity, nothing revoked")

		c.JSON(http.StatusOK, messageResponse{Message: "logged out"})

		return
	}

	if err := h.serviceLayer.Logout(c.Request.Context(), identity); err != nil {
		log.Error("failed to revoke token", slog.Int64("user_id", identity.UserID), slog.Any("error", err))

		newErrorResponse(c, http.StatusInternalServerError, "failed to logout")

		return
	}

	log.Info("user logout", slog.Int64("user_id", identity.UserID))

	c.JSON(http.StatusOK, messageResponse{Message: "logged out"})
}

// GET /api/users/:userId
func (h *Handler) GetUser(c *gin.Context) {
	const op = "handler.GetUser"

	log := h.log.With(slog.String("op", op))

	userID, ok := h.authorizePathUser(c, log)
	if !ok {
		return
	}

	user, err := h.serviceLayer.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		h.userError(c, log, userID, err)

		return
	}

	c.JSON(http.StatusOK, user)
}

// PUT /api/users/:userId/profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	const op = "handler.UpdateProfile"

	log := h.log.With(slog.String("op", op))

	userID, ok := h.authorizePathUser(c, log)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !h.bind(c, log, &req) {
		return
	}

	user, err := h.serviceLayer.UpdateProfile(c.Request.Context(), userID, req.Name)
	if err != nil {
		h.userError(c, log, userID, err)

		return
	}

	c.JSON(http.StatusOK, user)
}

// PUT /api/users/:userId/password
func (h *Handler) UpdatePassword(c *gin.Context) {
	const op = "handler.UpdatePassword"

	log := h.log.With(slog.String("op", op))

	userID, ok := h.authorizePathUser(c, log)
	if !ok {
		return
	}

	var req updatePasswordRequest
	if !h.bind(c, log, &req) {
		return
	}

	user, err := h.serviceLayer.UpdatePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, service.ErrWrongPassword) {
			newErrorResponse(c, http.StatusUnauthorized, "current password does not match")

			return
		}
		h.userError(c, log, userID, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password updated", "user": user})
}

// DELETE /api/users/:userId
func (h *Handler) DeleteUser(c *gin.Context) {
	const op = "handler.DeleteUser"

	log := h.log.With(slog.String("op", op))

	userID, ok := h.authorizePathUser(c, log)
	if !ok {
		return
	}

	user, err := h.serviceLayer.DeleteUser(c.Request.Context(), userID, CurrentIdentity(c).Token)
	if err != nil {
		h.userError(c, log, userID, err)

		return
	}

	log.Info("account deleted", slog.Int64("user_id", userID))

	c.JSON(http.StatusOK, gin.H{"message": "account deleted", "user": user})
}

// GET /api/debug/token
func (h *Handler) InspectToken(c *gin.Context) {
	token := auth.TokenFromHeader(c.GetHeader("Authorization"))
	if token == "" {
		newErrorResponse(c, http.StatusBadRequest, "missing bearer token")

		return
	}

	claims, err := h.codec.Parse(token)
	if err != nil {
		c.JSON(http.StatusOK, tokenInfoResponse{Valid: false, Reason: auth.FailureReason(err)})

		return
	}

	c.JSON(http.StatusOK, tokenInfoResponse{
		Valid:     true,
		Subject:   claims.Subject,
		UserID:    claims.UserID,
		ExpiresAt: claims.ExpiresAt.Unix(),
	})
}

// authorizePathUser parses :userId and applies the access policy. It writes
// the response and returns false when the request must stop.
func (h *Handler) authorizePathUser(c *gin.Context, log *slog.Logger) (int64, bool) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		newErrorResponse(c, http.StatusBadRequest, "invalid user id")

		return 0, false
	}

	if !ValidateUserAccess(c, userID) {
		log.Warn("access denied", slog.Int64("path_user_id", userID))

		newErrorResponse(c, http.StatusForbidden, "no access")

		return 0, false
	}

	return userID, true
}

func (h *Handler) userError(c *gin.Context, log *slog.Logger, userID int64, err error) {
	if errors.Is(err, storage.ErrUserNotFound) {
		newErrorResponse(c, http.StatusNotFound, "user not found")

		return
	}

	log.Error("user operation failed", slog.Int64("user_id", userID), slog.Any("error", err))

	newErrorResponse(c, http.StatusInternalServerError, "internal error")
}

func (h *Handler) bind(c *gin.Context, log *slog.Logger, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		log.Error("failed to read request body", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, "invalid request body")

		return false
	}

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}

			newErrorResponse(c, http.StatusBadRequest, "invalid fields: "+strings.Join(fields, ", "))

			return false
		}
		log.Error("failed to validate request", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, "invalid request")

		return false
	}

	return true
}
