package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
)

type emailRequest struct {
	Email string `json:"email"`
}

type otpRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// Register creates an account with the given role.
// POST /api/users/register, POST /api/admin/register
func (h *Handler) Register(role domain.AccountRole) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req service.RegisterInput
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, message("invalid request body"))
		}
		res, err := h.service.Register(c.Request().Context(), req, role)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, res)
	}
}

// VerifyEmail confirms the registration code.
// POST .../verify-email
func (h *Handler) VerifyEmail(c echo.Context) error {
	var req otpRequest
	if err := c.Bind(&req); err != nil || req.Email == "" || req.OTP == "" {
		return c.JSON(http.StatusBadRequest, message("Email and OTP are required"))
	}
	res, err := h.service.VerifyEmail(c.Request().Context(), req.Email, req.OTP)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ResendOTP sends a fresh verification code.
// POST .../resend-otp
func (h *Handler) ResendOTP(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, message("Email is required"))
	}
	if err := h.service.ResendOTP(c.Request().Context(), req.Email); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, message("OTP sent"))
}

// GenerateOTP sends a one-time login code.
// POST .../generate-otp
func (h *Handler) GenerateOTP(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, message("Email is required"))
	}
	if err := h.service.GenerateOTP(c.Request().Context(), req.Email); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, message("OTP sent"))
}

// VerifyOTP checks a one-time code.
// POST .../verify-otp
func (h *Handler) VerifyOTP(c echo.Context) error {
	var req otpRequest
	if err := c.Bind(&req); err != nil || req.Email == "" || req.OTP == "" {
		return c.JSON(http.StatusBadRequest, message("Email and OTP are required"))
	}
	res, err := h.service.VerifyOTP(c.Request().Context(), req.Email, req.OTP)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Login exchanges credentials for a token.
// POST .../login
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil || req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, message("Email and password are required"))
	}
	res, err := h.service.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ForgotPassword sends a reset code.
// POST .../forgot-password
func (h *Handler) ForgotPassword(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return c.JSON(http.StatusBadRequest, message("Email is required"))
	}
	if err := h.service.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, message("Password reset code sent"))
}

// ResetPassword sets a new password.
// POST .../reset-password
func (h *Handler) ResetPassword(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil || req.Email == "" || req.OTP == "" {
		return c.JSON(http.StatusBadRequest, message("Email, OTP and new password are required"))
	}
	if err := h.service.ResetPassword(c.Request().Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, message("Password reset successful"))
}

// ApproveAdmin approves a pending admin.
// POST /api/admin/approve/:token
func (h *Handler) ApproveAdmin(c echo.Context) error {
	user, err := h.service.ApproveAdmin(c.Request().Context(), c.Param("token"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "Admin approved", "user": user})
}

// RejectAdmin rejects a pending admin.
// POST /api/admin/reject/:token
func (h *Handler) RejectAdmin(c echo.Context) error {
	user, err := h.service.RejectAdmin(c.Request().Context(), c.Param("token"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "Admin rejected", "user": user})
}

// Me returns the caller's profile.
// GET /api/users/me
func (h *Handler) Me(c echo.Context) error {
	user, err := h.service.Profile(c.Request().Context(), auth.IdentityFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// UpdateMe changes the caller's profile and returns a fresh token.
// PATCH /api/users/me
func (h *Handler) UpdateMe(c echo.Context) error {
	var req service.ProfileUpdate
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, message("invalid request body"))
	}
	res, err := h.service.UpdateProfile(c.Request().Context(), auth.IdentityFrom(c), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
