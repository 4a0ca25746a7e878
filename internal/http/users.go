package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"

	"userhub/internal/domain"
)

type createUserRequest struct {
	Email     string `json:"email" binding:"required"`
	FirstName string `json:"firstName" binding:"required"`
	LastName  string `json:"lastName" binding:"required"`
	Age       int    `json:"age"`
	Role      string `json:"role" binding:"required"`
	IsActive  *bool  `json:"isActive"`
	Password  string `json:"password"`
}

type UserResponse struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	FullName    string      `json:"fullName"`
	Age         int         `json:"age"`
	Role        domain.Role `json:"role"`
	IsActive    bool        `json:"isActive"`
	HasPassword bool        `json:"hasPassword"`
	CreatedAt   string      `json:"createdAt"`
	UpdatedAt   string      `json:"updatedAt"`
}

func userToResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		FullName:    u.FullName(),
		Age:         u.Age,
		Role:        u.Role,
		IsActive:    u.IsActive,
		HasPassword: u.HasPassword(),
		CreatedAt:   u.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   u.UpdatedAt.Format(time.RFC3339),
	}
}

func usersToResponse(users []domain.User) []UserResponse {
	resp := make([]UserResponse, len(users))
	for i := range users {
		resp[i] = userToResponse(users[i])
	}
	return resp
}

func (h *Handler) listUsers(c *gin.Context) {
	var (
		users []domain.User
		err   error
	)
	if role := strings.TrimSpace(c.Query("role")); role != "" {
		users, err = h.users.GetUsersByRole(c.Request.Context(), domain.Role(role))
	} else {
		users, err = h.users.GetAllUsers(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, usersToResponse(users))
}

func (h *Handler) listActiveUsers(c *gin.Context) {
	users, err := h.users.GetActiveUsers(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, usersToResponse(users))
}

func (h *Handler) userStatistics(c *gin.Context) {
	stats, err := h.users.GetUserStatistics(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) lookupUser(c *gin.Context) {
	user, err := h.users.FindUserByEmail(c.Request.Context(), c.Query("email"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, userToResponse(*user))
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.users.GetUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, userToResponse(*user))
}

type createOutcome struct {
	user *domain.User
	err  error
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	in := domain.CreateUserInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Age:       req.Age,
		Role:      domain.Role(strings.TrimSpace(req.Role)),
		IsActive:  req.IsActive,
		Password:  req.Password,
	}

	ctx := c.Request.Context()
	done := make(chan createOutcome, 1)
	h.users.CreateUser(ctx, in, func(user *domain.User, err error) {
		done <- createOutcome{user: user, err: err}
	})

	select {
	case res := <-done:
		if res.err != nil {
			h.writeError(c, res.err)
			return
		}
		c.Header("Location", "/api/users/"+res.user.ID)
		c.JSON(http.StatusCreated, userToResponse(*res.user))
	case <-ctx.Done():
		// the insert still completes; only the response is lost
		h.writeError(c, errors.Annotate(ctx.Err(), "create user"))
	}
}

func (h *Handler) updateUser(c *gin.Context) {
	var patch domain.UserPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeBindError(c, err)
		return
	}

	user, err := h.users.UpdateUser(c.Request.Context(), c.Param("id"), patch).Await(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(user))
}

func (h *Handler) deleteUser(c *gin.Context) {
	id := c.Param("id")
	removed, err := h.users.DeleteUser(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
