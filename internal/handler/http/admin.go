package http

import (
	"net/http"

	"github.com/msea200/clipshare/internal/dto"
	"github.com/msea200/clipshare/internal/middleware"
	"github.com/msea200/clipshare/internal/roomcode"
	"github.com/msea200/clipshare/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminHandler 封装了管理员房间目录的 HTTP 处理逻辑。
// 路由层已经通过 RequireRole 限制为 admin，服务层会再次校验。
type AdminHandler struct {
	adminService *service.AdminService
}

// NewAdminHandler 创建 AdminHandler 实例
func NewAdminHandler(adminService *service.AdminService) *AdminHandler {
	if adminService == nil {
		panic("AdminService cannot be nil for AdminHandler")
	}
	return &AdminHandler{adminService: adminService}
}

// ListRooms GET /api/admin/rooms?kind=normal|permanent
func (h *AdminHandler) ListRooms(c *gin.Context) {
	list, err := h.adminService.ListFiltered(c.Request.Context(), middleware.IdentityFrom(c), c.Query("kind"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, list)
}

// TogglePermanent POST /api/admin/rooms/:code/permanent
func (h *AdminHandler) TogglePermanent(c *gin.Context) {
	permanent, err := h.adminService.Toggle(c.Request.Context(), middleware.IdentityFrom(c), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, dto.TogglePermanentResponse{Code: roomcode.Normalize(c.Param("code")), Permanent: permanent})
}

// DeleteRoom DELETE /api/admin/rooms/:code
func (h *AdminHandler) DeleteRoom(c *gin.Context) {
	if err := h.adminService.Delete(c.Request.Context(), middleware.IdentityFrom(c), c.Param("code")); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
