package task

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"neoaudit/internal/model/base"
	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/logger"
	"neoaudit/internal/pkg/utils"
	scanRepo "neoaudit/internal/repo/mysql/scan"
	taskService "neoaudit/internal/service/task"
)

// ScanTaskHandler 处理扫描任务相关的 HTTP 请求
type ScanTaskHandler struct {
	service taskService.ScanTaskService
}

// NewScanTaskHandler 创建 ScanTaskHandler 实例
func NewScanTaskHandler(service taskService.ScanTaskService) *ScanTaskHandler {
	return &ScanTaskHandler{
		service: service,
	}
}

// CreateTask 创建扫描任务
// 路由: POST /api/v1/scan/tasks
func (h *ScanTaskHandler) CreateTask(c *gin.Context) {
	var req taskService.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "Invalid request body", err, "create_task")
		return
	}

	id, err := h.service.CreateTask(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, statusFor(err), "Failed to create task", err, "create_task")
		return
	}

	c.JSON(http.StatusCreated, base.APIResponse{
		Code:    http.StatusCreated,
		Status:  "success",
		Message: "Task created successfully",
		Data:    gin.H{"id": id},
	})
}

// StopTask 停止扫描任务
// 路由: POST /api/v1/scan/tasks/:id/stop
func (h *ScanTaskHandler) StopTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	delivered, err := h.service.StopTask(c.Request.Context(), id)
	if err != nil {
		h.fail(c, statusFor(err), "Failed to stop task", err, "stop_task")
		return
	}

	message := "Stop signal delivered"
	if !delivered {
		message = "Task is not running"
	}
	c.JSON(http.StatusOK, base.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: message,
		Data:    gin.H{"delivered": delivered},
	})
}

// GetTaskStatus 查询任务状态与进度
// 路由: GET /api/v1/scan/tasks/:id/status
func (h *ScanTaskHandler) GetTaskStatus(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	status, err := h.service.GetTaskStatus(c.Request.Context(), id)
	if err != nil {
		h.fail(c, statusFor(err), "Failed to get task status", err, "get_task_status")
		return
	}
	c.JSON(http.StatusOK, base.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Task status fetched successfully",
		Data:    status,
	})
}

// GetTask 查询任务详情
// 路由: GET /api/v1/scan/tasks/:id
func (h *ScanTaskHandler) GetTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	task, err := h.service.GetTask(c.Request.Context(), id)
	if err != nil {
		h.fail(c, statusFor(err), "Failed to get task", err, "get_task")
		return
	}
	c.JSON(http.StatusOK, base.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Task fetched successfully",
		Data:    task,
	})
}

// ListTasks 分页查询任务
// 路由: GET /api/v1/scan/tasks?status=&page=&page_size=
func (h *ScanTaskHandler) ListTasks(c *gin.Context) {
	page := utils.StringToInt(c.Query("page"), 1)
	pageSize := utils.StringToInt(c.Query("page_size"), 20)
	status := scan.TaskStatus(c.Query("status"))

	tasks, total, err := h.service.ListTasks(c.Request.Context(), status, page, pageSize)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to list tasks", err, "list_tasks")
		return
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	c.JSON(http.StatusOK, base.APIResponse{
		Code:    http.StatusOK,
		Status:  "success",
		Message: "Tasks fetched successfully",
		Data: base.PaginationResponse{
			Total:      total,
			Page:       page,
			PageSize:   pageSize,
			TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
			Data:       tasks,
		},
	})
}

// taskID 解析路径参数，失败时直接写 400
func (h *ScanTaskHandler) taskID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		h.fail(c, http.StatusBadRequest, "Invalid task id", errors.New("task id must be a positive integer"), "parse_task_id")
		return 0, false
	}
	return id, true
}

func (h *ScanTaskHandler) fail(c *gin.Context, code int, message string, err error, operation string) {
	logger.LogError(err, c.GetString("request_id"), c.Request.URL.Path, c.Request.Method, map[string]interface{}{
		"operation": operation,
		"status":    code,
	})
	c.JSON(code, base.APIResponse{
		Code:    code,
		Status:  "failed",
		Message: message,
		Error:   err.Error(),
	})
}

// statusFor 业务错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, scanRepo.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, taskService.ErrInvalidRequest),
		errors.Is(err, utils.ErrInvalidTarget),
		errors.Is(err, utils.ErrTargetNotAllowed):
		return http.StatusBadRequest
	case errors.Is(err, taskService.ErrTaskAlreadyRegistered),
		errors.Is(err, scan.ErrIllegalTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
