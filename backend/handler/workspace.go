package handler

import (
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/AnTengye/compliancecheck/backend/config"
	"github.com/AnTengye/compliancecheck/backend/middleware"
	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"github.com/AnTengye/compliancecheck/backend/service"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var workspaceTemplate = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// StaticFS serves the workspace stylesheet.
func StaticFS() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

// WorkspaceHandler serves the per-session workspace, both as the HTML page
// and as JSON.
type WorkspaceHandler struct {
	registry *service.WorkspaceRegistry
	ui       config.UIConfig
	now      func() time.Time
}

func NewWorkspaceHandler(registry *service.WorkspaceRegistry, ui config.UIConfig) *WorkspaceHandler {
	return &WorkspaceHandler{registry: registry, ui: ui, now: time.Now}
}

type workspacePage struct {
	service.WorkspaceView
	Title   string
	Palette config.Palette
	Year    int
}

func (h *WorkspaceHandler) workspace(c *gin.Context) *service.Workspace {
	return h.registry.Get(middleware.GetSessionID(c))
}

// Page renders the workspace.
func (h *WorkspaceHandler) Page(c *gin.Context) {
	c.Render(http.StatusOK, render.HTML{
		Template: workspaceTemplate,
		Name:     "workspace.html",
		Data: workspacePage{
			WorkspaceView: h.workspace(c).View(),
			Title:         h.ui.Title,
			Palette:       h.ui.Palette,
			Year:          h.now().Year(),
		},
	})
}

// selectedFilename returns the name of the first file in the "file" field.
// The contents are never read.
func selectedFilename(c *gin.Context) string {
	form, err := c.MultipartForm()
	if err != nil {
		return ""
	}
	files := form.File["file"]
	if len(files) == 0 {
		return ""
	}
	return files[0].Filename
}

// UploadForm records the chosen file and redirects back to the page. An
// empty selection changes nothing.
func (h *WorkspaceHandler) UploadForm(c *gin.Context) {
	if contract, ok := h.workspace(c).Upload(selectedFilename(c)); ok {
		logger.Debug(c.Request.Context(), "workspace upload", "contract_id", contract.ID, "filename", contract.Filename)
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// ReviewForm selects a contract and redirects back to the page.
func (h *WorkspaceHandler) ReviewForm(c *gin.Context) {
	if _, _, err := h.workspace(c).Review(c.Param("id")); err != nil {
		c.String(http.StatusNotFound, "Contract not found")
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// Get returns the session's workspace as JSON.
func (h *WorkspaceHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.workspace(c).View())
}

// Upload is the JSON form of UploadForm. It answers 204 when no file was
// selected.
func (h *WorkspaceHandler) Upload(c *gin.Context) {
	contract, ok := h.workspace(c).Upload(selectedFilename(c))
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusCreated, contract)
}

// Review is the JSON form of ReviewForm.
func (h *WorkspaceHandler) Review(c *gin.Context) {
	selected, result, err := h.workspace(c).Review(c.Param("id"))
	if errors.Is(err, service.ErrContractNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": selected, "result": result})
}
