// Package server exposes the observer over HTTP: the capture API, the
// dashboard API and the two HTML pages.
package server

import (
	"html/template"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/raphaelgruber/observer/internal/db"
	"github.com/raphaelgruber/observer/internal/service"
	"github.com/raphaelgruber/observer/web"
)

// Title is shown on both HTML pages.
const Title = "AI Observer"

// Route categories reported by /api/routes.
const (
	CategoryAPI       = "api"
	CategoryDashboard = "dashboard"
	CategoryLander    = "lander"
)

// Deps are the long-lived collaborators the handlers use.
type Deps struct {
	Store     db.Store
	Captures  *service.CaptureService
	Inference *service.InferenceService
	Dashboard *service.DashboardService
	LogFile   string
	Logger    *slog.Logger
}

type handler struct {
	Deps
	routes []RouteInfo
}

// RouteInfo describes one registered route.
type RouteInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Doc      string `json:"doc"`
	Category string `json:"category"`
	Method   string `json:"type"`
}

type route struct {
	RouteInfo
	fn echo.HandlerFunc
}

// New builds the echo instance with middleware and all routes.
func New(deps Deps) *echo.Echo {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handler{Deps: deps}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(RequestLogger(deps.Logger))
	e.Use(middleware.Recover())

	e.Validator = NewValidator()
	e.HTTPErrorHandler = errorHandler(deps.Logger)
	e.Renderer = &templateRenderer{
		templates: template.Must(template.New("").ParseFS(web.Templates, "templates/*.html")),
	}

	for _, r := range h.table() {
		e.Add(r.Method, r.Path, r.fn).Name = r.Name
		h.routes = append(h.routes, r.RouteInfo)
	}
	e.StaticFS("/static", echo.MustSubFS(web.Static, "static"))

	return e
}

func (h *handler) table() []route {
	api := func(method, path, name, doc string, fn echo.HandlerFunc) route {
		return route{RouteInfo{Name: name, Path: path, Doc: doc, Category: CategoryAPI, Method: method}, fn}
	}
	dash := func(method, path, name, doc string, fn echo.HandlerFunc) route {
		return route{RouteInfo{Name: name, Path: path, Doc: doc, Category: CategoryDashboard, Method: method}, fn}
	}

	return []route{
		{RouteInfo{Name: "index", Path: "/", Doc: "Render the capture page.", Category: CategoryLander, Method: http.MethodGet}, h.index},
		{RouteInfo{Name: "health", Path: "/health", Doc: "Report that the server is up.", Category: CategoryLander, Method: http.MethodGet}, h.health},

		api(http.MethodPost, "/capture", "capture", "Capture a frame from the video device and save it.", h.capture),
		api(http.MethodPost, "/upload_image", "upload_image", "Save an uploaded image file as a capture.", h.uploadImage),
		api(http.MethodPost, "/send_request", "send_request", "Send the recent captures with a prompt to the vision model.", h.sendRequest),
		api(http.MethodGet, "/recent_captures", "recent_captures", "List captures that are not archived, newest first.", h.recentCaptures),
		api(http.MethodGet, "/archived_captures", "archived_captures", "List archived captures, newest first.", h.archivedCaptures),
		api(http.MethodGet, "/recent_responses", "recent_responses", "List stored model responses, newest first.", h.recentResponses),
		api(http.MethodGet, "/captures/:id/image", "capture_image", "Return the stored image bytes of a capture.", h.captureImage),
		api(http.MethodGet, "/captures/:id/thumbnail", "capture_thumbnail", "Return a PNG thumbnail of a capture.", h.captureThumbnail),
		api(http.MethodGet, "/responses/:id", "response", "Return one stored response.", h.response),
		api(http.MethodPost, "/move_image", "move_image", "Move an image between recent and archived. Also returns 404 for an unknown image and 409 when it is already in the requested state.", h.moveImage),
		api(http.MethodPost, "/delete_image", "delete_image", "Delete a capture.", h.deleteImage),
		api(http.MethodPost, "/delete_response", "delete_response", "Delete a response.", h.deleteResponse),
		api(http.MethodGet, "/server_logs", "server_logs", "Return the last lines of the server log.", h.logs),

		dash(http.MethodGet, "/dashboard", "dashboard", "Render the dashboard page.", h.dashboard),
		dash(http.MethodGet, "/api/stats", "get_stats", "Return capture and response statistics.", h.stats),
		dash(http.MethodGet, "/api/routes", "get_routes", "List the available routes.", h.listRoutes),
		dash(http.MethodGet, "/api/system", "get_system_info", "Return server, database and runtime information.", h.systemInfo),
		dash(http.MethodGet, "/api/logs", "get_logs", "Return the last lines of the server log.", h.logs),
	}
}

type templateRenderer struct {
	templates *template.Template
}

func (t *templateRenderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}

type pageData struct {
	Title     string
	BatchSize int
}

func (h *handler) index(c echo.Context) error {
	return c.Render(http.StatusOK, "index.html", pageData{Title: Title, BatchSize: service.SendBatchSize})
}

func (h *handler) dashboard(c echo.Context) error {
	return c.Render(http.StatusOK, "dashboard.html", pageData{Title: Title})
}

func (h *handler) health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
