// Package server exposes the kiosk over HTTP: control routes for the UI,
// an SSE stream of state events and a system status endpoint.
package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"face-checkin-go/internal/config"
	"face-checkin-go/internal/history"
	"face-checkin-go/internal/kiosk"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var logFields = log.Fields{
	"component": "server",
}

// Uploads larger than this are rejected before decoding.
const maxUploadBytes = 16 << 20

// Server wires the kiosk controller to the HTTP surface.
type Server struct {
	cfg     *config.Config
	ctrl    *kiosk.Controller
	history *history.Store
	started time.Time
}

// New creates a Server around the given controller.
func New(cfg *config.Config, ctrl *kiosk.Controller, hist *history.Store) *Server {
	return &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		history: hist,
		started: time.Now(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	r.Use(cors.New(corsCfg))

	api := r.Group("/api")
	{
		api.GET("/state", s.handleState)
		api.POST("/mode", s.handleSetMode)
		api.POST("/checkin", s.handleCheckIn)
		api.POST("/still", s.handleStillUpload)
		api.POST("/register", s.handleRegister)
		api.GET("/history", s.handleHistory)
		api.GET("/system/status", s.handleSystemStatus)
	}

	r.GET("/events", s.handleEvents)

	return r
}

// Run starts the HTTP server. Blocks until the listener fails.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	log.WithFields(logFields).Infof("Starting kiosk server on %s", addr)
	return s.Router().Run(addr)
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
		return
	}

	mode, err := kiosk.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.ctrl.SetMode(mode); err != nil {
		// Mode was switched; only the camera acquisition failed. The state
		// snapshot carries the terminal capture-unavailable message.
		c.JSON(http.StatusServiceUnavailable, s.ctrl.Snapshot())
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

// handleCheckIn triggers a manual submission: the live descriptor in live
// mode, the loaded still image otherwise.
func (s *Server) handleCheckIn(c *gin.Context) {
	var err error
	if s.ctrl.Mode() == kiosk.ModeLive {
		err = s.ctrl.SubmitDescriptor(c.Request.Context())
	} else {
		err = s.ctrl.SubmitStill(c.Request.Context())
	}

	switch err {
	case nil:
		c.JSON(http.StatusOK, s.ctrl.Snapshot())
	case kiosk.ErrRequestInFlight:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case kiosk.ErrNoFaceDetected, kiosk.ErrNoStillImage:
		c.JSON(http.StatusBadRequest, s.ctrl.Snapshot())
	default:
		// Backend outcome already folded into the snapshot.
		c.JSON(http.StatusOK, s.ctrl.Snapshot())
	}
}

func (s *Server) handleStillUpload(c *gin.Context) {
	data, ok := readUpload(c, "imageFile")
	if !ok {
		return
	}

	if err := s.ctrl.LoadStill(c.Request.Context(), data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image file"})
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleRegister(c *gin.Context) {
	name := c.PostForm("name")
	code := c.PostForm("code")

	// The image may be omitted when retrying after a validation failure;
	// the controller keeps the previously supplied file.
	var data []byte
	if fileHeader, err := c.FormFile("imageFile"); err == nil {
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
			return
		}
		defer file.Close()
		data, err = io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
			return
		}
	}

	err := s.ctrl.SubmitRegistration(c.Request.Context(), name, code, data)
	switch err.(type) {
	case nil:
	case *kiosk.ValidationError:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "state": s.ctrl.Snapshot()})
		return
	default:
		if err == kiosk.ErrRequestInFlight {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusOK, []history.Attempt{})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}

	attempts, err := s.history.Recent(limit)
	if err != nil {
		log.WithFields(logFields).Errorf("Failed to load history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, attempts)
}

// handleEvents streams kiosk state events as server-sent events. The UI is a
// pure subscriber of this stream.
func (s *Server) handleEvents(c *gin.Context) {
	ch := s.ctrl.Hub().Subscribe()
	defer s.ctrl.Hub().Unsubscribe(ch)

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("state", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// readUpload pulls a single multipart file field out of the request.
func readUpload(c *gin.Context, field string) ([]byte, bool) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s is required", field)})
		return nil, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return nil, false
	}
	return data, true
}
