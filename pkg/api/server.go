// Package api provides the HTTP/JSON gateway to a musicpi store
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/james-see/musicpi/pkg/export"
	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
)

// @title MusicPi API
// @version 1.0
// @description HTTP gateway to the MusicPi music store
// @host localhost:8080
// @BasePath /api/v1

// Handler answers protocol requests
type Handler interface {
	Handle(req *mpp.Request) *mpp.Response
}

// Server exposes a Handler over HTTP. Every call goes through the handler so
// the same identity check applies as on the wire protocol.
type Server struct {
	handler Handler
	midi    *export.MIDIExporter
	wav     *export.WAVExporter
	log     *zap.Logger
}

// NewServer creates a gateway over h
func NewServer(h Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		handler: h,
		midi:    export.NewMIDIExporter(),
		wav:     export.NewWAVExporter(),
		log:     log,
	}
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.logMiddleware())

	// CORS middleware
	r.Use(corsMiddleware())

	// Health check
	r.GET("/health", healthCheck)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/instruments", listInstruments)
		v1.GET("/users/:rfid", s.getUser)
		v1.GET("/users/:rfid/musics", s.listMusics)
		v1.POST("/users/:rfid/musics", s.addMusic)
		v1.POST("/users/:rfid/musics/import", s.importMIDI)
		v1.GET("/users/:rfid/musics/:id", s.getMusic)
		v1.DELETE("/users/:rfid/musics/:id", s.deleteMusic)
		v1.GET("/users/:rfid/musics/:id/midi", s.getMusicMIDI)
		v1.GET("/users/:rfid/musics/:id/wav", s.getMusicWAV)
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("http gateway listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := uuid.NewString()
		c.Header("X-Request-ID", id)
		c.Next()
		s.log.Info("http request",
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "musicpi",
	})
}

// listInstruments godoc
// @Summary List instruments
// @Description Returns the instrument names accepted in notes
// @Tags info
// @Produce json
// @Success 200 {object} map[string][]string
// @Router /instruments [get]
func listInstruments(c *gin.Context) {
	names := make([]string, 0, int(music.InstrumentNone)+1)
	for i := music.InstrumentStepMotor; i <= music.InstrumentNone; i++ {
		names = append(names, i.String())
	}
	c.JSON(http.StatusOK, gin.H{
		"instruments": names,
		"durations":   []int{1, 2, 4, 6, 8},
	})
}

// do runs req and writes the error body for non-success codes. It reports
// whether the caller should write a success body.
func (s *Server) do(c *gin.Context, req *mpp.Request) (*mpp.Response, bool) {
	resp := s.handler.Handle(req)
	if !resp.Code.Success() {
		c.JSON(statusFor(resp.Code), ErrorJSON{Error: resp.Code.String(), Code: int(resp.Code)})
		return resp, false
	}
	return resp, true
}

// exportStatus maps exporter errors to HTTP statuses
func exportStatus(err error, fallback int) int {
	if errors.Is(err, export.ErrTooLong) {
		return http.StatusUnprocessableEntity
	}
	return fallback
}

func musicIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id == mpp.NoMusicID {
		c.JSON(http.StatusBadRequest, ErrorJSON{Error: "invalid music id"})
		return 0, false
	}
	return id, true
}

// getUser godoc
// @Summary Identify a user
// @Description Resolves an RFID key to its username
// @Tags users
// @Produce json
// @Param rfid path string true "RFID key"
// @Success 200 {object} UserJSON
// @Failure 400 {object} ErrorJSON
// @Router /users/{rfid} [get]
func (s *Server) getUser(c *gin.Context) {
	resp, ok := s.do(c, mpp.NewRequest(mpp.Connect, c.Param("rfid")))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, UserJSON{RFID: c.Param("rfid"), Username: resp.Username})
}

// listMusics godoc
// @Summary List musics
// @Tags musics
// @Produce json
// @Param rfid path string true "RFID key"
// @Success 200 {object} MusicListJSON
// @Failure 400 {object} ErrorJSON
// @Router /users/{rfid}/musics [get]
func (s *Server) listMusics(c *gin.Context) {
	resp, ok := s.do(c, mpp.NewRequest(mpp.ListMusic, c.Param("rfid")))
	if !ok {
		return
	}
	ids := resp.MusicIDs.IDs()
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, MusicListJSON{Username: resp.Username, IDs: ids})
}

// addMusic godoc
// @Summary Store a music
// @Description Creates or replaces the music identified by created_at
// @Tags musics
// @Accept json
// @Produce json
// @Param rfid path string true "RFID key"
// @Param music body MusicJSON true "Music"
// @Success 201 {object} MusicJSON
// @Failure 400 {object} ErrorJSON
// @Router /users/{rfid}/musics [post]
func (s *Server) addMusic(c *gin.Context) {
	var body MusicJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorJSON{Error: err.Error()})
		return
	}
	m, err := body.toMusic()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorJSON{Error: err.Error()})
		return
	}
	s.store(c, m)
}

// importMIDI godoc
// @Summary Import a MIDI file
// @Description Upload a Standard MIDI File; note tracks become the three channels
// @Tags musics
// @Accept multipart/form-data
// @Produce json
// @Param rfid path string true "RFID key"
// @Param file formData file true "MIDI file"
// @Param instrument query string false "Instrument for imported notes (default: sine)"
// @Param created_at query int false "Music id (default: now)"
// @Success 201 {object} MusicJSON
// @Failure 400 {object} ErrorJSON
// @Router /users/{rfid}/musics/import [post]
func (s *Server) importMIDI(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorJSON{Error: "No file uploaded"})
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorJSON{Error: "Failed to read file"})
		return
	}

	instrument, err := music.ParseInstrument(c.DefaultQuery("instrument", music.InstrumentSine.String()))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorJSON{Error: err.Error()})
		return
	}
	createdAt := time.Now().Unix()
	if v := c.Query("created_at"); v != "" {
		if createdAt, err = strconv.ParseInt(v, 10, 64); err != nil {
			c.JSON(http.StatusBadRequest, ErrorJSON{Error: "invalid created_at"})
			return
		}
	}

	m, err := s.midi.ParseMIDI(data, createdAt, instrument)
	if err != nil {
		c.JSON(exportStatus(err, http.StatusBadRequest), ErrorJSON{Error: err.Error()})
		return
	}
	s.store(c, m)
}

func (s *Server) store(c *gin.Context, m *music.Music) {
	req := mpp.NewRequest(mpp.AddMusic, c.Param("rfid"))
	req.Music = m
	resp, ok := s.do(c, req)
	if !ok {
		return
	}
	c.JSON(statusFor(resp.Code), musicToJSON(m))
}

func (s *Server) fetch(c *gin.Context) (*music.Music, bool) {
	id, ok := musicIDParam(c)
	if !ok {
		return nil, false
	}
	req := mpp.NewRequest(mpp.GetMusic, c.Param("rfid"))
	req.MusicID = id
	resp, ok := s.do(c, req)
	if !ok {
		return nil, false
	}
	return resp.Music, true
}

// getMusic godoc
// @Summary Fetch a music
// @Tags musics
// @Produce json
// @Param rfid path string true "RFID key"
// @Param id path int true "Music id"
// @Success 200 {object} MusicJSON
// @Failure 404 {object} ErrorJSON
// @Router /users/{rfid}/musics/{id} [get]
func (s *Server) getMusic(c *gin.Context) {
	m, ok := s.fetch(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, musicToJSON(m))
}

// deleteMusic godoc
// @Summary Delete a music
// @Tags musics
// @Param rfid path string true "RFID key"
// @Param id path int true "Music id"
// @Success 204
// @Failure 404 {object} ErrorJSON
// @Router /users/{rfid}/musics/{id} [delete]
func (s *Server) deleteMusic(c *gin.Context) {
	id, ok := musicIDParam(c)
	if !ok {
		return
	}
	req := mpp.NewRequest(mpp.DeleteMusic, c.Param("rfid"))
	req.MusicID = id
	if _, ok := s.do(c, req); !ok {
		return
	}
	c.Status(http.StatusNoContent)
}

// getMusicMIDI godoc
// @Summary Export a music as MIDI
// @Tags export
// @Produce audio/midi
// @Param rfid path string true "RFID key"
// @Param id path int true "Music id"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorJSON
// @Router /users/{rfid}/musics/{id}/midi [get]
func (s *Server) getMusicMIDI(c *gin.Context) {
	m, ok := s.fetch(c)
	if !ok {
		return
	}
	data, err := s.midi.GenerateMIDI(m)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorJSON{Error: err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%d.mid", m.CreatedAt))
	c.Data(http.StatusOK, "audio/midi", data)
}

// getMusicWAV godoc
// @Summary Render a music to WAV
// @Tags export
// @Produce audio/wav
// @Param rfid path string true "RFID key"
// @Param id path int true "Music id"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorJSON
// @Failure 422 {object} ErrorJSON
// @Router /users/{rfid}/musics/{id}/wav [get]
func (s *Server) getMusicWAV(c *gin.Context) {
	m, ok := s.fetch(c)
	if !ok {
		return
	}

	// The encoder seeks back to patch the header
	f, err := os.CreateTemp("", "musicpi-*.wav")
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorJSON{Error: err.Error()})
		return
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	if err := s.wav.WriteWAV(f, m); err != nil {
		status := exportStatus(err, http.StatusInternalServerError)
		if status == http.StatusInternalServerError {
			s.log.Error("wav render failed", zap.Int64("music_id", m.CreatedAt), zap.Error(err))
		}
		c.JSON(status, ErrorJSON{Error: err.Error()})
		return
	}
	data, err := os.ReadFile(f.Name())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorJSON{Error: err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%d.wav", m.CreatedAt))
	c.Data(http.StatusOK, "audio/wav", data)
}
