package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meridian-eyecare/queuepulse/internal/auth"
	"github.com/meridian-eyecare/queuepulse/internal/clinic"
	"github.com/meridian-eyecare/queuepulse/internal/hub"
)

const (
	staffIDContextKey   = "queuepulse_staff_id"
	staffRoleContextKey = "queuepulse_staff_role"
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingClinicService = errors.New("clinic service dependency required")
	errMissingHub           = errors.New("hub dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

type TokenManager interface {
	IssueStaffToken(ctx context.Context, claims auth.StaffClaims) (string, int64, error)
	ValidateToken(token string) (auth.StaffClaims, error)
}

type Dependencies struct {
	TokenManager  TokenManager
	ClinicService *clinic.Service
	Hub           *hub.Hub
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.ClinicService == nil {
		return nil, errMissingClinicService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens: deps.TokenManager,
		clinic: deps.ClinicService,
		hub:    deps.Hub,
		logger: logger,
	}

	router.POST("/auth/login", handler.handleLogin)
	router.GET("/ws", handler.handleSocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/patients", handler.handleRegisterPatient)
	protected.GET("/patients/:id", handler.handleGetPatient)
	protected.POST("/queue/check-in", handler.handleCheckIn)
	protected.GET("/queue", handler.handleListQueue)
	protected.POST("/queue/reorder", handler.handleReorder)
	protected.POST("/queue/:id/hold", handler.handleHold)
	protected.POST("/queue/:id/resume", handler.handleResume)
	protected.POST("/queue/:id/ready", handler.handleMarkReady)
	protected.POST("/queue/:id/assign", handler.handleAssign)
	protected.POST("/queue/:id/release", handler.handleRelease)
	protected.POST("/queue/:id/call", handler.handleCall)
	protected.POST("/queue/:id/complete", handler.handleComplete)

	return router, nil
}

type httpHandler struct {
	tokens TokenManager
	clinic *clinic.Service
	hub    *hub.Hub
	logger *zap.Logger
}

type loginRequestPayload struct {
	StaffID string `json:"staff_id"`
	Role    string `json:"role"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.StaffID) == "" || strings.TrimSpace(request.Role) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueStaffToken(c.Request.Context(), auth.StaffClaims{
		StaffID: strings.TrimSpace(request.StaffID),
		Role:    strings.TrimSpace(request.Role),
	})
	if err != nil {
		h.logger.Error("failed to issue staff token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type patientRequestPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type patientResponsePayload struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
}

func patientResponse(patient clinic.Patient) patientResponsePayload {
	return patientResponsePayload{
		ID:        patient.ID,
		FirstName: patient.FirstName,
		LastName:  patient.LastName,
		FullName:  patient.FullName(),
	}
}

func (h *httpHandler) handleRegisterPatient(c *gin.Context) {
	var request patientRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.FirstName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	patient, err := h.clinic.RegisterPatient(c.Request.Context(), request.FirstName, request.LastName)
	if err != nil {
		h.logger.Error("failed to register patient", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register_failed"})
		return
	}
	c.JSON(http.StatusCreated, patientResponse(patient))
}

func (h *httpHandler) handleGetPatient(c *gin.Context) {
	patientID, err := clinic.NewPatientID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_patient_id"})
		return
	}

	patient, err := h.clinic.GetPatient(c.Request.Context(), patientID)
	if errors.Is(err, clinic.ErrPatientNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "patient_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load patient", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, patientResponse(patient))
}

type checkInRequestPayload struct {
	PatientID string `json:"patient_id"`
}

type entryResponsePayload struct {
	ID               string `json:"id"`
	PatientID        string `json:"patient_id"`
	Status           string `json:"status"`
	Position         int    `json:"position"`
	Reason           string `json:"reason,omitempty"`
	AssignedDoctorID string `json:"assigned_doctor_id,omitempty"`
}

func entryResponse(entry clinic.QueueEntry) entryResponsePayload {
	return entryResponsePayload{
		ID:               entry.ID,
		PatientID:        entry.PatientID,
		Status:           string(entry.Status),
		Position:         entry.Position,
		Reason:           entry.Reason,
		AssignedDoctorID: entry.AssignedDoctorID,
	}
}

func (h *httpHandler) handleCheckIn(c *gin.Context) {
	var request checkInRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	patientID, err := clinic.NewPatientID(request.PatientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_patient_id"})
		return
	}

	entry, err := h.clinic.CheckIn(c.Request.Context(), patientID)
	if errors.Is(err, clinic.ErrPatientNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "patient_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to check in patient", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check_in_failed"})
		return
	}
	c.JSON(http.StatusCreated, entryResponse(entry))
}

func (h *httpHandler) handleListQueue(c *gin.Context) {
	status := clinic.EntryStatus(strings.TrimSpace(c.DefaultQuery("status", string(clinic.StatusWaiting))))

	entries, err := h.clinic.ListByStatus(c.Request.Context(), status)
	if err != nil {
		h.logger.Error("failed to list queue", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := make([]entryResponsePayload, 0, len(entries))
	for _, entry := range entries {
		response = append(response, entryResponse(entry))
	}
	c.JSON(http.StatusOK, gin.H{"entries": response})
}

type holdRequestPayload struct {
	Reason string `json:"reason"`
}

func (h *httpHandler) handleHold(c *gin.Context) {
	var request holdRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.runTransition(c, func(entryID clinic.EntryID) (clinic.QueueEntry, error) {
		return h.clinic.PlaceOnHold(c.Request.Context(), entryID, request.Reason)
	})
}

func (h *httpHandler) handleResume(c *gin.Context) {
	h.runTransition(c, func(entryID clinic.EntryID) (clinic.QueueEntry, error) {
		return h.clinic.Resume(c.Request.Context(), entryID)
	})
}

func (h *httpHandler) handleMarkReady(c *gin.Context) {
	h.runTransition(c, func(entryID clinic.EntryID) (clinic.QueueEntry, error) {
		return h.clinic.MarkReady(c.Request.Context(), entryID)
	})
}

type assignRequestPayload struct {
	DoctorID string `json:"doctor_id"`
}

func (h *httpHandler) handleAssign(c *gin.Context) {
	var request assignRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DoctorID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	h.runTransition(c, func(entryID clinic.EntryID) (clinic.QueueEntry, error) {
		return h.clinic.Assign(c.Request.Context(), entryID, strings.TrimSpace(request.DoctorID))
	})
}

func (h *httpHandler) handleRelease(c *gin.Context) {
	h.runTransition(c, func(entryID clinic.EntryID) (clinic.QueueEntry, error) {
		return h.clinic.Release(c.Request.Context(), entryID)
	})
}

func (h *httpHandler) handleCall(c *gin.Context) {
	h.runTransition(c, func(entryID clinic.EntryID) (clinic.QueueEntry, error) {
		return h.clinic.Call(c.Request.Context(), entryID)
	})
}

func (h *httpHandler) handleComplete(c *gin.Context) {
	h.runTransition(c, func(entryID clinic.EntryID) (clinic.QueueEntry, error) {
		return h.clinic.Complete(c.Request.Context(), entryID)
	})
}

func (h *httpHandler) runTransition(c *gin.Context, apply func(clinic.EntryID) (clinic.QueueEntry, error)) {
	entryID, err := clinic.NewEntryID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_entry_id"})
		return
	}

	entry, err := apply(entryID)
	switch {
	case errors.Is(err, clinic.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "entry_not_found"})
	case errors.Is(err, clinic.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition"})
	case err != nil:
		h.logger.Error("queue transition failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transition_failed"})
	default:
		c.JSON(http.StatusOK, entryResponse(entry))
	}
}

type reorderRequestPayload struct {
	EntryIDs []string `json:"entry_ids"`
}

func (h *httpHandler) handleReorder(c *gin.Context) {
	var request reorderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.EntryIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	orderedIDs := make([]clinic.EntryID, 0, len(request.EntryIDs))
	for _, raw := range request.EntryIDs {
		entryID, err := clinic.NewEntryID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_entry_id"})
			return
		}
		orderedIDs = append(orderedIDs, entryID)
	}

	err := h.clinic.Reorder(c.Request.Context(), orderedIDs)
	switch {
	case errors.Is(err, clinic.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "entry_not_found"})
	case err != nil:
		h.logger.Error("queue reorder failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reorder_failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"reordered": len(orderedIDs)})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(staffIDContextKey, claims.StaffID)
	c.Set(staffRoleContextKey, claims.Role)
	c.Next()
}
