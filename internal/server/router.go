package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tabvault/tabvault/internal/library"
	"github.com/tabvault/tabvault/internal/remote"
	"github.com/tabvault/tabvault/internal/session"
	"github.com/tabvault/tabvault/internal/signing"
	"go.uber.org/zap"
)

var (
	errMissingSpaces      = errors.New("space repository dependency required")
	errMissingCollections = errors.New("collection repository dependency required")
	errMissingTabs        = errors.New("tab repository dependency required")
	errMissingSession     = errors.New("session manager dependency required")
)

// Dependencies wires the control API to the repositories, the session
// manager, and (optionally) the remote client. A nil Remote disables the
// auth proxy routes; the daemon runs fully offline without it.
type Dependencies struct {
	Spaces         *library.SpaceRepository
	Collections    *library.CollectionRepository
	Tabs           *library.TabRepository
	Session        *session.Manager
	Remote         *remote.Client
	Events         *Dispatcher
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewHTTPHandler builds the local control API consumed by the extension UI.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Spaces == nil {
		return nil, errMissingSpaces
	}
	if deps.Collections == nil {
		return nil, errMissingCollections
	}
	if deps.Tabs == nil {
		return nil, errMissingTabs
	}
	if deps.Session == nil {
		return nil, errMissingSession
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = NewDispatcher()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		spaces:      deps.Spaces,
		collections: deps.Collections,
		tabs:        deps.Tabs,
		session:     deps.Session,
		remote:      deps.Remote,
		events:      events,
		logger:      logger,
	}

	v1 := router.Group("/v1")
	v1.GET("/session", handler.handleSession)
	v1.POST("/auth/send-code", handler.handleSendCode)
	v1.POST("/auth/login", handler.handleLogin)
	v1.POST("/auth/register", handler.handleRegister)
	v1.POST("/auth/logout", handler.handleLogout)

	v1.GET("/spaces", handler.handleListSpaces)
	v1.POST("/spaces", handler.handleCreateSpace)
	v1.PUT("/spaces/:id", handler.handleUpdateSpace)
	v1.DELETE("/spaces/:id", handler.handleDeleteSpace)
	v1.POST("/spaces/:id/activate", handler.handleActivateSpace)

	v1.GET("/spaces/:id/collections", handler.handleListCollections)
	v1.POST("/spaces/:id/collections", handler.handleCreateCollection)
	v1.PUT("/collections/:id", handler.handleUpdateCollection)
	v1.DELETE("/collections/:id", handler.handleDeleteCollection)

	v1.GET("/collections/:id/tabs", handler.handleListTabs)
	v1.POST("/collections/:id/tabs", handler.handleCreateTab)
	v1.PUT("/tabs/:id", handler.handleUpdateTab)
	v1.DELETE("/tabs/:id", handler.handleDeleteTab)
	v1.POST("/tabs/:id/move", handler.handleMoveTab)

	v1.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	spaces      *library.SpaceRepository
	collections *library.CollectionRepository
	tabs        *library.TabRepository
	session     *session.Manager
	remote      *remote.Client
	events      *Dispatcher
	logger      *zap.Logger
}

func (h *httpHandler) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, sessionPayload(h.session.Current()))
}

type sendCodePayload struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

func (h *httpHandler) handleSendCode(c *gin.Context) {
	if h.remote == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote_disabled"})
		return
	}
	var request sendCodePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	purpose, err := signing.ParsePurpose(request.Purpose)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_purpose"})
		return
	}
	if err := h.remote.SendVerificationCode(c.Request.Context(), request.Email, purpose); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type loginPayload struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	if h.remote == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote_disabled"})
		return
	}
	var request loginPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var response remote.TokenResponse
	var err error
	if request.Code != "" {
		response, err = h.remote.LoginWithCode(c.Request.Context(), request.Email, request.Code)
	} else {
		response, err = h.remote.LoginWithPassword(c.Request.Context(), request.Email, request.Password)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.completeAuth(c, response)
}

type registerPayload struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	if h.remote == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote_disabled"})
		return
	}
	var request registerPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Email == "" || request.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	response, err := h.remote.Register(c.Request.Context(), request.Email, request.Code, request.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.completeAuth(c, response)
}

func (h *httpHandler) completeAuth(c *gin.Context, response remote.TokenResponse) {
	if err := h.session.SetAuth(c.Request.Context(), response.User, response.AccessToken, response.ExpiresIn); err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventSessionChanged, "")
	c.JSON(http.StatusOK, sessionPayload(h.session.Current()))
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.session.Logout(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventSessionChanged, "")
	c.Status(http.StatusNoContent)
}

type createSpacePayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	IsDefault   bool   `json:"is_default"`
}

func (h *httpHandler) handleListSpaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"spaces":          h.spaces.List(),
		"active_space_id": h.spaces.ActiveSpaceID(),
	})
}

func (h *httpHandler) handleCreateSpace(c *gin.Context) {
	var request createSpacePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	space, err := h.spaces.Add(c.Request.Context(), library.SpaceInput{
		Name:        request.Name,
		Description: request.Description,
		Icon:        request.Icon,
		Color:       request.Color,
		IsDefault:   request.IsDefault,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventSpaceChanged, space.ID)
	c.JSON(http.StatusCreated, space)
}

func (h *httpHandler) handleUpdateSpace(c *gin.Context) {
	var patch library.SpacePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	space, err := h.spaces.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventSpaceChanged, space.ID)
	c.JSON(http.StatusOK, space)
}

func (h *httpHandler) handleDeleteSpace(c *gin.Context) {
	id := c.Param("id")
	if err := h.spaces.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventSpaceChanged, id)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleActivateSpace(c *gin.Context) {
	id := c.Param("id")
	if err := h.spaces.Activate(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventSpaceChanged, id)
	c.Status(http.StatusNoContent)
}

type createCollectionPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	ViewMode    string `json:"view_mode"`
}

func (h *httpHandler) handleListCollections(c *gin.Context) {
	c.JSON(http.StatusOK, h.collections.ListBySpace(c.Param("id")))
}

func (h *httpHandler) handleCreateCollection(c *gin.Context) {
	var request createCollectionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	input := library.CollectionInput{
		Name:        request.Name,
		Description: request.Description,
		Icon:        request.Icon,
		Color:       request.Color,
	}
	if request.ViewMode != "" {
		mode, err := library.ParseViewMode(request.ViewMode)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_view_mode"})
			return
		}
		input.ViewMode = mode
	}
	collection, err := h.collections.Add(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventCollectionChanged, collection.ID)
	c.JSON(http.StatusCreated, collection)
}

func (h *httpHandler) handleUpdateCollection(c *gin.Context) {
	var patch library.CollectionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if patch.ViewMode != nil {
		mode, err := library.ParseViewMode(string(*patch.ViewMode))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_view_mode"})
			return
		}
		patch.ViewMode = &mode
	}
	collection, err := h.collections.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventCollectionChanged, collection.ID)
	c.JSON(http.StatusOK, collection)
}

func (h *httpHandler) handleDeleteCollection(c *gin.Context) {
	id := c.Param("id")
	if err := h.collections.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventCollectionChanged, id)
	c.Status(http.StatusNoContent)
}

type createTabPayload struct {
	Title       string               `json:"title"`
	URL         string               `json:"url"`
	FaviconURL  string               `json:"favicon_url"`
	Description string               `json:"description"`
	Tags        []string             `json:"tags"`
	Metadata    *library.TabMetadata `json:"metadata"`
}

func (h *httpHandler) handleListTabs(c *gin.Context) {
	c.JSON(http.StatusOK, h.tabs.ListByCollection(c.Param("id")))
}

func (h *httpHandler) handleCreateTab(c *gin.Context) {
	var request createTabPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tab, err := h.tabs.Add(c.Request.Context(), c.Param("id"), library.TabInput{
		Title:       request.Title,
		URL:         request.URL,
		FaviconURL:  request.FaviconURL,
		Description: request.Description,
		Tags:        request.Tags,
		Metadata:    request.Metadata,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventTabChanged, tab.ID)
	c.JSON(http.StatusCreated, tab)
}

func (h *httpHandler) handleUpdateTab(c *gin.Context) {
	var patch library.TabPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tab, err := h.tabs.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventTabChanged, tab.ID)
	c.JSON(http.StatusOK, tab)
}

func (h *httpHandler) handleDeleteTab(c *gin.Context) {
	id := c.Param("id")
	if err := h.tabs.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventTabChanged, id)
	c.Status(http.StatusNoContent)
}

type moveTabPayload struct {
	CollectionID string `json:"collection_id"`
}

func (h *httpHandler) handleMoveTab(c *gin.Context) {
	var request moveTabPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.CollectionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tab, err := h.tabs.Move(c.Request.Context(), c.Param("id"), request.CollectionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(EventTabChanged, tab.ID)
	c.JSON(http.StatusOK, tab)
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream, cleanup := h.events.Subscribe(c.Request.Context())
	defer cleanup()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event := <-stream:
			c.SSEvent(event.Type, event)
			flusher.Flush()
		case <-heartbeat.C:
			c.SSEvent(eventHeartbeat, gin.H{})
			flusher.Flush()
		}
	}
}

func (h *httpHandler) publish(eventType, entityID string) {
	h.events.Publish(Event{Type: eventType, EntityID: entityID, Timestamp: time.Now().UTC()})
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	var capacityErr *library.CapacityError
	var remoteErr *remote.Error
	switch {
	case errors.As(err, &capacityErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":         "collection_full",
			"collection_id": capacityErr.CollectionID,
			"limit":         capacityErr.Limit,
		})
	case errors.Is(err, library.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, library.ErrInvalidInput), errors.Is(err, library.ErrInvalidViewMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, remote.ErrAuthRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth_required"})
	case errors.As(err, &remoteErr):
		payload := gin.H{"error": "remote_error"}
		for key, value := range remoteErr.Payload {
			payload[key] = value
		}
		c.JSON(remoteErr.StatusCode, payload)
	default:
		h.logger.Error("control api request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func sessionPayload(snapshot session.Snapshot) gin.H {
	payload := gin.H{"authenticated": snapshot.Authenticated}
	if snapshot.User != nil {
		payload["user"] = snapshot.User
	}
	if !snapshot.ExpiresAt.IsZero() {
		payload["expires_at"] = snapshot.ExpiresAt
	}
	return payload
}
