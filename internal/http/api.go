package http

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"geonotes/internal/auth"
	"geonotes/internal/domain"
	"geonotes/internal/service"
	"geonotes/internal/storage"
)

const identityKey = "identity"

// Handler wires HTTP routes to domain services.
type Handler struct {
	comments service.CommentService
	users    service.UserService
	blobs    storage.Store
	tokens   *auth.TokenManager
	log      logrus.FieldLogger
}

func NewHandler(comments service.CommentService, users service.UserService, blobs storage.Store, tokens *auth.TokenManager, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		comments: comments,
		users:    users,
		blobs:    blobs,
		tokens:   tokens,
		log:      log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)
	}

	comments := router.Group("/comments")
	{
		comments.GET("", h.listComments)
		comments.POST("", h.requireAuth, h.createComment)
		comments.DELETE("/:id", h.requireAuth, h.deleteComment)
	}

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requireAuth validates the bearer token and stores the caller identity
// in the request context.
func (h *Handler) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	identity, err := h.tokens.Verify(strings.TrimSpace(parts[1]))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	c.Set(identityKey, identity)
	c.Next()
}

func callerIdentity(c *gin.Context) (auth.Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	return identity, ok
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	if _, err := h.users.Register(c.Request.Context(), req.Username, req.Password); err != nil {
		switch {
		case errors.Is(err, service.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
		case errors.Is(err, service.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.log.Errorf("register user: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "user created"})
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.log.Errorf("authenticate user: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		h.log.Errorf("issue token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "username": user.Username})
}

func (h *Handler) listComments(c *gin.Context) {
	comments, err := h.comments.List(c.Request.Context())
	if err != nil {
		h.log.Errorf("list comments: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	resp := make([]CommentResponse, len(comments))
	for i := range comments {
		resp[i] = commentToResponse(comments[i])
	}
	c.JSON(http.StatusOK, resp)
}

type createCommentJSON struct {
	Text   string    `json:"text"`
	Coords []float64 `json:"coords"`
}

// createComment accepts either a multipart form (text, coords as a
// JSON-encoded pair, images[] files) or a plain JSON body for creates
// without uploads. Multipart files are written to the blob store as the
// form is read; the service removes them again if validation or
// persistence fails.
func (h *Handler) createComment(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	input := service.CreateCommentInput{
		AuthorID:   identity.UserID,
		AuthorName: identity.Username,
	}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
			return
		}
		input.Text = c.PostForm("text")
		input.CoordsRaw = c.PostForm("coords")

		uploads, err := h.storeUploads(c, uploadFiles(form))
		if err != nil {
			h.log.Errorf("store uploads: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
			return
		}
		input.Uploads = uploads
	} else {
		var req createCommentJSON
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		input.Text = req.Text
		input.Coords = req.Coords
	}

	comment, err := h.comments.Create(c.Request.Context(), input)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Errorf("create comment: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	c.JSON(http.StatusCreated, commentToResponse(*comment))
}

func (h *Handler) deleteComment(c *gin.Context) {
	identity, ok := callerIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "comment not found"})
		return
	}

	if err := h.comments.Delete(c.Request.Context(), id, identity.UserID); err != nil {
		switch {
		case errors.Is(err, service.ErrCommentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "comment not found"})
		case errors.Is(err, service.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
		default:
			h.log.Errorf("delete comment %d: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

// storeUploads writes every multipart file to the blob store in form
// order. If one write fails the blobs already stored for this request
// are discarded before the error is returned.
func (h *Handler) storeUploads(c *gin.Context, files []*multipart.FileHeader) ([]storage.StoredBlob, error) {
	var uploads []storage.StoredBlob
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			h.discardUploads(c, uploads)
			return nil, err
		}
		blob, err := h.blobs.Save(c.Request.Context(), fh.Filename, f)
		f.Close()
		if err != nil {
			h.discardUploads(c, uploads)
			return nil, err
		}
		uploads = append(uploads, blob)
	}
	return uploads, nil
}

func (h *Handler) discardUploads(c *gin.Context, uploads []storage.StoredBlob) {
	for _, blob := range uploads {
		if err := h.blobs.Delete(c.Request.Context(), blob.Name); err != nil {
			h.log.Warnf("discard upload %s: %v", blob.Name, err)
		}
	}
}

func uploadFiles(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	if files, ok := form.File["images"]; ok {
		return files
	}
	return form.File["images[]"]
}

type CommentResponse struct {
	ID          int64      `json:"id"`
	AuthorID    int64      `json:"author_id"`
	Username    string     `json:"username"`
	Text        string     `json:"text"`
	Coords      [2]float64 `json:"coords"`
	Attachments []string   `json:"attachments"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}

func commentToResponse(comment domain.Comment) CommentResponse {
	attachments := make([]string, len(comment.Attachments))
	for i := range comment.Attachments {
		attachments[i] = comment.Attachments[i].URL
	}
	return CommentResponse{
		ID:          comment.ID,
		AuthorID:    comment.AuthorID,
		Username:    comment.AuthorName,
		Text:        comment.Text,
		Coords:      [2]float64{comment.Lat, comment.Lng},
		Attachments: attachments,
		CreatedAt:   comment.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   comment.UpdatedAt.Format(time.RFC3339),
	}
}
