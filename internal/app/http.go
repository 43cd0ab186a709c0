package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agora/api/internal/forum"
	"agora/api/internal/moderation"
	"agora/api/internal/search"
)

const callerKey = "forum.caller"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	engine     *gin.Engine
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	s := &HTTPServer{service: service, corsOrigin: corsOrigin}
	s.engine = s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

func (s *HTTPServer) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestLogger(), gin.Recovery(), metricsMiddleware(), cors.New(corsConfig(s.corsOrigin)))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/api/ready", s.handleReady)

	api := r.Group("/api", s.identify)
	api.GET("/categories", s.handleListCategories)
	api.GET("/categories/:id", s.handleGetCategory)
	api.GET("/topics", s.handleListTopics)
	api.GET("/topics/:id", s.handleGetTopic)
	api.GET("/topics/:id/posts", s.handleGetPosts)
	api.GET("/search", s.handleSearch)

	authed := api.Group("", requireUser)
	authed.POST("/categories", s.handleCreateCategory)
	authed.PATCH("/categories/:id", s.handleUpdateCategory)
	authed.POST("/categories/:id/follow", s.handleFollow)
	authed.DELETE("/categories/:id/follow", s.handleUnfollow)

	authed.POST("/topics", s.handleCreateTopic)
	authed.DELETE("/topics/:id", s.handleDeleteTopic)
	authed.POST("/topics/:id/votes", s.handleVoteTopic)
	authed.PATCH("/topics/:id/moderation", s.handleModerationFlags)
	authed.POST("/topics/:id/posts", s.handleCreatePost)
	authed.POST("/topics/:id/accepted-answer", s.handleAcceptedAnswer)

	authed.POST("/posts/:id/votes", s.handleVotePost)
	authed.PATCH("/posts/:id", s.handleEditPost)
	authed.DELETE("/posts/:id", s.handleDeletePost)

	authed.POST("/reports", s.handleReport)
	authed.GET("/reports", s.handleListReports)
	authed.POST("/reports/:id/review", s.handleReviewReport)
	authed.POST("/reports/:id/resolve", s.handleResolveReport)

	authed.GET("/notifications", s.handleListNotifications)
	authed.POST("/notifications/read-all", s.handleReadAll)
	authed.POST("/notifications/:id/read", s.handleMarkRead(true))
	authed.POST("/notifications/:id/unread", s.handleMarkRead(false))

	authed.POST("/attachments/presign", s.handlePresign)
	return r
}

func corsConfig(origin string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if origin == "" || origin == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = strings.Split(origin, ",")
	}
	return cfg
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ready := true
	checks := gin.H{}
	for name, err := range s.service.Checks(ctx) {
		if err != nil {
			ready = false
			checks[name] = gin.H{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = gin.H{"status": "ok"}
	}
	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ok": ready, "status": status, "checks": checks})
}

// identify resolves the bearer token. Requests without one read as anonymous.
func (s *HTTPServer) identify(c *gin.Context) {
	caller, err := s.service.Authenticate(bearerToken(c.Request))
	if err != nil {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		c.Abort()
		return
	}
	c.Set(callerKey, caller)
	c.Next()
}

func requireUser(c *gin.Context) {
	if !callerFrom(c).Authenticated() {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		c.Abort()
		return
	}
	c.Next()
}

func callerFrom(c *gin.Context) forum.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(forum.Caller); ok {
			return caller
		}
	}
	return forum.Anonymous()
}

// Categories

func (s *HTTPServer) handleListCategories(c *gin.Context) {
	categories, err := s.service.ListCategories(c.Request.Context(), callerFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (s *HTTPServer) handleGetCategory(c *gin.Context) {
	category, err := s.service.GetCategory(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (s *HTTPServer) handleCreateCategory(c *gin.Context) {
	var body forum.CategoryInput
	if !bind(c, &body) {
		return
	}
	category, err := s.service.CreateCategory(c.Request.Context(), callerFrom(c), body)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (s *HTTPServer) handleUpdateCategory(c *gin.Context) {
	var body forum.CategoryPatch
	if !bind(c, &body) {
		return
	}
	category, err := s.service.UpdateCategory(c.Request.Context(), callerFrom(c), c.Param("id"), body)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (s *HTTPServer) handleFollow(c *gin.Context) {
	if err := s.service.FollowCategory(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleUnfollow(c *gin.Context) {
	if err := s.service.UnfollowCategory(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Topics

func (s *HTTPServer) handleListTopics(c *gin.Context) {
	mode, err := forum.ParseSort(c.Query("sort"))
	if err != nil {
		fail(c, err)
		return
	}
	limit, offset, err := pageParams(c)
	if err != nil {
		fail(c, err)
		return
	}
	page, err := s.service.ListTopics(c.Request.Context(), callerFrom(c), forum.TopicFilter{
		CategoryID: c.Query("categoryId"),
		Tags:       splitList(c.QueryArray("tags")),
		Query:      c.Query("q"),
		Sort:       mode,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *HTTPServer) handleCreateTopic(c *gin.Context) {
	var body forum.CreateTopicInput
	if !bind(c, &body) {
		return
	}
	topic, err := s.service.CreateTopic(c.Request.Context(), callerFrom(c), body)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, topic)
}

func (s *HTTPServer) handleGetTopic(c *gin.Context) {
	topic, err := s.service.GetTopic(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, topic)
}

func (s *HTTPServer) handleDeleteTopic(c *gin.Context) {
	if _, err := s.service.DeleteTopic(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type voteBody struct {
	Direction string `json:"direction"`
}

func (s *HTTPServer) handleVoteTopic(c *gin.Context) {
	var body voteBody
	if !bind(c, &body) {
		return
	}
	result, err := s.service.VoteTopic(c.Request.Context(), callerFrom(c), c.Param("id"), body.Direction)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleModerationFlags(c *gin.Context) {
	var body forum.ModerationFlags
	if !bind(c, &body) {
		return
	}
	topic, err := s.service.SetModerationFlags(c.Request.Context(), callerFrom(c), c.Param("id"), body)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, topic)
}

// Posts

func (s *HTTPServer) handleGetPosts(c *gin.Context) {
	posts, err := s.service.GetPosts(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topicId": c.Param("id"), "posts": posts, "depth": forum.Depth(posts)})
}

func (s *HTTPServer) handleCreatePost(c *gin.Context) {
	var body forum.CreatePostInput
	if !bind(c, &body) {
		return
	}
	body.TopicID = c.Param("id")
	post, err := s.service.CreatePost(c.Request.Context(), callerFrom(c), body)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (s *HTTPServer) handleAcceptedAnswer(c *gin.Context) {
	var body struct {
		PostID string `json:"postId"`
	}
	if !bind(c, &body) {
		return
	}
	post, err := s.service.MarkAcceptedAnswer(c.Request.Context(), callerFrom(c), c.Param("id"), body.PostID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (s *HTTPServer) handleVotePost(c *gin.Context) {
	var body voteBody
	if !bind(c, &body) {
		return
	}
	result, err := s.service.VotePost(c.Request.Context(), callerFrom(c), c.Param("id"), body.Direction)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleEditPost(c *gin.Context) {
	var body struct {
		Body string `json:"body"`
	}
	if !bind(c, &body) {
		return
	}
	post, err := s.service.EditPost(c.Request.Context(), callerFrom(c), c.Param("id"), body.Body)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (s *HTTPServer) handleDeletePost(c *gin.Context) {
	post, err := s.service.DeletePost(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// Moderation

func (s *HTTPServer) handleReport(c *gin.Context) {
	var body moderation.ReportInput
	if !bind(c, &body) {
		return
	}
	report, err := s.service.ReportContent(c.Request.Context(), callerFrom(c), body)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

func (s *HTTPServer) handleListReports(c *gin.Context) {
	reports, err := s.service.ListReports(c.Request.Context(), callerFrom(c), c.Query("status"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (s *HTTPServer) handleReviewReport(c *gin.Context) {
	report, err := s.service.MarkReportReviewed(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *HTTPServer) handleResolveReport(c *gin.Context) {
	var body moderation.ResolveInput
	if !bind(c, &body) {
		return
	}
	report, err := s.service.ResolveReport(c.Request.Context(), callerFrom(c), c.Param("id"), body)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Search

func (s *HTTPServer) handleSearch(c *gin.Context) {
	scope, err := search.ParseScope(c.Query("type"))
	if err != nil {
		fail(c, err)
		return
	}
	limit, offset, err := pageParams(c)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := s.service.Search(c.Request.Context(), callerFrom(c), search.Query{
		Text:       c.Query("q"),
		Scope:      scope,
		CategoryID: c.Query("categoryId"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Notifications

func (s *HTTPServer) handleListNotifications(c *gin.Context) {
	unread, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	items, err := s.service.ListNotifications(c.Request.Context(), callerFrom(c), unread)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

func (s *HTTPServer) handleMarkRead(read bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.service.SetNotificationRead(c.Request.Context(), callerFrom(c), c.Param("id"), read)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, n)
	}
}

func (s *HTTPServer) handleReadAll(c *gin.Context) {
	updated, err := s.service.MarkAllNotificationsRead(c.Request.Context(), callerFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// Attachments

func (s *HTTPServer) handlePresign(c *gin.Context) {
	var body struct {
		Filename    string `json:"filename"`
		ContentType string `json:"contentType"`
	}
	if !bind(c, &body) {
		return
	}
	upload, err := s.service.PresignAttachment(c.Request.Context(), callerFrom(c), body.Filename, body.ContentType)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, upload)
}

// helpers

func writeError(c *gin.Context, status int, code, message string, details any) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.JSON(status, response)
}

func fail(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	writeError(c, status, code, message, details)
}

// bind decodes a JSON body. An empty body leaves target untouched.
func bind(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func pageParams(c *gin.Context) (int, int, error) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, forum.Invalid(key, key+" must be a non-negative integer")
	}
	return n, nil
}

// splitList accepts both repeated and comma separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
