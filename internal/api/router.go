package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the webhook endpoint and the authenticated
// business routes.
func RegisterRoutes(router *gin.Engine, a *API, jwtSecret string) {
	// The platform calls these; they carry their own verification scheme.
	router.GET("/webhook", a.VerifyWebhookHandler)
	router.POST("/webhook", a.ReceiveWebhookHandler)

	v1 := router.Group("/api/v1")

	business := v1.Group("/business")
	business.Use(AuthMiddleware(jwtSecret))
	{
		business.POST("/resources", a.CreateResourceHandler)
		business.GET("/resources", a.ListResourcesHandler)
		business.DELETE("/resources/:id", a.DeleteResourceHandler)
		business.GET("/search", a.SearchHandler)

		business.POST("/pages/connect", a.ConnectPagesHandler)
		business.GET("/pages", a.ListPagesHandler)
		business.PUT("/pages/:id/reply-mode", a.SetReplyModeHandler)
		business.GET("/pages/:id/posts", a.ListPagePostsHandler)
		business.POST("/pages/:id/sync-comments", a.SyncCommentsHandler)

		business.POST("/tracked-posts", a.TrackPostHandler)
		business.GET("/tracked-posts", a.ListTrackedPostsHandler)

		business.GET("/comments", a.ListCommentsHandler)
		business.POST("/replies/trigger", a.TriggerRepliesHandler)
	}
}
