package router

import (
	"chaguasmart/internal/handlers"
	"chaguasmart/internal/middleware"
	"chaguasmart/internal/services"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const sessionName = "chaguasmart_session"

type Deps struct {
	Polls *services.PollService
	Users *services.UserService
}

// New builds the engine with sessions, templates and all routes.
func New(sessionSecret, templatesDir string, deps Deps) (*gin.Engine, error) {
	r := gin.Default()

	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 3600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(middleware.RequestID())
	r.Use(sessions.Sessions(sessionName, store))

	renderer, err := LoadTemplates(templatesDir)
	if err != nil {
		return nil, err
	}
	r.HTMLRender = renderer

	r.Use(middleware.LoadUser(deps.Users))
	RegisterRoutes(r, deps)
	return r, nil
}

func RegisterRoutes(r *gin.Engine, deps Deps) {
	authHandler := handlers.NewAuthHandler(deps.Users)
	pollHandler := handlers.NewPollHandler(deps.Polls)
	voteHandler := handlers.NewVoteHandler(deps.Polls)

	// 公共路由 (Public Routes)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/auth/register", authHandler.Register)   // 注册
	r.POST("/auth/login", authHandler.Login)         // 登录
	r.POST("/auth/logout", authHandler.Logout)       // 退出登录
	r.GET("/categories", pollHandler.Categories)     // 分类列表
	r.GET("/polls", pollHandler.List)                // 投票列表
	r.GET("/polls/:id", pollHandler.Get)             // 投票详情
	r.GET("/polls/:id/results", pollHandler.Results) // 投票结果
	r.GET("/polls/:id/view", pollHandler.View)       // 投票页面 (HTML)

	// 受保护路由 (Protected Routes)
	authorized := r.Group("/")
	authorized.Use(middleware.AuthRequired())
	{
		authorized.GET("/auth/me", authHandler.Me)             // 当前用户
		authorized.POST("/polls", pollHandler.Create)          // 创建投票
		authorized.PATCH("/polls/:id", pollHandler.Update)     // 编辑投票
		authorized.DELETE("/polls/:id", pollHandler.Delete)    // 删除投票
		authorized.POST("/polls/:id/close", pollHandler.Close) // 关闭投票
		authorized.POST("/polls/:id/vote", voteHandler.Vote)   // 投票
		authorized.GET("/polls/:id/votes", voteHandler.List)   // 投票记录
		authorized.GET("/votes/mine", voteHandler.Mine)        // 我的投票
	}
}
