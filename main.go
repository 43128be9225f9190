package main

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"github.com/smiley16479/music-room-sub004/controllers"
	"github.com/smiley16479/music-room-sub004/inits"
	"github.com/smiley16479/music-room-sub004/middleware"
	"github.com/smiley16479/music-room-sub004/models"
	"github.com/smiley16479/music-room-sub004/realtime"
)

func init() {
	inits.InitConfig()
	inits.ConnectToDB()
	inits.DB.AutoMigrate(&models.User{}, &models.Device{})
}

func main() {
	gin.SetMode(gin.ReleaseMode)

	r := gin.Default()

	r.SetTrustedProxies([]string{"127.0.0.1"})
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	// Public routes
	r.POST("/users/login", controllers.Login)
	r.POST("/users/signup", controllers.UsersCreate)

	// Protected user routes
	r.GET("/users/cookie", middleware.AuthMiddleware(), controllers.User)
	r.POST("/users/logout", middleware.AuthMiddleware(), controllers.LogOut)

	// Device routes
	r.POST("/devices", middleware.AuthMiddleware(), controllers.CreateDevice)
	r.GET("/devices", middleware.AuthMiddleware(), controllers.GetDevices)
	r.GET("/devices/:id", middleware.AuthMiddleware(), controllers.GetDevice)
	r.PUT("/devices/:id", middleware.AuthMiddleware(), controllers.UpdateDevice)
	r.DELETE("/devices/:id", middleware.AuthMiddleware(), controllers.DeleteDevice)

	// Delegation routes
	r.POST("/devices/:id/delegate", middleware.AuthMiddleware(), controllers.DelegateControl)
	r.DELETE("/devices/:id/delegate", middleware.AuthMiddleware(), controllers.RevokeControl)
	r.PUT("/devices/:id/delegate/extend", middleware.AuthMiddleware(), controllers.ExtendControl)

	// Playback routes, one per action
	r.POST("/devices/:id/play", middleware.AuthMiddleware(), controllers.Play)
	r.POST("/devices/:id/pause", middleware.AuthMiddleware(), controllers.Pause)
	r.POST("/devices/:id/skip", middleware.AuthMiddleware(), controllers.Skip)
	r.POST("/devices/:id/previous", middleware.AuthMiddleware(), controllers.Previous)
	r.POST("/devices/:id/volume", middleware.AuthMiddleware(), controllers.SetVolume)
	r.POST("/devices/:id/seek", middleware.AuthMiddleware(), controllers.Seek)
	r.POST("/devices/:id/shuffle", middleware.AuthMiddleware(), controllers.SetShuffle)
	r.POST("/devices/:id/repeat", middleware.AuthMiddleware(), controllers.SetRepeat)

	// Event side
	r.GET("/ws", middleware.AuthMiddleware(), realtime.HandleConnections)

	controllers.StartJanitor()

	r.Run(":" + viper.GetString("port"))
}
