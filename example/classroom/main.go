/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Example: Classroom Client
 *
 * 真实采集设备 + 可选的 WebSocket / Redis 信令，带 gin 状态接口。
 * 配置来自 .env 与环境变量，见 pkg/config。
 * SERVE_RELAY=true 时同时在 /ws 上提供一个内存 relay，便于局域网内直接互联。
 *
 * 构建命令: go build -o classroom example/classroom/main.go
 */
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/maiguangyang/classroom_core/pkg/config"
	"github.com/maiguangyang/classroom_core/pkg/media"
	"github.com/maiguangyang/classroom_core/pkg/media/capture"
	"github.com/maiguangyang/classroom_core/pkg/mesh"
	"github.com/maiguangyang/classroom_core/pkg/signaling"
	"github.com/maiguangyang/classroom_core/pkg/utils"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		utils.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	utils.SetLevel(cfg.LogLevel)
	defer utils.GetLogger().Sync()

	if cfg.ParticipantID == "" {
		cfg.ParticipantID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := signaling.NewHub()
	serveRelay, _ := strconv.ParseBool(os.Getenv("SERVE_RELAY"))

	relay, err := openRelay(ctx, cfg, hub)
	if err != nil {
		utils.Error("Failed to open %s relay: %v", cfg.Relay, err)
		os.Exit(1)
	}
	defer relay.Close()

	var device media.Device
	if dev, err := capture.New(cfg.Capture); err == nil {
		device = dev
	} else {
		utils.Warn("Capture unavailable (%v), using synthetic media", err)
		device = media.NewSyntheticDevice()
	}
	controller := media.NewController(device, cfg.Constraints)
	defer controller.Close()

	session, err := mesh.NewRoomSession(relay, controller, cfg.Mesh)
	if err != nil {
		utils.Error("Failed to create session: %v", err)
		os.Exit(1)
	}
	session.SetOnPeerStateChange(func(peerID string, state webrtc.PeerConnectionState) {
		utils.Info("Peer %s: %s", peerID, state)
	})
	session.SetOnRosterChanged(func(roster []signaling.Participant) {
		utils.Info("Roster: %d participants", len(roster))
	})
	session.SetOnTrackEvent(func(ev mesh.TrackEvent) {
		utils.Info("Track %s %s from %s", ev.Kind, ev.Type, ev.ParticipantID)
	})

	if flags, err := session.StartLocalMedia(ctx, true, true); err != nil {
		utils.Warn("Local media unavailable: %v", err)
	} else {
		utils.Info("Local media: %s", flags.ToJSON())
	}

	if err := session.Join(ctx, cfg.RoomID, cfg.Participant()); err != nil {
		utils.Error("Failed to join %s: %v", cfg.RoomID, err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: newRouter(session, hub, serveRelay),
	}
	go func() {
		utils.Info("Status endpoint listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error("Status endpoint failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session.LeaveRoom(shutdown)
	server.Shutdown(shutdown)
	utils.Info("Bye")
}

func openRelay(ctx context.Context, cfg *config.Config, hub *signaling.Hub) (signaling.Relay, error) {
	switch cfg.Relay {
	case config.RelayRedis:
		return signaling.DialRedis(ctx, cfg.Redis)
	case config.RelayMemory:
		return hub.Connect(), nil
	default:
		return signaling.DialWS(ctx, cfg.RelayURL, cfg.WebSocket)
	}
}

func newRouter(session *mesh.RoomSession, hub *signaling.Hub, serveRelay bool) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, session.GetStatus())
	})
	router.GET("/streams", func(c *gin.Context) {
		c.JSON(http.StatusOK, session.RemoteStreams())
	})
	router.GET("/roster", func(c *gin.Context) {
		c.JSON(http.StatusOK, session.Roster())
	})

	mediaGroup := router.Group("/media")
	{
		mediaGroup.POST("/video", func(c *gin.Context) {
			flags, err := session.ToggleVideo(c.Request.Context())
			respondFlags(c, flags, err)
		})
		mediaGroup.POST("/audio", func(c *gin.Context) {
			flags, err := session.ToggleAudio(c.Request.Context())
			respondFlags(c, flags, err)
		})
		mediaGroup.POST("/screen", func(c *gin.Context) {
			err := session.StartScreenShare(c.Request.Context())
			respondFlags(c, session.LocalState(), err)
		})
		mediaGroup.DELETE("/screen", func(c *gin.Context) {
			err := session.StopScreenShare()
			respondFlags(c, session.LocalState(), err)
		})
	}

	if serveRelay {
		router.GET("/ws", gin.WrapH(signaling.NewWSHandler(hub)))
		router.GET("/rooms/:roomId", func(c *gin.Context) {
			c.JSON(http.StatusOK, hub.Members(c.Param("roomId")))
		})
	}
	return router
}

func respondFlags(c *gin.Context, flags media.Flags, err error) {
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "local": flags})
		return
	}
	c.JSON(http.StatusOK, flags)
}
