package main

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"CareBridge/global/config"
	"CareBridge/logger"
	mid "CareBridge/middleware"
	"CareBridge/middleware/security"
	"CareBridge/service/directory"
	"CareBridge/service/hub"
	"CareBridge/service/match"
	"CareBridge/service/natsx"
	"CareBridge/service/session"
	"CareBridge/service/storage"
	"CareBridge/tools/ids"
	sectool "CareBridge/tools/security"
)

func main() {
	cfgPath := os.Getenv("CAREBRIDGE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}

	ids.SetNodeID(cfg.NodeID)

	store, err := storage.New(storage.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		logger.Errorf("redis: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := directory.Open(ctx, &directory.Config{
		URI:         cfg.Mongo.URI,
		Database:    cfg.Mongo.Database,
		Username:    cfg.Mongo.Username,
		Password:    cfg.Mongo.Password,
		AuthSource:  cfg.Mongo.AuthSource,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
		MaxRetry:    cfg.Mongo.MaxRetry,
	})
	cancel()
	if err != nil {
		logger.Errorf("mongo: %v", err)
		os.Exit(1)
	}

	dir := directory.NewStore(db, store)

	// One registry, one bus, constructed here and injected everywhere.
	reg := hub.NewRegistry()
	bus := hub.NewBus(reg)

	if cfg.NATS.URL != "" {
		bridge, err := natsx.Connect(natsx.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		})
		if err != nil {
			// The bridge is an observer, not a dependency; run without it.
			logger.Warnf("nats bridge disabled: %v", err)
		} else {
			defer bridge.Close()
			bus.WithSink(bridge)
		}
	}

	engine := match.NewEngine(dir)

	var rooms session.RoomProvisioner
	if cfg.RoomService.URL != "" {
		rooms = session.NewHTTPRoomProvisioner(cfg.RoomService.URL, cfg.RoomService.APIKey)
	}
	orch := session.NewOrchestrator(engine, store, bus, rooms)

	sched := session.NewScheduler(dir, bus, session.SchedulerConf{
		SweepEvery:     cfg.SweepEveryDuration(),
		ReminderWindow: cfg.ReminderWindowDuration(),
	})
	sched.Start()
	defer sched.Stop()

	ws := hub.NewServer(reg)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", mid.Origin(cfg.AllowedOrigins), ws.HandleWS)
	r.GET("/healthz", func(c *gin.Context) { c.Status(200) })

	api := r.Group("/api")
	if cfg.JWTSecret != "" {
		api.Use(security.Middleware(sectool.DefaultOptions([]byte(cfg.JWTSecret))))
	}
	session.NewAPI(orch, sched).Register(api)

	logger.Infof("[HTTP] listening on %s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		logger.Errorf("HTTP server failed: %v", err)
		os.Exit(1)
	}
}
