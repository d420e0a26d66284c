package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/palemoky/bad-cards/internal/config"
	"github.com/palemoky/bad-cards/internal/game/engine"
	"github.com/palemoky/bad-cards/internal/game/pack"
	"github.com/palemoky/bad-cards/internal/identity"
	"github.com/palemoky/bad-cards/internal/logger"
	"github.com/palemoky/bad-cards/internal/protocol/codec"
	"github.com/palemoky/bad-cards/internal/server"
	"github.com/palemoky/bad-cards/internal/server/api"
	"github.com/palemoky/bad-cards/internal/server/bus"
	"github.com/palemoky/bad-cards/internal/server/registry"
	"github.com/palemoky/bad-cards/internal/server/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Warnf("加载配置文件失败，使用默认配置: %v", err)
		cfg = config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			log.Fatalf("读取环境变量失败: %v", err)
		}
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		log.Fatalf("redis 连接失败: %v", err)
	}

	repo, closeRepo := openRepository(ctx, cfg, rdb)
	defer closeRepo()

	catalog, err := pack.LoadCatalog(os.DirFS(cfg.Packs.Dir))
	if err != nil {
		log.Warnf("⚠️ 未加载静态卡包: %v", err)
	}
	var remote *pack.Remote
	if cfg.Packs.RemoteBaseURL != "" {
		remote = pack.NewRemote(pack.RemoteOptions{
			BaseURL:   cfg.Packs.RemoteBaseURL,
			Timeout:   cfg.Packs.RemoteTimeoutDuration(),
			CacheTTL:  cfg.Packs.CacheTTLDuration(),
			MemoryTTL: cfg.Packs.MemoryTTLDuration(),
		}, storage.NewPackCache(rdb))
	}
	pool := pack.NewPool(catalog, remote)

	busCodec, err := codec.New(cfg.Bus.Encoding)
	if err != nil {
		log.Fatalf("%v", err)
	}
	clusterBus := bus.NewRedisBus(rdb, cfg.Bus.Channel, busCodec)

	var verifier identity.Verifier = identity.TrustAll{}
	var registrar api.Registrar = identity.TrustAll{}
	if cfg.Identity.Secret != "" {
		signer := identity.NewSigner(cfg.Identity.Secret, cfg.Identity.TokenTTLDuration())
		verifier, registrar = signer, signer
	} else {
		log.Warn("⚠️ 未配置 identity.secret，不校验玩家令牌")
	}

	leaderboard := storage.NewLeaderboardManager(rdb)
	eng := engine.New(engine.Deps{
		Repo:      repo,
		Scheduler: storage.NewRedisScheduler(rdb),
		Publisher: clusterBus,
		Packs:     pool,
		Verifier:  verifier,
		Recorder:  leaderboard,
	}, engine.Options{
		HandSize:            cfg.Game.HandSize,
		MaxPlayerLimit:      cfg.Game.MaxPlayerLimit,
		MaxSyntheticPlayers: cfg.Game.MaxSyntheticPlayers,
		AutoAdvanceDelay:    cfg.Game.AutoAdvanceDelayDuration(),
		PublicWindow:        cfg.Game.PublicWindowDuration(),
		PublicPageSize:      cfg.Game.PublicPageSize,
		ConflictRetries:     cfg.Game.ConflictRetries,
		SweepInterval:       cfg.Game.SweepIntervalDuration(),
		SweepGrace:          cfg.Game.SweepGraceDuration(),
	})
	defer eng.Stop()

	actions := api.New(api.Deps{
		Engine:       eng,
		Cards:        pool,
		Leaderboard:  leaderboard,
		Registrar:    registrar,
		BuildVersion: cfg.Server.BuildVersion,
		PublicURL:    cfg.Server.PublicURL,
	})
	srv := server.NewServer(cfg, server.Deps{
		Registry: registry.New(),
		Verifier: verifier,
		API:      actions.Handler(),
	})

	go func() {
		if err := clusterBus.Run(ctx, srv.HandleUpdate); err != nil {
			log.Errorf("集群总线退出: %v", err)
			stop()
		}
	}()
	go func() {
		if err := eng.Run(ctx); err != nil {
			log.Errorf("自动推进扫描退出: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		log.Println("正在关闭服务器...")
		eng.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("关闭 HTTP 服务失败: %v", err)
		}
	}()

	log.Println("🃏 Bad Cards 服务器启动中...")
	if err := srv.Start(); err != nil {
		log.Fatalf("服务器启动失败: %v", err)
	}
}

// openRepository 按配置选择游戏文档存储
func openRepository(ctx context.Context, cfg *config.Config, rdb *redis.Client) (engine.Repository, func()) {
	switch cfg.Storage.Driver {
	case "postgres":
		store, pgPool, err := storage.NewPostgresStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pgPool.Close()
			log.Fatalf("postgres 建表失败: %v", err)
		}
		log.Println("🗄️ 游戏文档存储: postgres")
		return store, pgPool.Close
	case "redis":
		log.Println("🗄️ 游戏文档存储: redis")
		return storage.NewRedisStore(rdb), func() {}
	default:
		log.Fatalf("未知的存储驱动: %s", cfg.Storage.Driver)
		return nil, nil
	}
}
