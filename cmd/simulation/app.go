// 文件: cmd/simulation/app.go
// 组件装配

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"levpool.com/pkg/account"
	"levpool.com/pkg/alert"
	"levpool.com/pkg/asset"
	"levpool.com/pkg/config"
	"levpool.com/pkg/events"
	"levpool.com/pkg/kafka"
	"levpool.com/pkg/keeper"
	"levpool.com/pkg/metrics"
	lpnats "levpool.com/pkg/nats"
	"levpool.com/pkg/oracle"
	"levpool.com/pkg/pool"
	"levpool.com/pkg/session"
	"levpool.com/pkg/storage"
)

// app 运行中的全部组件
type app struct {
	cfg *config.Config
	log *zap.Logger

	ledger   *asset.Ledger
	feed     *oracle.Feed
	prices   oracle.PriceSink // 场景写价格的入口
	fanout   *oracle.Broadcaster
	sessions *session.Registry
	clock    *pool.TickerClock
	engine   *pool.Engine
	keeper   *keeper.Keeper
	repo     *storage.EventRepo
	recorder *events.Recorder
	natsPub  *lpnats.Publisher
	alerts   alert.Manager
	watcher  *alert.Watcher
	tickers  []*oracle.Ticker

	fresh bool // 本次启动完成了池初始化

	closers []func() // 逆序关闭
}

// teeSink 报价同时写入多个价格源，第一个失败即返回
type teeSink []oracle.PriceSink

func (t teeSink) SetPrice(ctx context.Context, key string, price int64, ts uint64) error {
	for _, s := range t {
		if err := s.SetPrice(ctx, key, price, ts); err != nil {
			return err
		}
	}
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 1. 存储
	var store pool.Store = pool.NewMemStore()
	if cfg.Storage.Driver != "" {
		db, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		gs := storage.NewGormStore(db)
		if err := gs.Migrate(ctx); err != nil {
			return nil, err
		}
		store = gs
		a.repo = storage.NewEventRepo(db)
		logger.Info("[Storage] database ready", zap.String("driver", cfg.Storage.Driver))
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		store = storage.NewRedisStore(store, rdb, cfg.Ledger.Interval, logger)
		logger.Info("[Storage] redis cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	// 2. 账本 / 报价 / 会话 / 时钟
	a.ledger = asset.NewLedger()
	a.feed = oracle.NewFeed()
	a.fanout = oracle.NewBroadcaster()
	a.feed.OnUpdate(a.fanout.Broadcast)
	a.closers = append(a.closers, a.fanout.Close)
	var priceOracle pool.PriceOracle = a.feed
	a.prices = a.feed
	if rdb != nil {
		rf := oracle.NewRedisFeed(rdb, cfg.Redis.PriceTTL)
		priceOracle = rf
		// 先写 Redis，再写本地 Feed 触发守护进程回调
		a.prices = teeSink{rf, a.feed}
	}

	a.clock = pool.NewTickerClock(cfg.Ledger.Start, cfg.Ledger.Interval)
	a.closers = append(a.closers, a.clock.Stop)
	a.sessions = session.NewRegistry(a.clock, nil, logger)

	// 3. 事件
	var publishers []pool.Publisher
	if cfg.NATS.URL != "" {
		pub, err := lpnats.NewPublisher(cfg.NATS.URL)
		if err != nil {
			return nil, err
		}
		a.natsPub = pub
		a.closers = append(a.closers, pub.Close)
		publishers = append(publishers, events.NewNatsPublisher(pub))

		priceSub, err := lpnats.NewSubscriber(cfg.NATS.URL, oracle.TickHandler(a.prices, logger), logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = priceSub.Close() })
		if err := priceSub.Subscribe(oracle.SubjectAll); err != nil {
			return nil, err
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.DefaultProducerConfig(cfg.Kafka.Brokers), logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = producer.Close() })
		publishers = append(publishers, events.NewKafkaPublisher(producer, cfg.Kafka.Topic))
	}

	if a.repo != nil {
		if err := a.startRecorder(&publishers); err != nil {
			return nil, err
		}
	}

	ids, err := events.NewSnowflakeIDs(cfg.NodeID)
	if err != nil {
		return nil, err
	}

	// 4. 引擎
	var publisher pool.Publisher
	switch len(publishers) {
	case 0:
	case 1:
		publisher = publishers[0]
	default:
		publisher = events.Multi(publishers)
	}

	a.engine, err = pool.NewEngine(pool.Config{
		Custody:   account.Address(cfg.Pool.Custody),
		Assets:    a.ledger,
		Oracle:    priceOracle,
		Sessions:  a.sessions,
		Clock:     a.clock,
		Store:     store,
		Publisher: publisher,
		IDs:       ids,
		Observer:  m,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	if err := a.engine.Start(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.engine.Stop)

	if err := a.bootstrap(ctx); err != nil {
		return nil, err
	}

	// 5. 守护进程 / 预警
	if cfg.Keeper.Enabled {
		if err := a.startKeeper(ctx, m); err != nil {
			return nil, err
		}
	}
	a.startAlerts(ctx, rdb)
	return a, nil
}

// startRecorder 事件落库: 有消息总线时从总线消费，否则引擎直接写库
func (a *app) startRecorder(publishers *[]pool.Publisher) error {
	cfg := a.cfg
	a.recorder = events.NewRecorder(a.repo, a.log)

	if cfg.NATS.URL != "" {
		sub, err := lpnats.NewSubscriber(cfg.NATS.URL, a.recorder.HandleNATS, a.log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = sub.Close() })
		if err := a.recorder.StartNATS(sub); err != nil {
			return err
		}
		return nil
	}
	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := kafka.NewConsumer(
			kafka.DefaultConsumerConfig(cfg.Kafka.Brokers, cfg.Kafka.GroupID, []string{cfg.Kafka.Topic}),
			a.recorder.HandleKafka, a.log)
		if err != nil {
			return err
		}
		consumer.Start()
		a.closers = append(a.closers, func() { _ = consumer.Stop() })
		return nil
	}
	*publishers = append(*publishers, a.repo)
	return nil
}

// bootstrap 首次启动时按配置初始化池并登记保证金类型
func (a *app) bootstrap(ctx context.Context) error {
	_, err := a.engine.GetParams(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pool.ErrNotInitialized) {
		return err
	}

	params, err := a.cfg.PoolParams()
	if err != nil {
		return err
	}
	adminCtx := account.WithSigners(ctx, params.Admin)
	if err := a.engine.Initialize(adminCtx, params); err != nil {
		return fmt.Errorf("initialize pool: %w", err)
	}
	for _, col := range a.cfg.Collateral {
		c, err := col.Config()
		if err != nil {
			return err
		}
		if err := a.engine.SetCollateralType(adminCtx, params.Admin, account.Address(col.Token), c); err != nil {
			return fmt.Errorf("collateral %s: %w", col.Token, err)
		}
	}
	a.fresh = true
	a.log.Info("[Sim] ✅ pool initialized",
		zap.String("admin", params.Admin.String()),
		zap.String("pool_asset", params.PoolAsset.String()),
		zap.Int("collateral_types", len(a.cfg.Collateral)))
	return nil
}

func (a *app) startKeeper(ctx context.Context, m *metrics.Metrics) error {
	kc := a.cfg.Keeper
	cfg := keeper.DefaultConfig(account.Address(kc.Liquidator))
	if kc.ScanInterval > 0 {
		cfg.ScanInterval = kc.ScanInterval
	}
	cfg.AccrueAfter = kc.AccrueAfter
	if kc.Workers > 0 {
		cfg.Workers = kc.Workers
	}
	if kc.QueueSize > 0 {
		cfg.QueueSize = kc.QueueSize
	}

	k, err := keeper.New(a.engine, a.clock, cfg, m, a.log)
	if err != nil {
		return err
	}
	updates := a.fanout.Subscribe(0)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				k.OnPrice(u.Key, u.Price)
			}
		}
	}()
	k.Start()
	a.keeper = k
	// 守护进程先于引擎关闭
	a.closers = append(a.closers, k.Stop)
	return nil
}

// startAlerts 报价预警: 有 Redis 用 Redis 存规则，有 NATS 推送到用户主题
func (a *app) startAlerts(ctx context.Context, rdb *redis.Client) {
	if rdb != nil {
		a.alerts = alert.NewRedisManager(rdb)
	} else {
		a.alerts = alert.NewMemoryManager()
	}
	var notifier alert.Notifier = alert.NotifierFunc(func(context.Context, alert.Notification) error { return nil })
	if a.natsPub != nil {
		notifier = alert.NewNatsNotifier(a.natsPub)
	}
	a.watcher = alert.NewWatcher(a.alerts, notifier, a.log)
	go a.watcher.Run(ctx, a.fanout.Subscribe(0))
}

// startDrift 为每个启用的保证金启动模拟报价，从当前价格开始随机游走
func (a *app) startDrift(ctx context.Context) {
	for _, col := range a.cfg.Collateral {
		if !col.Active {
			continue
		}
		p, ok, err := a.feed.LastPrice(ctx, col.PriceFeed)
		if err != nil || !ok {
			continue
		}
		t := oracle.NewTicker(col.PriceFeed, p.Price, a.cfg.Ledger.Interval, a.prices, a.log)
		t.Start(ctx)
		a.tickers = append(a.tickers, t)
		a.closers = append(a.closers, t.Stop)
		a.log.Info("[Sim] price drift started", zap.String("feed", col.PriceFeed), zap.Int64("price", p.Price))
	}
}

// Close 逆序关闭全部组件
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.watcher != nil {
		s := a.watcher.Stats()
		a.log.Info("[Alert] final stats",
			zap.Int64("updates", s.Updates),
			zap.Int64("notified", s.Notified),
			zap.Int64("errors", s.Errors))
	}
	if a.recorder != nil {
		s := a.recorder.Stats()
		a.log.Info("[Recorder] final stats",
			zap.Int64("received", s.Received),
			zap.Int64("written", s.Written),
			zap.Int64("errors", s.Errors))
	}
}
