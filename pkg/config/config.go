// 文件: pkg/config/config.go
// 进程配置 (TOML)
//
// 比例类参数用十进制字符串书写，加载后换算成基点:
//
//	borrow_rate = "0.05"  -> 500 bps
//	max_leverage = "10"   -> 100000 bps
//	min_health = "1.0"    -> 10000 bps

package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"levpool.com/pkg/account"
	"levpool.com/pkg/pool"
)

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrPrecision     = errors.New("value finer than one basis point")
)

var bpsScale = decimal.NewFromInt(pool.BasisPoints)

// Config 全部配置
type Config struct {
	Pool       PoolConfig         `toml:"pool"`
	Collateral []CollateralConfig `toml:"collateral"`
	Ledger     LedgerConfig       `toml:"ledger"`
	Storage    StorageConfig      `toml:"storage"`
	Redis      RedisConfig        `toml:"redis"`
	NATS       NATSConfig         `toml:"nats"`
	Kafka      KafkaConfig        `toml:"kafka"`
	Keeper     KeeperConfig       `toml:"keeper"`
	Log        LogConfig          `toml:"log"`
	Metrics    MetricsConfig      `toml:"metrics"`
	NodeID     int64              `toml:"node_id"` // 雪花算法节点
}

// PoolConfig 池参数
type PoolConfig struct {
	Admin            string          `toml:"admin"`
	Custody          string          `toml:"custody"`
	PoolAsset        string          `toml:"pool_asset"`
	BorrowRate       decimal.Decimal `toml:"borrow_rate"`
	LiquidationBonus decimal.Decimal `toml:"liquidation_bonus"`
	MaxLeverage      decimal.Decimal `toml:"max_leverage"`
	MinHealth        decimal.Decimal `toml:"min_health"`
}

// CollateralConfig 保证金类型
type CollateralConfig struct {
	Token     string          `toml:"token"`
	Factor    decimal.Decimal `toml:"factor"`
	PriceFeed string          `toml:"price_feed"`
	Active    bool            `toml:"active"`
}

// LedgerConfig 账本时钟
type LedgerConfig struct {
	Start    uint64        `toml:"start"`
	Interval time.Duration `toml:"interval"`
}

// StorageConfig 数据库
type StorageConfig struct {
	Driver string `toml:"driver"` // mysql / postgres / sqlite，空为内存
	DSN    string `toml:"dsn"`
}

// RedisConfig Redis，Addr 为空时不启用
type RedisConfig struct {
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	PriceTTL time.Duration `toml:"price_ttl"`
}

// NATSConfig NATS，URL 为空时不启用
type NATSConfig struct {
	URL string `toml:"url"`
}

// KafkaConfig Kafka，Brokers 为空时不启用
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
}

// KeeperConfig 清算守护进程
type KeeperConfig struct {
	Enabled      bool          `toml:"enabled"`
	Liquidator   string        `toml:"liquidator"`
	ScanInterval time.Duration `toml:"scan_interval"`
	AccrueAfter  uint64        `toml:"accrue_after"`
	Workers      int           `toml:"workers"`
	QueueSize    int           `toml:"queue_size"`
}

// LogConfig 日志
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"` // 空为 stderr
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	JSON       bool   `toml:"json"`
}

// MetricsConfig 指标
type MetricsConfig struct {
	Addr string `toml:"addr"` // 空为不监听
}

// =============================================================================
// 加载
// =============================================================================

// Default 单机模拟默认配置
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Admin:            "admin",
			Custody:          "pool-custody",
			PoolAsset:        "USDC",
			BorrowRate:       decimal.RequireFromString("0.05"),
			LiquidationBonus: decimal.RequireFromString("0.05"),
			MaxLeverage:      decimal.NewFromInt(10),
			MinHealth:        decimal.NewFromInt(1),
		},
		Collateral: []CollateralConfig{
			{Token: "XLM", Factor: decimal.RequireFromString("0.75"), PriceFeed: "XLM", Active: true},
		},
		Ledger: LedgerConfig{Start: 1, Interval: 5 * time.Second},
		Kafka:  KafkaConfig{Topic: "levpool.events", GroupID: "levpool-recorder"},
		Keeper: KeeperConfig{
			Enabled:      true,
			Liquidator:   "keeper",
			ScanInterval: 5 * time.Second,
			AccrueAfter:  pool.InterestPeriod,
			Workers:      4,
			QueueSize:    100,
		},
		Log: LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
	}
}

// Load 读取 TOML 文件，未出现的字段保留默认值；path 为空返回默认配置
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Pool.Admin) == "" || strings.TrimSpace(c.Pool.Custody) == "" || strings.TrimSpace(c.Pool.PoolAsset) == "" {
		return fmt.Errorf("%w: pool admin, custody and pool_asset are required", ErrInvalidConfig)
	}
	if _, err := c.PoolParams(); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, col := range c.Collateral {
		if seen[col.Token] {
			return fmt.Errorf("%w: duplicate collateral %s", ErrInvalidConfig, col.Token)
		}
		seen[col.Token] = true
		if _, err := col.Config(); err != nil {
			return err
		}
	}
	if c.Keeper.Enabled && strings.TrimSpace(c.Keeper.Liquidator) == "" {
		return fmt.Errorf("%w: keeper liquidator required", ErrInvalidConfig)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("%w: node_id %d not in [0, 1023]", ErrInvalidConfig, c.NodeID)
	}
	switch c.Storage.Driver {
	case "", "mysql", "postgres", "postgresql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("%w: storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}
	return nil
}

// PoolParams 换算成池参数
func (c *Config) PoolParams() (pool.Params, error) {
	var (
		p   pool.Params
		err error
	)
	p.Admin = account.Address(c.Pool.Admin)
	p.PoolAsset = account.Address(c.Pool.PoolAsset)
	if p.BorrowRateBps, err = ToBps(c.Pool.BorrowRate); err != nil {
		return p, fmt.Errorf("borrow_rate: %w", err)
	}
	if p.LiquidationBonusBps, err = ToBps(c.Pool.LiquidationBonus); err != nil {
		return p, fmt.Errorf("liquidation_bonus: %w", err)
	}
	if p.MaxLeverageBps, err = ToBps(c.Pool.MaxLeverage); err != nil {
		return p, fmt.Errorf("max_leverage: %w", err)
	}
	if p.MinHealthBps, err = ToBps(c.Pool.MinHealth); err != nil {
		return p, fmt.Errorf("min_health: %w", err)
	}
	if p.MinHealthBps <= 0 {
		return p, fmt.Errorf("%w: min_health must be positive", ErrInvalidConfig)
	}
	return p, nil
}

// Config 换算成保证金配置
func (c CollateralConfig) Config() (pool.CollateralConfig, error) {
	if strings.TrimSpace(c.Token) == "" || strings.TrimSpace(c.PriceFeed) == "" {
		return pool.CollateralConfig{}, fmt.Errorf("%w: collateral token and price_feed are required", ErrInvalidConfig)
	}
	factor, err := ToBps(c.Factor)
	if err != nil {
		return pool.CollateralConfig{}, fmt.Errorf("collateral %s factor: %w", c.Token, err)
	}
	if factor <= 0 || factor > pool.BasisPoints {
		return pool.CollateralConfig{}, fmt.Errorf("%w: collateral %s factor %s not in (0, 1]", ErrInvalidConfig, c.Token, c.Factor)
	}
	return pool.CollateralConfig{CollateralFactorBps: factor, PriceFeedKey: c.PriceFeed, IsActive: c.Active}, nil
}

// ToBps 十进制比例换算成基点，不允许负数或小于 1bp 的精度
func ToBps(d decimal.Decimal) (int64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative value %s", ErrInvalidConfig, d)
	}
	v := d.Mul(bpsScale)
	if !v.Equal(v.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrPrecision, d)
	}
	if v.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidConfig, d)
	}
	return v.IntPart(), nil
}

// FromBps 基点换算成十进制 (日志 / 展示)
func FromBps(bps int64) decimal.Decimal {
	return decimal.New(bps, -4)
}
