// 文件: pkg/alert/redis_manager.go
// Redis 版预警存储
//
//	levpool:alert:detail:{id}            -> 规则 JSON
//	levpool:alert:{feed}:{direction}     -> ZSET, score = 价位, member = "{id}:{type}"
//	levpool:alert:cooldown:{id}          -> 冷却标记 (SETNX + TTL)
//
// 查询只走 ZSET 范围，member 自带类型，命中后再批量取详情

package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Manager = (*RedisManager)(nil)

const (
	keyPrefix    = "levpool:alert:"
	detailPrefix = keyPrefix + "detail:"
	coolPrefix   = keyPrefix + "cooldown:"

	scanBatch = 100
)

func detailKey(id string) string { return detailPrefix + id }

func indexKey(feedKey string, dir Direction) string {
	return keyPrefix + feedKey + ":" + string(dir)
}

// luaSubscribe 写详情并加入索引；覆盖旧规则时先移除旧索引
// KEYS[1]: detail  KEYS[2]: index
// ARGV[1]: id  ARGV[2]: price  ARGV[3]: rule JSON  ARGV[4]: type  ARGV[5]: key prefix
const luaSubscribe = `
	local old = redis.call('GET', KEYS[1])
	if old then
		local r = cjson.decode(old)
		redis.call('ZREM', ARGV[5] .. r["feed_key"] .. ":" .. r["direction"], ARGV[1] .. ":" .. r["type"])
	end
	redis.call('SET', KEYS[1], ARGV[3])
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1] .. ":" .. ARGV[4])
	return 1
`

// luaUnsubscribe 删除详情与索引，不存在返回 0
// KEYS[1]: detail
// ARGV[1]: id  ARGV[2]: key prefix
const luaUnsubscribe = `
	local data = redis.call('GET', KEYS[1])
	if not data then return 0 end
	local r = cjson.decode(data)
	redis.call('ZREM', ARGV[2] .. r["feed_key"] .. ":" .. r["direction"], ARGV[1] .. ":" .. r["type"])
	redis.call('DEL', KEYS[1])
	return 1
`

// RedisManager Redis 版预警存储
type RedisManager struct {
	client *redis.Client
}

// NewRedisManager 创建 Redis 版存储
func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{client: client}
}

// Subscribe 新增或覆盖规则
func (m *RedisManager) Subscribe(ctx context.Context, rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.CreatedAt == 0 {
		rule.CreatedAt = time.Now().Unix()
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	if err := m.client.Eval(ctx, luaSubscribe,
		[]string{detailKey(rule.ID), indexKey(rule.FeedKey, rule.Direction)},
		rule.ID, rule.Price, data, string(rule.Type), keyPrefix).Err(); err != nil {
		return err
	}
	return m.client.Del(ctx, coolPrefix+rule.ID).Err()
}

// Unsubscribe 删除规则
func (m *RedisManager) Unsubscribe(ctx context.Context, id string) error {
	n, err := m.client.Eval(ctx, luaUnsubscribe, []string{detailKey(id)}, id, keyPrefix).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRuleNotFound
	}
	m.client.Del(ctx, coolPrefix+id)
	return nil
}

// Rule 读取规则详情
func (m *RedisManager) Rule(ctx context.Context, id string) (Rule, error) {
	data, err := m.client.Get(ctx, detailKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Rule{}, ErrRuleNotFound
	}
	if err != nil {
		return Rule{}, err
	}
	var r Rule
	if err := json.Unmarshal(data, &r); err != nil {
		return Rule{}, fmt.Errorf("decode alert %s: %w", id, err)
	}
	return r, nil
}

// Triggered 实现 Manager，结果按 ID 排序
func (m *RedisManager) Triggered(ctx context.Context, feedKey string, current, last int64) ([]Rule, error) {
	dir, moved := directionOf(current, last)
	if !moved {
		return nil, nil
	}

	var lo, hi string
	price := strconv.FormatInt(current, 10)
	if dir == Above {
		lo, hi = "-inf", price
	} else {
		lo, hi = price, "+inf"
	}
	index := indexKey(feedKey, dir)

	var (
		ids    []string
		onceMs []any
	)
	for offset := int64(0); ; offset += scanBatch {
		members, err := m.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{
			Min: lo, Max: hi, Offset: offset, Count: scanBatch,
		}).Result()
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			id, typ, found := strings.Cut(member, ":")
			if !found {
				continue
			}
			t := AlertType(typ)
			if t == AlertOnce {
				onceMs = append(onceMs, member)
			} else {
				allowed, err := m.client.SetNX(ctx, coolPrefix+id, "1", t.Cooldown()).Result()
				if err != nil {
					return nil, err
				}
				if !allowed {
					continue
				}
			}
			ids = append(ids, id)
		}
		if len(members) < scanBatch {
			break
		}
	}

	// 全部分页扫描完再移除，避免偏移错位
	if len(onceMs) > 0 {
		if err := m.client.ZRem(ctx, index, onceMs...).Err(); err != nil {
			return nil, err
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = detailKey(id)
	}
	vals, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Rule, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // 详情已被删除
		}
		var r Rule
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, fmt.Errorf("decode alert %s: %w", ids[i], err)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
