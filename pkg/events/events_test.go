package events

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levpool.com/pkg/kafka"
	lpnats "levpool.com/pkg/nats"
	"levpool.com/pkg/pool"
	"levpool.com/pkg/storage"
)

func sampleEvent(id string) pool.Event {
	return pool.Event{
		ID: id, Kind: pool.EventPositionOpened, Sequence: 1000,
		User: "alice", PositionID: 1, Borrowed: 3000, Collateral: 10000, Direction: "long",
		At: time.Unix(1_700_000_000, 0).UTC(),
	}
}

func setupRepo(t *testing.T) *storage.EventRepo {
	t.Helper()
	db, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, storage.NewGormStore(db).Migrate(context.Background()))
	return storage.NewEventRepo(db)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "levpool.events.liquidation", Subject(pool.EventLiquidation))
}

func TestKafkaPublisher_KeysByUser(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Errors = true
	mp := mocks.NewAsyncProducer(t, cfg)
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		key, _ := m.Key.Encode()
		if string(key) != "alice" || m.Topic != DefaultTopic {
			return errors.New("unexpected key or topic")
		}
		return nil
	})
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		key, _ := m.Key.Encode()
		if string(key) != "pool" {
			return errors.New("pool events should use the pool key")
		}
		return nil
	})

	producer := kafka.NewProducerWith(mp, nil)
	p := NewKafkaPublisher(producer, "")
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, sampleEvent("e1")))
	require.NoError(t, p.Publish(ctx, pool.Event{ID: "e2", Kind: pool.EventInitialized}))
	require.NoError(t, producer.Close())
	assert.Equal(t, int64(2), producer.Stats().SentCount)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, pool.Event) error { return f.err }

type countingPublisher struct {
	mu sync.Mutex
	n  int
}

func (c *countingPublisher) Publish(context.Context, pool.Event) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func TestMulti_PublishesToAll(t *testing.T) {
	boom := errors.New("boom")
	a, b := &countingPublisher{}, &countingPublisher{}
	m := Multi{a, failingPublisher{err: boom}, b}

	err := m.Publish(context.Background(), sampleEvent("e1"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}

func TestSnowflakeIDs_Unique(t *testing.T) {
	ids, err := NewSnowflakeIDs(1)
	require.NoError(t, err)

	seen := make(map[int64]bool)
	for range 1000 {
		id := ids.NextID()
		require.Positive(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}

	_, err = NewSnowflakeIDs(4096)
	require.Error(t, err)
}

func TestRecorder_WritesAndDeduplicates(t *testing.T) {
	repo := setupRepo(t)
	r := NewRecorder(repo, nil)

	data, err := json.Marshal(sampleEvent("e1"))
	require.NoError(t, err)

	require.NoError(t, r.HandleNATS(Subject(pool.EventPositionOpened), data))
	require.NoError(t, r.HandleKafka(DefaultTopic, 0, 7, []byte("alice"), data))
	// 非事件主题忽略
	require.NoError(t, r.HandleNATS("oracle.price.XLM", data))

	require.Error(t, r.HandleNATS(Subject(pool.EventLiquidation), []byte("{not json")))
	require.Error(t, r.HandleNATS(Subject(pool.EventLiquidation), []byte(`{"kind":"liquidation"}`)))

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st := r.Stats()
	assert.Equal(t, int64(4), st.Received)
	assert.Equal(t, int64(2), st.Written)
	assert.Equal(t, int64(2), st.Errors)
}

// TestNats_PublishAndRecord 本地 NATS 不可用时跳过
func TestNats_PublishAndRecord(t *testing.T) {
	conn, err := natsgo.Connect(natsgo.DefaultURL, natsgo.Timeout(time.Second))
	if err != nil {
		t.Skipf("skipping test; nats not available: %v", err)
	}
	t.Cleanup(conn.Close)

	repo := setupRepo(t)
	r := NewRecorder(repo, nil)
	sub := lpnats.NewSubscriberWithConn(conn, r.HandleNATS, nil)
	require.NoError(t, r.StartNATS(sub))
	t.Cleanup(func() { _ = r.Stop() })

	pub := NewNatsPublisher(lpnats.NewPublisherWithConn(conn))
	require.NoError(t, pub.Publish(context.Background(), sampleEvent("nats-1")))
	require.NoError(t, conn.Flush())

	assert.Eventually(t, func() bool {
		n, err := repo.Count(context.Background())
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)
}
