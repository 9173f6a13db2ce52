package kafka

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMessage struct {
	key, body string
}

func (m testMessage) Topic() string          { return "levpool.events" }
func (m testMessage) Key() string            { return m.key }
func (m testMessage) Value() ([]byte, error) { return []byte(m.body), nil }

func TestProducer_SendAndStats(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Errors = true
	mp := mocks.NewAsyncProducer(t, cfg)
	mp.ExpectInputWithCheckerFunctionAndSucceed(func(v []byte) error {
		if string(v) != `{"kind":"lp_deposit"}` {
			return errors.New("unexpected payload")
		}
		return nil
	})
	mp.ExpectInputAndFail(errors.New("broker down"))

	p := NewProducerWith(mp, nil)
	require.NoError(t, p.Send(testMessage{key: "lp1", body: `{"kind":"lp_deposit"}`}))
	require.NoError(t, p.SendRaw("levpool.events", "alice", []byte(`{}`)))
	require.NoError(t, p.Close())

	st := p.Stats()
	assert.Equal(t, int64(2), st.SentCount)
	assert.Equal(t, int64(1), st.ErrorCount)

	assert.ErrorIs(t, p.SendRaw("levpool.events", "alice", nil), ErrProducerClosed)
	// 重复关闭
	assert.NoError(t, p.Close())
}

func TestProducerConfig_SaramaConfig(t *testing.T) {
	sc := DefaultProducerConfig([]string{"localhost:9092"}).SaramaConfig()
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionSnappy, sc.Producer.Compression)
	assert.True(t, sc.Producer.Return.Errors)
	assert.False(t, sc.Producer.Return.Successes)

	cfg := DefaultProducerConfig(nil)
	cfg.RequiredAcks, cfg.Compression = 0, "none"
	sc = cfg.SaramaConfig()
	assert.Equal(t, sarama.NoResponse, sc.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionNone, sc.Producer.Compression)
}
