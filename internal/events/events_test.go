package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/testutil"
	"callsignal-backend/pkg/resilience"
)

func testCall() *domain.Call {
	id := uuid.New()
	duration := 42
	return &domain.Call{
		CallID:         id,
		ConversationID: uuid.New(),
		CallerID:       uuid.New(),
		RoomID:         domain.RoomForCall(id),
		CallType:       domain.CallTypeVideo,
		Status:         domain.CallStatusEnded,
		StartedAt:      time.Now(),
		Duration:       &duration,
	}
}

func TestEncodeDecode(t *testing.T) {
	call := testCall()
	event := NewCallEvent(TypeEnded, call, []uuid.UUID{uuid.New()})

	data, err := Encode(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"call.ended"`)
	assert.Contains(t, string(data), `"duration":42`)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, event.CallID, got.CallID)
	assert.Equal(t, event.Recipients, got.Recipients)

	_, err = Decode([]byte("{"))
	assert.Error(t, err)
}

func TestKafkaPublisher_KeysByCallID(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewSaramaConfig("test"))
	call := testCall()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != call.CallID.String() {
			return errors.New("message not keyed by call id")
		}
		if msg.Topic != "call-events" {
			return errors.New("wrong topic")
		}
		return nil
	})

	pub := NewKafkaPublisherWithProducer(producer, "call-events", resilience.DefaultBreakerConfig())
	require.NoError(t, pub.Publish(context.Background(), NewCallEvent(TypeIncoming, call, nil)))
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_BreakerOpens(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewSaramaConfig("test"))
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherWithProducer(producer, "call-events", resilience.BreakerConfig{
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 2,
		HalfOpenRequests:    1,
	})

	ctx := context.Background()
	event := NewCallEvent(TypeEnded, testCall(), nil)
	assert.ErrorIs(t, pub.Publish(ctx, event), sarama.ErrOutOfBrokers)
	assert.ErrorIs(t, pub.Publish(ctx, event), sarama.ErrOutOfBrokers)
	assert.ErrorIs(t, pub.Publish(ctx, event), gobreaker.ErrOpenState)
	require.NoError(t, pub.Close())
}

func TestRedisPublisher_DeliversToEachRecipient(t *testing.T) {
	client := testutil.StartRedis(t)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	sub := client.Subscribe(ctx, UserChannel(alice), UserChannel(bob))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(client)
	event := NewCallEvent(TypeIncoming, testCall(), []uuid.UUID{alice, bob})
	require.NoError(t, pub.Publish(ctx, event))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		got, err := Decode([]byte(msg.Payload))
		require.NoError(t, err)
		assert.Equal(t, event.ID, got.ID)
		seen[msg.Channel] = true
	}
	assert.True(t, seen[UserChannel(alice)])
	assert.True(t, seen[UserChannel(bob)])
}

func TestRedisPublisher_NoRecipients(t *testing.T) {
	pub := NewRedisPublisher(nil)
	assert.NoError(t, pub.Publish(context.Background(), NewCallEvent(TypeEnded, testCall(), nil)))
}
