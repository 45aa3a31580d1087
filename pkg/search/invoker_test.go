package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harun/deepchat/pkg/clock"
)

// MockClient is a mock implementation of Client
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Search(ctx context.Context, q Query) ([]byte, error) {
	args := m.Called(ctx, q)
	raw, _ := args.Get(0).([]byte)
	return raw, args.Error(1)
}

func newTestInvoker(client Client, fake *clock.Fake) *Invoker {
	return NewInvoker(InvokerConfig{
		Client:     client,
		MaxRetries: 2,
		RetryDelay: 2 * time.Second,
		MaxResults: 10,
		Clock:      fake,
		Logger:     zerolog.Nop(),
	})
}

func TestInvokerSucceedsAfterRetries(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	calls := 0
	client := ClientFunc(func(ctx context.Context, q Query) ([]byte, error) {
		calls++
		assert.Equal(t, "latest AI trends", q.Text)
		assert.Equal(t, 10, q.MaxResults)
		assert.Equal(t, TopicGeneral, q.Topic)
		if calls < 3 {
			return nil, errors.New("connection reset")
		}
		return []byte(`[{"title":"a"},{"title":"b"}]`), nil
	})

	var retries []int
	out := newTestInvoker(client, fake).Search(context.Background(), "latest AI trends", func(attempt, max int, err error) {
		assert.Equal(t, 3, max)
		retries = append(retries, attempt)
	})

	assert.False(t, out.Failed)
	assert.Len(t, out.Results, 2)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []int{1, 2}, retries)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, fake.Sleeps())
}

func TestInvokerExhaustedReturnsEmpty(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	calls := 0
	client := ClientFunc(func(ctx context.Context, q Query) ([]byte, error) {
		calls++
		return nil, errors.New("timeout")
	})

	retryCalls := 0
	out := newTestInvoker(client, fake).Search(context.Background(), "q", func(int, int, error) { retryCalls++ })

	assert.True(t, out.Failed)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retryCalls)
	require.Error(t, out.Err)
}

func TestInvokerRetriesUnparsablePayload(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	calls := 0
	client := ClientFunc(func(ctx context.Context, q Query) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte("<html>"), nil
		}
		return []byte(`{"results":[]}`), nil
	})

	out := newTestInvoker(client, fake).Search(context.Background(), "q", nil)

	assert.False(t, out.Failed)
	assert.Empty(t, out.Results)
	assert.Equal(t, 2, calls)
}

func TestInvokerWithoutClient(t *testing.T) {
	inv := newTestInvoker(nil, clock.NewFake(time.Unix(0, 0)))

	assert.False(t, inv.Configured())
	out := inv.Search(context.Background(), "q", nil)
	assert.True(t, out.Failed)
	assert.ErrorIs(t, out.Err, ErrNotConfigured)
}

func TestInvokerSearchQueryKeepsExplicitFields(t *testing.T) {
	client := &MockClient{}
	newsQuery := mock.MatchedBy(func(q Query) bool {
		return q.Text == "fed rates" && q.MaxResults == 3 && q.Topic == TopicNews
	})
	client.On("Search", mock.Anything, newsQuery).Return(nil, errors.New("timeout")).Once()
	client.On("Search", mock.Anything, newsQuery).Return([]byte(`{"results":[{"title":"Rates"}]}`), nil).Once()

	inv := newTestInvoker(client, clock.NewFake(time.Unix(0, 0)))
	out := inv.SearchQuery(context.Background(), Query{Text: "fed rates", MaxResults: 3, Topic: TopicNews}, nil)

	assert.False(t, out.Failed)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "Rates", out.Results[0].Title)
	client.AssertExpectations(t)
	client.AssertNumberOfCalls(t, "Search", 2)
}
