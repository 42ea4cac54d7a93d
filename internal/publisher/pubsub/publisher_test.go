package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()

	p := New(nil)
	_, err := p.Publish(context.Background(), "digest", map[string]string{"k": "v"})
	assert.Error(t, err)
	assert.NoError(t, p.Close())
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	p := &Publisher{}
	_, err := p.Publish(context.Background(), "digest", make(chan int))
	require.Error(t, err)
}

func TestDialValidates(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "", "topic")
	assert.Error(t, err)
	_, err = Dial(context.Background(), "project", "")
	assert.Error(t, err)
}
