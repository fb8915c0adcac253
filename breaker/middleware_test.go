package breaker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogateway/model"
)

type fakeClient struct {
	resp model.Response
	err  error
	n    int
}

func (f *fakeClient) Complete(context.Context, model.Request) (model.Response, error) {
	f.n++
	return f.resp, f.err
}

func TestMiddlewarePassesThroughOnSuccess(t *testing.T) {
	b := New(Options{})
	fake := &fakeClient{resp: model.Response{Content: "hello"}}
	client := b.Middleware()(fake)

	resp, err := client.Complete(context.Background(), model.Request{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 1, fake.n)
}

func TestMiddlewareRejectsWhenCircuitOpen(t *testing.T) {
	b := New(Options{FailureThreshold: 1})
	fake := &fakeClient{err: errBoom}
	client := b.Middleware()(fake)

	_, err := client.Complete(context.Background(), model.Request{})
	assert.ErrorIs(t, err, errBoom)

	_, err = client.Complete(context.Background(), model.Request{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, fake.n)
}

func TestMiddlewareNilNextReturnsNil(t *testing.T) {
	b := New(Options{})
	assert.Nil(t, b.Middleware()(nil))
}
