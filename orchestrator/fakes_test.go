package orchestrator

import (
	"context"

	"cogateway/model"
)

// fakeModelClient returns canned replies in order, then an empty JSON object
// once they are exhausted (or errs on every call, if Err is set).
type fakeModelClient struct {
	Replies []string
	Err     error
	calls   int
}

func (f *fakeModelClient) Complete(_ context.Context, _ model.Request) (model.Response, error) {
	if f.Err != nil {
		return model.Response{}, f.Err
	}
	if f.calls >= len(f.Replies) {
		return model.Response{Content: "{}"}, nil
	}
	reply := f.Replies[f.calls]
	f.calls++
	return model.Response{Content: reply}, nil
}
