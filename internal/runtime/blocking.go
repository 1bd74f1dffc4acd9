package runtime

import "context"

// Requester issues requests. Transport implements it.
type Requester interface {
	RequestContext(ctx context.Context, source int, payload any, handler Handler, extra ...any) (*Future, error)
}

// BlockingAdapter gives callers a synchronous request. Only one blocking
// request is outstanding per adapter; the others wait for the token.
type BlockingAdapter struct {
	requester Requester
	token     chan struct{}
}

func NewBlockingAdapter(r Requester) *BlockingAdapter {
	return &BlockingAdapter{requester: r, token: make(chan struct{}, 1)}
}

// BlockingRequest issues a request for source and waits for its payload. When
// ctx ends first the request stays queued and ctx.Err() is returned.
func (b *BlockingAdapter) BlockingRequest(ctx context.Context, source int, payload any) ([]byte, error) {
	select {
	case b.token <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-b.token }()

	future, err := b.requester.RequestContext(ctx, source, payload, nil)
	if err != nil {
		return nil, err
	}
	return future.Wait(ctx)
}
