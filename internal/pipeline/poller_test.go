package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbridge/internal/core/apperror"
	appctx "ledgerbridge/internal/core/context"
	"ledgerbridge/internal/domain/invoice"
	"ledgerbridge/internal/domain/posting"
	"ledgerbridge/pkg/logger"
)

type memSource struct {
	mu       sync.Mutex
	items    [][]byte
	requeued [][]byte
	pullErr  error
}

func (s *memSource) Pull(ctx context.Context, n int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pullErr != nil {
		return nil, s.pullErr
	}
	if n > len(s.items) {
		n = len(s.items)
	}
	out := s.items[:n]
	s.items = s.items[n:]
	return out, nil
}

func (s *memSource) Requeue(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requeued = append(s.requeued, payload)
	return nil
}

type funcPoster struct {
	PostFunc func(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error)
	seen     []string
}

func (p *funcPoster) Post(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error) {
	p.seen = append(p.seen, inv.Identity.Key())
	return p.PostFunc(ctx, inv)
}

type flagHalter struct{ tripped bool }

func (h *flagHalter) IsTripped() bool { return h.tripped }

type countingObserver map[string]int

func (o countingObserver) ObservePoll(d string) { o[d]++ }

func payload(prefix, number string) []byte {
	return []byte(fmt.Sprintf(`{"identity":{"prefix":" %s ","number":"%s"},"lines":[{"code":"A","quantity":"1","unit_price":"10"}]}`, prefix, number))
}

func newPoller(src Source, poster Poster, halter Halter, obs Observer) *Poller {
	return New(Config{BatchSize: 10}, src, poster, halter, obs, logger.NewNop())
}

func TestDrain_Dispositions(t *testing.T) {
	src := &memSource{items: [][]byte{
		payload("FV", "1"),
		payload("FV", "2"),
		payload("FV", "3"),
		payload("FV", "4"),
		[]byte("{not json"),
	}}
	poster := &funcPoster{PostFunc: func(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error) {
		switch inv.Identity.Number {
		case "1":
			return &posting.Receipt{Identity: inv.Identity, LedgerNumber: 7}, nil
		case "2":
			return nil, apperror.NewAlreadyPosted(inv.Identity.Key(), 99)
		case "3":
			return nil, apperror.NewIdentityAlreadyClaimed(inv.Identity.Key())
		default:
			return nil, apperror.NewWriteStepFailure("line", 0, errors.New("bad material"))
		}
	}}
	obs := countingObserver{}

	stats, err := newPoller(src, poster, nil, obs).Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{Posted: 1, Requeued: 1, Dropped: 3}, stats)
	assert.Equal(t, []string{"FV-1", "FV-2", "FV-3", "FV-4"}, poster.seen, "identity is normalized before posting")
	require.Len(t, src.requeued, 1)
	assert.Equal(t, payload("FV", "3"), src.requeued[0])
	assert.Equal(t, 1, obs[DispositionInvalid])
	assert.Equal(t, 2, obs[DispositionDropped])
}

func TestDrain_ConnectionLossRequeuesRestOfBatch(t *testing.T) {
	src := &memSource{items: [][]byte{payload("FV", "1"), payload("FV", "2"), payload("FV", "3")}}
	poster := &funcPoster{PostFunc: func(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error) {
		return nil, apperror.NewConnectionUnavailable(errors.New("network is down"))
	}}

	stats, err := newPoller(src, poster, nil, nil).Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{Requeued: 3}, stats)
	assert.Equal(t, []string{"FV-1"}, poster.seen)
	assert.Len(t, src.requeued, 3)
}

func TestDrain_LockContentionIsRequeued(t *testing.T) {
	src := &memSource{items: [][]byte{payload("FV", "1"), payload("FV", "2")}}
	poster := &funcPoster{PostFunc: func(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error) {
		if inv.Identity.Number == "1" {
			return nil, apperror.NewLedgerBusy(errors.New("database is locked"))
		}
		return &posting.Receipt{Identity: inv.Identity, LedgerNumber: 8}, nil
	}}

	stats, err := newPoller(src, poster, nil, nil).Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{Posted: 1, Requeued: 1}, stats)
	assert.Equal(t, []string{"FV-1", "FV-2"}, poster.seen, "contention on one invoice does not stop the batch")
	require.Len(t, src.requeued, 1)
	assert.Equal(t, payload("FV", "1"), src.requeued[0])
}

func TestDrain_StopsWhenBreakerTrips(t *testing.T) {
	halter := &flagHalter{}
	src := &memSource{items: [][]byte{payload("FV", "1"), payload("FV", "2")}}
	poster := &funcPoster{PostFunc: func(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error) {
		halter.tripped = true
		return nil, apperror.NewCriticalNumberingFailure("FV", "FV", 3)
	}}
	p := newPoller(src, poster, halter, nil)

	stats, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Requeued: 2}, stats)
	assert.Equal(t, []string{"FV-1"}, poster.seen)

	// Tripped: nothing is pulled.
	src.items = [][]byte{payload("FV", "9")}
	stats, err = p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Len(t, src.items, 1)
}

func TestDrain_PullError(t *testing.T) {
	src := &memSource{pullErr: errors.New("redis down")}
	_, err := newPoller(src, &funcPoster{}, nil, nil).Drain(context.Background())
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := &memSource{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		newPoller(src, &funcPoster{}, nil, nil).Run(ctx)
		close(done)
	}()
	cancel()
	<-done
}

func TestDrain_TagsEachMessageWithPollerTrace(t *testing.T) {
	src := &memSource{items: [][]byte{payload("FV", "1"), payload("FV", "2")}}
	var traces []appctx.Trace
	poster := &funcPoster{PostFunc: func(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error) {
		tr, ok := appctx.TraceFrom(ctx)
		require.True(t, ok)
		traces = append(traces, tr)
		return &posting.Receipt{Identity: inv.Identity}, nil
	}}

	_, err := newPoller(src, poster, nil, nil).Drain(context.Background())
	require.NoError(t, err)

	require.Len(t, traces, 2)
	for _, tr := range traces {
		assert.Equal(t, appctx.OriginPoller, tr.Origin)
		assert.NotEmpty(t, tr.TraceID)
	}
	assert.NotEqual(t, traces[0].TraceID, traces[1].TraceID)
}
