package otp

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/storefront-e2e/internal/errs"
	"github.com/kuitang/storefront-e2e/internal/mailbox"
)

type step struct {
	msg *mailbox.Message
	err error
}

// scriptedSource replays steps in order and repeats the last one.
type scriptedSource struct {
	mu      sync.Mutex
	steps   []step
	calls   int
	queries []string
}

func (s *scriptedSource) FetchLatest(ctx context.Context, query string) (*mailbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i].msg, s.steps[i].err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func codeMessage(body string, at time.Time) *mailbox.Message {
	return &mailbox.Message{
		ID:         "m-" + body,
		ReceivedAt: at,
		Payload:    mailbox.Part{MimeType: "text/plain", Data: base64.URLEncoding.EncodeToString([]byte(body))},
	}
}

func fastFetcher(src Source, timeout time.Duration) *Fetcher {
	return &Fetcher{Source: src, PollInterval: time.Millisecond, PollTimeout: timeout}
}

func TestFetch_PollsUntilCodeArrives(t *testing.T) {
	t.Parallel()
	now := time.Now()
	src := &scriptedSource{steps: []step{
		{err: mailbox.ErrNotFound},
		{err: errs.Wrap(errs.Unavailable, "list messages", errors.New("503"))},
		{msg: codeMessage("no code here", now)},
		{msg: codeMessage("Your code is 482913.", now)},
	}}

	code, err := fastFetcher(src, 5*time.Second).Fetch(context.Background(), Request{Query: "subject:code", After: now})
	require.NoError(t, err)
	require.Equal(t, "482913", code)
	require.Equal(t, 4, src.Calls())
	require.Equal(t, "subject:code", src.queries[0])
}

func TestFetch_StaleMessageIsIgnored(t *testing.T) {
	t.Parallel()
	sent := time.Now()
	src := &scriptedSource{steps: []step{
		{msg: codeMessage("old code 111111", sent.Add(-10*time.Minute))},
		{msg: codeMessage("within skew 222222", sent.Add(-10*time.Second))},
	}}

	code, err := fastFetcher(src, 5*time.Second).Fetch(context.Background(), Request{Query: "q", After: sent})
	require.NoError(t, err)
	require.Equal(t, "222222", code, "messages inside the skew allowance count")
}

func TestFetch_ConfigurationErrorAbortsImmediately(t *testing.T) {
	t.Parallel()
	cfgErr := errs.New(errs.Configuration, "Gmail token file secrets/token.json not found")
	src := &scriptedSource{steps: []step{{err: cfgErr}}}

	_, err := fastFetcher(src, 5*time.Second).Fetch(context.Background(), Request{Query: "q"})
	require.ErrorIs(t, err, cfgErr)
	require.Equal(t, 1, src.Calls())
}

func TestFetch_NonRetryableErrorsAbort(t *testing.T) {
	t.Parallel()
	for _, failure := range []error{
		errs.Wrap(errs.Internal, "create Gmail service", errors.New("bad endpoint")),
		errors.New("unclassified failure"),
	} {
		src := &scriptedSource{steps: []step{{err: mailbox.ErrNotFound}, {err: failure}}}
		_, err := fastFetcher(src, 5*time.Second).Fetch(context.Background(), Request{Query: "q"})
		require.ErrorIs(t, err, failure)
		require.False(t, errors.Is(err, ErrNotFound))
		require.Equal(t, 2, src.Calls())
	}
}

func TestFetch_TimeoutIsNotFoundAndCarriesLastTransient(t *testing.T) {
	t.Parallel()
	transient := errs.Wrap(errs.Unavailable, "list messages", errors.New("connection reset"))
	src := &scriptedSource{steps: []step{{err: mailbox.ErrNotFound}, {err: transient}}}

	_, err := fastFetcher(src, 50*time.Millisecond).Fetch(context.Background(), Request{Query: "q"})
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, transient)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	require.GreaterOrEqual(t, te.Attempts, 2)
}

func TestFetch_TimeoutWithOnlyEmptyPolls(t *testing.T) {
	t.Parallel()
	src := &scriptedSource{steps: []step{{err: mailbox.ErrNotFound}}}
	_, err := fastFetcher(src, 20*time.Millisecond).Fetch(context.Background(), Request{Query: "q"})
	require.ErrorIs(t, err, ErrNotFound)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	require.Nil(t, te.Last)
}

func TestFetch_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &scriptedSource{steps: []step{{err: mailbox.ErrNotFound}}}

	_, err := fastFetcher(src, time.Second).Fetch(ctx, Request{Query: "q"})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestFetch_RespectsPollInterval(t *testing.T) {
	t.Parallel()
	src := &scriptedSource{steps: []step{{err: mailbox.ErrNotFound}}}
	f := &Fetcher{Source: src, PollInterval: 40 * time.Millisecond, PollTimeout: 150 * time.Millisecond}

	_, err := f.Fetch(context.Background(), Request{Query: "q"})
	require.ErrorIs(t, err, ErrNotFound)
	require.LessOrEqual(t, src.Calls(), 5, "polls must be paced by the interval")
}
