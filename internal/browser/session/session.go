package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	// bodyFetchTimeout bounds a single GetResponseBody call.
	bodyFetchTimeout = 30 * time.Second
	// bodyDrainTimeout bounds how long collection waits for in-flight body
	// fetches before returning whatever has landed.
	bodyDrainTimeout = 5 * time.Second
)

// CapturedExchange is one intercepted network response accepted by the
// session's matcher. Immutable once returned by the session.
type CapturedExchange struct {
	APIURL         string
	Method         string
	Status         int64
	RequestHeaders map[string]string
	Body           []byte
}

// ActionExecutor runs CDP actions against the session's browser target. The
// implementation must detach from the operational context so background body
// fetches survive the caller returning early.
type ActionExecutor interface {
	RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error
}

// exchangeState tracks one matched request through its CDP lifecycle.
type exchangeState struct {
	apiURL        string
	method        string
	headers       map[string]string
	status        int64
	body          []byte
	fetchStarted  bool
	loadingFailed bool
}

// Session observes all network events on one browser tab and retains the
// exchanges accepted by its matcher, in strict arrival order. Attach must
// happen before navigation begins or the earliest responses are lost.
type Session struct {
	logger *zap.Logger
	match  MatchFunc
	exec   ActionExecutor

	mu      sync.Mutex
	pending map[network.RequestID]*exchangeState
	// captured holds pointers into pending's states in response-arrival order.
	captured []*exchangeState

	firstOnce sync.Once
	firstC    chan struct{}

	wg sync.WaitGroup
}

// New creates a capture session. match must be pure; exec may be nil when no
// browser is connected (body fetches are then skipped, as in tests).
func New(logger *zap.Logger, match MatchFunc, exec ActionExecutor) *Session {
	return &Session{
		logger:  logger.Named("session"),
		match:   match,
		exec:    exec,
		pending: make(map[network.RequestID]*exchangeState),
		firstC:  make(chan struct{}),
	}
}

// Attach registers the session against the tab's CDP event stream. The caller
// must invoke this before the first navigation on tabCtx; events fired before
// Attach are unrecoverable.
func (s *Session) Attach(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, s.handle)
}

func (s *Session) handle(ev interface{}) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		s.handleRequestWillBeSent(ev)
	case *network.EventResponseReceived:
		s.handleResponseReceived(ev)
	case *network.EventLoadingFinished:
		s.handleLoadingFinished(ev)
	case *network.EventLoadingFailed:
		s.handleLoadingFailed(ev)
	}
}

func (s *Session) handleRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil || !s.match(ev.Request.URL, ev.Request.Method) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Redirect hops reuse the request ID; the final hop wins.
	s.pending[ev.RequestID] = &exchangeState{
		apiURL:  ev.Request.URL,
		method:  ev.Request.Method,
		headers: flattenHeaders(ev.Request.Headers),
	}
}

func (s *Session) handleResponseReceived(ev *network.EventResponseReceived) {
	s.mu.Lock()
	state, ok := s.pending[ev.RequestID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if ev.Response != nil {
		state.status = ev.Response.Status
	}
	s.captured = append(s.captured, state)
	s.mu.Unlock()

	s.firstOnce.Do(func() { close(s.firstC) })
}

func (s *Session) handleLoadingFinished(ev *network.EventLoadingFinished) {
	s.mu.Lock()
	state, ok := s.pending[ev.RequestID]
	start := ok && state.body == nil && !state.fetchStarted && s.exec != nil
	if start {
		state.fetchStarted = true
	}
	s.mu.Unlock()

	if start {
		s.fetchBody(ev.RequestID)
	}
}

func (s *Session) handleLoadingFailed(ev *network.EventLoadingFailed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.pending[ev.RequestID]; ok {
		state.loadingFailed = true
		s.logger.Debug("Matched request failed before completion.",
			zap.String("url", state.apiURL), zap.String("error", ev.ErrorText))
	}
}

// fetchBody retrieves the response body in the background. The body buffer is
// only guaranteed to exist until the browser garbage-collects it, so fetch as
// soon as loading finishes.
func (s *Session) fetchBody(reqID network.RequestID) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		fetchCtx, cancel := context.WithTimeout(context.Background(), bodyFetchTimeout)
		defer cancel()

		var body []byte
		err := s.exec.RunBackgroundActions(fetchCtx,
			chromedp.ActionFunc(func(c context.Context) error {
				var err error
				body, err = network.GetResponseBody(reqID).Do(c)
				return err
			}),
		)

		s.mu.Lock()
		defer s.mu.Unlock()
		state, ok := s.pending[reqID]
		if !ok {
			return
		}
		if err != nil {
			s.logger.Debug("Failed to fetch response body.",
				zap.String("url", state.apiURL), zap.Error(err))
			return
		}
		state.body = body
	}()
}

// AwaitQuiescence blocks until the capture window closes and returns the
// exchanges collected so far, in arrival order.
//
// If nothing has matched after firstTimeout, it returns an empty slice: a
// page that never fires the endpoint is a valid empty capture, not an error.
// Once at least one exchange has arrived it keeps listening for a further
// extraWait to pick up paged follow-up requests, then returns everything.
func (s *Session) AwaitQuiescence(ctx context.Context, firstTimeout, extraWait time.Duration) []CapturedExchange {
	if s.capturedCount() == 0 {
		timer := time.NewTimer(firstTimeout)
		defer timer.Stop()
		select {
		case <-s.firstC:
		case <-timer.C:
			return s.collect(ctx)
		case <-ctx.Done():
			return s.collect(ctx)
		}
	}

	if extraWait > 0 {
		select {
		case <-time.After(extraWait):
		case <-ctx.Done():
		}
	}
	return s.collect(ctx)
}

// Snapshot returns a copy of the exchanges captured up to the calling
// instant, without waiting for in-flight body fetches.
func (s *Session) Snapshot() []CapturedExchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportLocked()
}

func (s *Session) capturedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captured)
}

// collect waits briefly for outstanding body fetches, then snapshots.
func (s *Session) collect(ctx context.Context) []CapturedExchange {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Body collection interrupted; some exchanges may lack bodies.", zap.Error(ctx.Err()))
	case <-time.After(bodyDrainTimeout):
		s.logger.Warn("Timed out waiting for response bodies; some exchanges may lack bodies.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportLocked()
}

func (s *Session) exportLocked() []CapturedExchange {
	out := make([]CapturedExchange, 0, len(s.captured))
	for _, state := range s.captured {
		headers := make(map[string]string, len(state.headers))
		for k, v := range state.headers {
			headers[k] = v
		}
		body := make([]byte, len(state.body))
		copy(body, state.body)
		out = append(out, CapturedExchange{
			APIURL:         state.apiURL,
			Method:         state.method,
			Status:         state.status,
			RequestHeaders: headers,
			Body:           body,
		})
	}
	return out
}

func flattenHeaders(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
