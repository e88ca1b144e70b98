package bendload

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// transferRequest describes one HTTP interaction against stage storage: a
// stable endpoint or a one-time presigned URL, optional headers, optional
// streamed payload. Retries reuse the same description with a fresh attempt.
type transferRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   BodySource
}

// TransferError is the terminal failure of a transfer after the retry budget
// was spent. It carries the attempt count, the elapsed wall-clock time since
// the first attempt and the last recorded cause.
type TransferError struct {
	Attempts int
	Elapsed  time.Duration
	Cause    error
}

func (e *TransferError) Error() string {
	return errors.Wrapf(e.Cause, "transfer failed (attempts: %d, duration: %s)", e.Attempts, e.Elapsed).Error()
}

func (e *TransferError) Unwrap() error {
	return e.Cause
}

type attemptOutcome int

const (
	attemptSuccess attemptOutcome = iota
	attemptRetry
	attemptFatal
)

// transferClient executes transfer requests with bounded retries. Retrying
// stops when either the attempt ceiling or the elapsed-time ceiling is
// reached, whichever comes first. Backoff between attempts grows linearly
// with the attempt number. Clock and sleep are injectable so the policy is
// testable without real delays.
type transferClient struct {
	cli         httpDoer
	maxAttempts int
	maxElapsed  time.Duration
	logger      Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newTransferClient(cli httpDoer, maxAttempts int, maxElapsed time.Duration, logger Logger) *transferClient {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxRetryAttempts
	}
	if maxElapsed <= 0 {
		maxElapsed = defaultRetryTimeout
	}
	return &transferClient{
		cli:         cli,
		maxAttempts: maxAttempts,
		maxElapsed:  maxElapsed,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoffDelay(attempt int) time.Duration {
	return time.Duration(attempt) * 100 * time.Millisecond
}

// execute runs req until success or the retry budget is spent. When
// streamBody is true the successful response body is left open for the
// caller to consume and close; otherwise it is closed before returning.
// A request with a non-reusable body source gets exactly one attempt.
func (t *transferClient) execute(ctx context.Context, req *transferRequest, streamBody bool) (*http.Response, error) {
	start := t.now()
	attempts := 0
	var cause error

	for {
		if attempts > 0 {
			elapsed := t.now().Sub(start)
			if elapsed >= t.maxElapsed || attempts >= t.maxAttempts {
				return nil, &TransferError{Attempts: attempts, Elapsed: elapsed, Cause: cause}
			}
			if req.Body != nil && !req.Body.Reusable() {
				return nil, &TransferError{Attempts: attempts, Elapsed: elapsed,
					Cause: errors.Wrap(cause, "payload source is single-use, not retrying")}
			}
			if err := t.sleep(ctx, backoffDelay(attempts)); err != nil {
				return nil, &TransferError{Attempts: attempts, Elapsed: t.now().Sub(start),
					Cause: errors.Wrap(err, "interrupted while waiting to retry")}
			}
		}
		attempts++

		resp, outcome, err := t.attempt(ctx, req, streamBody)
		switch outcome {
		case attemptSuccess:
			return resp, nil
		case attemptFatal:
			return nil, err
		default:
			cause = err
			if t.logger != nil {
				t.logger.Debugf("transfer attempt %d failed: %v", attempts, err)
			}
		}
	}
}

func (t *transferClient) attempt(ctx context.Context, req *transferRequest, streamBody bool) (*http.Response, attemptOutcome, error) {
	httpReq, err := t.buildRequest(ctx, req)
	if err != nil {
		// could not even construct the attempt, e.g. the file is gone
		return nil, attemptFatal, err
	}

	resp, err := t.cli.Do(httpReq)
	if err != nil {
		return nil, attemptRetry, errors.Wrap(ErrDoRequest, err.Error())
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if !streamBody {
			drainBody(resp)
		}
		return resp, attemptSuccess, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// credential or configuration problem, never transient
		return nil, attemptFatal, NewAPIError("unauthorized", resp.StatusCode, body)
	case resp.StatusCode >= 500:
		return nil, attemptRetry, NewAPIError("service unavailable", resp.StatusCode, body)
	default:
		// treated as potentially recoverable, the server side may not have
		// settled yet
		return nil, attemptRetry, NewAPIError("request failed", resp.StatusCode, body)
	}
}

func (t *transferClient) buildRequest(ctx context.Context, req *transferRequest) (*http.Request, error) {
	var body io.ReadCloser
	var size int64
	if req.Body != nil {
		rc, err := req.Body.Open()
		if err != nil {
			return nil, errors.Wrap(err, "failed to open payload source")
		}
		body = rc
		size = req.Body.Size()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		if body != nil {
			_ = body.Close()
		}
		return nil, errors.Wrap(err, "failed to create http request")
	}
	if body != nil {
		// SizeUnknown leaves ContentLength untouched and triggers chunked
		// transfer encoding.
		if size != SizeUnknown {
			httpReq.ContentLength = size
		}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	return httpReq, nil
}

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
