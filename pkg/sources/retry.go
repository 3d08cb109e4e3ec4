package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
)

const defaultRetries = 3

// Options are shared by every source.
type Options struct {
	// Retries is the number of extra attempts made
	// for transient failures.
	Retries int
	// CacheDir is where downloaded files are kept by
	// sources that cannot stream.
	CacheDir string
	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
}

func (o Options) retries() int {
	if o.Retries < 0 {
		return 0
	}
	if o.Retries == 0 {
		return defaultRetries
	}
	return o.Retries
}

// newHTTPClient returns a client that retries server errors
// and timeouts with backoff but gives up immediately on
// 401, 403 and 404.
func newHTTPClient(ctx context.Context, opts Options) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	if opts.Transport != nil {
		client.HTTPClient.Transport = opts.Transport
	}
	client.RetryMax = opts.retries()
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = &leveledLogger{log: logr.FromContextOrDiscard(ctx)}
	client.CheckRetry = checkRetry
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return false, nil
		}
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// get performs a GET request and returns the body
// of a successful response.
func get(ctx context.Context, client *retryablehttp.Client, target string, headers map[string]string, auth func(r *http.Request)) (io.ReadCloser, error) {
	resp, err := do(ctx, client, target, headers, auth)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func do(ctx context.Context, client *retryablehttp.Client, target string, headers map[string]string, auth func(r *http.Request)) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if auth != nil {
		auth(req.Request)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}
	return resp, nil
}

// retry runs op until it succeeds, fails permanently
// or the attempts run out.
func retry(ctx context.Context, opts Options, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(opts.retries())), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// leveledLogger adapts logr to the retryablehttp logger.
type leveledLogger struct {
	log logr.Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error(nil, msg, keysAndValues...)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.V(1).Info(msg, keysAndValues...)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.V(5).Info(msg, keysAndValues...)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Info(msg, keysAndValues...)
}
