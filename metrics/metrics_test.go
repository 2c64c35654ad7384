package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lucid "github.com/lucid-sec/lucid/go"
	"github.com/lucid-sec/lucid/go/page"
)

type submitterFunc func(context.Context, lucid.NormalizedTransaction) error

func (f submitterFunc) Submit(ctx context.Context, tx lucid.NormalizedTransaction) error {
	return f(ctx, tx)
}

func TestCollectorsFollowInterceptor(t *testing.T) {
	c := New()

	fail := false
	submitter := submitterFunc(func(context.Context, lucid.NormalizedTransaction) error {
		if fail {
			return lucid.NewPipelineError(lucid.ErrCodeRelayTimeout, "no response", nil)
		}
		return nil
	})
	extractor := lucid.ExtractorFunc(func(_ context.Context, call lucid.InterceptedCall) (lucid.NormalizedTransaction, error) {
		params, ok := call.TxParams()
		if !ok {
			return nil, errors.New("no params")
		}
		return lucid.EoaTransaction{From: params["from"].(string)}, nil
	})

	opts := append(c.InterceptorOptions(),
		lucid.WithExtractor("eth_sendTransaction", extractor),
		lucid.WithLogger(zerolog.Nop()),
		lucid.WithPollInterval(time.Hour),
	)
	interceptor, err := lucid.NewInterceptor(page.NewGlobal(), submitter, opts...)
	require.NoError(t, err)

	dispatch := interceptor.Wrap("ethereum", func(context.Context, page.Request) (interface{}, error) {
		return "0xhash", nil
	})
	send := func(from string) {
		_, err := dispatch(context.Background(), page.Request{
			Method: "eth_sendTransaction",
			Params: []interface{}{map[string]interface{}{"from": from}},
		})
		require.NoError(t, err)
		interceptor.Wait()
	}

	send("0x01")
	fail = true
	send("0x02")
	_, err = dispatch(context.Background(), page.Request{Method: "personal_sign", Params: []interface{}{"0x00", "0x01"}})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Intercepted.WithLabelValues("eth_sendTransaction", "signing_supported", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Intercepted.WithLabelValues("personal_sign", "signing_unsupported", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Submissions.WithLabelValues("eoa_transaction")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Failures.WithLabelValues("submit", lucid.ErrCodeRelayTimeout)))
	assert.Equal(t, 2, testutil.CollectAndCount(c.SubmissionDuration))
}

func TestHandlerServesCollectors(t *testing.T) {
	c := New()
	c.Submissions.WithLabelValues("permit").Inc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `lucid_submissions_total{request_type="permit"} 1`), body)
}
