package siem

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagespace/internal/retry"
)

func TestSignAndVerify(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"events":[]}`)
	sig := Sign(secret, "1700000000", body)

	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.True(t, Verify(secret, "1700000000", body, sig))
	assert.False(t, Verify(secret, "1700000001", body, sig))
	assert.False(t, Verify([]byte("other"), "1700000000", body, sig))
}

func TestWebhookSenderSignsBody(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		ts := r.Header.Get(HeaderTimestamp)
		if !Verify([]byte("key"), ts, body, r.Header.Get(HeaderSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.NotEmpty(t, r.Header.Get(HeaderDelivery))

		var payload struct {
			Events []Event `json:"events"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		received.Add(int32(len(payload.Events)))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(srv.URL, "key", srv.Client())
	require.NoError(t, err)
	defer sender.Close()

	events := []Event{
		NewEvent("t1", "avery", "page.create", "page", "p1", OutcomeSuccess),
		NewEvent("t1", "avery", "page.delete", "page", "p2", OutcomeSuccess),
	}
	require.NoError(t, sender.Send(context.Background(), events))
	assert.Equal(t, int32(2), received.Load())
}

func TestWebhookSenderStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		wantErr   bool
		permanent bool
	}{
		{status: http.StatusOK},
		{status: http.StatusNoContent},
		{status: http.StatusBadRequest, wantErr: true, permanent: true},
		{status: http.StatusUnauthorized, wantErr: true, permanent: true},
		{status: http.StatusRequestTimeout, wantErr: true},
		{status: http.StatusTooManyRequests, wantErr: true},
		{status: http.StatusServiceUnavailable, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			sender, err := NewWebhookSender(srv.URL, "", srv.Client())
			require.NoError(t, err)
			defer sender.Close()

			err = sender.Send(context.Background(), []Event{NewEvent("t", "a", "x", "y", "z", OutcomeSuccess)})
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.permanent, retry.IsPermanent(err))
			assert.Equal(t, tc.permanent, errors.Is(err, ErrPermanent))
		})
	}
}

func TestNewWebhookSenderRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com", "not a url", "https://"} {
		_, err := NewWebhookSender(raw, "", nil)
		assert.Error(t, err, raw)
	}
}
