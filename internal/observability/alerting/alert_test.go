package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/pkg/logger"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestFromError(t *testing.T) {
	err := xerrors.New(xerrors.CodeCheckpointFailure, "写入失败", xerrors.WithMetadata("driver", "sqlite"))
	ev := FromError("s1", err)
	assert.Equal(t, xerrors.CodeCheckpointFailure, ev.Code)
	assert.Equal(t, xerrors.SeverityCritical, ev.Severity)
	assert.Equal(t, "sqlite", ev.Metadata["driver"])
	assert.Equal(t, "s1", ev.SessionID)
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelLog}
	bad := &recordingNotifier{channel: ChannelWebhook, err: assert.AnError}
	d := NewFanout(ok, bad, nil)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeRateLimited})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, ok.events, 1)
	assert.Len(t, bad.events, 1)

	var nilDispatcher *FanoutDispatcher
	assert.NoError(t, nilDispatcher.Notify(context.Background(), Event{}))
}

func TestWebhookNotifier(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}, Client: srv.Client()}
	require.NoError(t, n.Notify(context.Background(), Event{Code: xerrors.CodeToolAuth, SessionID: "s9"}))
	assert.Equal(t, xerrors.CodeToolAuth, got.Code)
	assert.Equal(t, "s9", got.SessionID)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	n.URL = failing.URL
	assert.Error(t, n.Notify(context.Background(), Event{}))

	assert.NoError(t, (&WebhookNotifier{}).Notify(context.Background(), Event{}), "unconfigured webhook is skipped")
}

func TestLogNotifier(t *testing.T) {
	n := &LogNotifier{Logger: logger.Discard()}
	assert.NoError(t, n.Notify(context.Background(), Event{Code: xerrors.CodeBudgetExceeded, Metadata: map[string]string{"k": "v"}}))
}
