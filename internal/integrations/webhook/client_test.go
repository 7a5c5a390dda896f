package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"messaging-ledger/internal/domain"
)

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val      string
	err      error
	calls    int
	lastName string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.calls++
	f.lastName = name
	return f.val, f.err
}

func record(text string) domain.EventRecord {
	return domain.EventRecord{
		ID:        "evt-" + text,
		LedgerID:  "main",
		Seq:       1,
		CallID:    "call-42",
		EmittedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		Event:     domain.MessageSent{From: "alice", To: "bob", Text: text},
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/ledger", "https://hooks.example.com/in")
	require.ErrorContains(t, err, "nil")

	_, err = NewClient(&fakeGetter{}, " / ", "https://hooks.example.com/in")
	require.ErrorContains(t, err, "prefix")

	for _, endpoint := range []string{"", "ftp://hooks.example.com", "https://", "::"} {
		_, err = NewClient(&fakeGetter{}, "/ledger", endpoint)
		require.ErrorContains(t, err, "invalid endpoint", "endpoint=%q", endpoint)
	}
}

func TestPublish_PostsEnvelopes(t *testing.T) {
	var gotAuth, gotKey, gotType string
	var gotBody deliveryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		gotType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	g := &fakeGetter{val: `{"token":"whk-secret"}`}
	c, err := NewClient(g, "/ledger/", srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	err = c.Publish(context.Background(), []domain.EventRecord{record("a"), record("b")})
	require.NoError(t, err)
	require.Equal(t, "Bearer whk-secret", gotAuth)
	require.Equal(t, "call-42", gotKey)
	require.Equal(t, "application/json", gotType)
	require.Len(t, gotBody.Events, 2)
	require.Equal(t, "b", gotBody.Events[1].Data.Text)
	require.Equal(t, "/ledger/webhook-token", g.lastName)
}

func TestPublish_TokenFetchedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := &fakeGetter{val: `{"token":"t"}`}
	c, err := NewClient(g, "/ledger", srv.URL)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Publish(context.Background(), []domain.EventRecord{record("x")}))
	}
	require.Equal(t, 1, g.calls, "SSM must only be called once per process lifetime")
}

func TestPublish_RetriesTokenAfterFailedFetch(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := &fakeGetter{err: errors.New("ThrottlingException")}
	c, err := NewClient(g, "/ledger", srv.URL)
	require.NoError(t, err)

	err = c.Publish(context.Background(), []domain.EventRecord{record("x")})
	require.ErrorContains(t, err, "ThrottlingException")
	require.Empty(t, gotAuth)

	g.err = nil
	g.val = `{"token":"recovered"}`
	require.NoError(t, c.Publish(context.Background(), []domain.EventRecord{record("x")}))
	require.Equal(t, "Bearer recovered", gotAuth)

	require.NoError(t, c.Publish(context.Background(), []domain.EventRecord{record("y")}))
	require.Equal(t, 2, g.calls)
}

func TestPublish_NoEventsIsNoop(t *testing.T) {
	g := &fakeGetter{}
	c, err := NewClient(g, "/ledger", "https://hooks.example.com/in")
	require.NoError(t, err)
	require.NoError(t, c.Publish(context.Background(), nil))
	require.Zero(t, g.calls)
}

func TestPublish_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("try later"))
	}))
	defer srv.Close()

	c, err := NewClient(&fakeGetter{val: `{"token":"t"}`}, "/ledger", srv.URL)
	require.NoError(t, err)
	err = c.Publish(context.Background(), []domain.EventRecord{record("x")})

	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.HTTPStatusCode())
	require.Equal(t, "try later", statusErr.Body)
}

func TestPublish_TokenErrors(t *testing.T) {
	cases := []struct {
		name   string
		getter *fakeGetter
		want   string
	}{
		{"ssm error", &fakeGetter{err: domain.ErrNotFound}, "fetch token"},
		{"not json", &fakeGetter{val: "plain"}, "unmarshal"},
		{"empty token", &fakeGetter{val: `{"token":""}`}, "token is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(tc.getter, "/ledger", "https://hooks.example.com/in")
			require.NoError(t, err)
			err = c.Publish(context.Background(), []domain.EventRecord{record("x")})
			require.ErrorContains(t, err, tc.want)
		})
	}
}
