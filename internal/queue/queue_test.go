package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

func TestNotificationRequest(t *testing.T) {
	t.Parallel()

	n := Notification{RecordID: "rec-1", OwnerID: "u1", SiteURL: "https://example.com", MaxPages: 7}
	assert.Equal(t, crawler.JobRequest{
		OwnerID:     "u1",
		GroupingKey: "rec-1",
		SiteURL:     "https://example.com",
		MaxPages:    7,
	}, n.Request())
}

func TestHandlerHandle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		enqErr    error
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "enqueued",
			body:      `{"record_id":"rec-1","owner_id":"u1","site_url":"https://example.com","max_pages":5}`,
			wantCalls: 1,
		},
		{
			name:      "garbage is dropped",
			body:      `{not json`,
			wantCalls: 0,
		},
		{
			name:      "validation error is dropped",
			body:      `{"record_id":"rec-1","owner_id":"u1","site_url":"ftp://x"}`,
			enqErr:    &crawler.ValidationError{Field: "site_url", Reason: "must be an absolute http(s) URL"},
			wantCalls: 1,
		},
		{
			name:      "store error is redelivered",
			body:      `{"record_id":"rec-1","owner_id":"u1","site_url":"https://example.com"}`,
			enqErr:    errors.Join(crawler.ErrPersistence, errors.New("db down")),
			wantErr:   true,
			wantCalls: 1,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			enq := &fakeEnqueuer{err: tt.enqErr}
			err := NewHandler(enq, nil).Handle(context.Background(), []byte(tt.body))
			if tt.wantErr {
				require.ErrorIs(t, err, crawler.ErrPersistence)
				require.ErrorContains(t, err, "enqueue record rec-1")
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, enq.reqs, tt.wantCalls)
		})
	}
}

func TestHandlerMapsRecordID(t *testing.T) {
	t.Parallel()

	enq := &fakeEnqueuer{}
	body := `{"record_id":"rec-42","owner_id":"u9","site_url":"https://example.com","max_pages":0}`
	require.NoError(t, NewHandler(enq, nil).Handle(context.Background(), []byte(body)))
	require.Len(t, enq.reqs, 1)
	assert.Equal(t, "rec-42", enq.reqs[0].GroupingKey)
	assert.Equal(t, "u9", enq.reqs[0].OwnerID)
	assert.Zero(t, enq.reqs[0].MaxPages)
}

type fakeEnqueuer struct {
	reqs []crawler.JobRequest
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, req crawler.JobRequest) (string, bool, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", false, f.err
	}
	return "job-1", true, nil
}
