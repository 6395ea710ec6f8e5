package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/cockpit/authUser", "401"))
	RecordAPIRequest("POST", "/api/cockpit/authUser", "401", 20*time.Millisecond)
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/cockpit/authUser", "401"))

	if after != before+1 {
		t.Errorf("requests counter = %v, want %v", after, before+1)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	start := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != start+2 {
		t.Errorf("active = %v, want %v", got, start+2)
	}
	TrackActiveRequest(false)
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != start {
		t.Errorf("active = %v, want %v", got, start)
	}
}

func TestRecordStoreOperation(t *testing.T) {
	before := testutil.ToFloat64(StoreOperationErrors.WithLabelValues("save", "discussions"))
	RecordStoreOperation("save", "discussions", time.Millisecond, nil)
	RecordStoreOperation("save", "discussions", time.Millisecond, errors.New("conflict"))
	after := testutil.ToFloat64(StoreOperationErrors.WithLabelValues("save", "discussions"))

	if after != before+1 {
		t.Errorf("errors counter = %v, want %v", after, before+1)
	}
}

func TestResultLabels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, "success"},
		{"failure", errors.New("smtp down"), "failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(MailsSent.WithLabelValues("verify", tt.want))
			RecordMail("verify", tt.err)
			if got := testutil.ToFloat64(MailsSent.WithLabelValues("verify", tt.want)); got != before+1 {
				t.Errorf("mails{%s} = %v, want %v", tt.want, got, before+1)
			}
		})
	}
}
