package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/gated/internal/classify"
	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/pipeline"
)

func failedReport() *pipeline.RunReport {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &pipeline.RunReport{
		ID:      "git-push-1714564800-abcd1234",
		Trigger: classify.TriggerGitPush,
		Context: classify.Context{Branch: "main"},
		Stages: []pipeline.StageResult{
			{Name: "secrets-scan", Success: false, Critical: true, ExitCode: 1,
				Output: strings.Repeat("leak found\n", 20)},
		},
		StartedAt:        started,
		FinishedAt:       started.Add(42 * time.Second),
		CriticalFailures: 1,
		OverallSuccess:   false,
	}
}

func TestNotify_DeliversPayload(t *testing.T) {
	received := make(chan Message, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var msg Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		received <- msg
	}))
	defer srv.Close()

	d := New(config.NotifyConfig{WebhookURLs: []string{srv.URL}}, nil)
	d.Notify(failedReport())
	d.Wait()

	select {
	case msg := <-received:
		assert.Contains(t, msg.Text, "FAILED")
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, "danger", msg.Attachments[0].Color)
		assert.Equal(t, "gated", msg.Attachments[0].Footer)
	default:
		t.Fatal("no message received")
	}
}

func TestNotify_MultipleURLs(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := New(config.NotifyConfig{WebhookURLs: []string{srv.URL, srv.URL, srv.URL}}, nil)
	d.Notify(failedReport())
	d.Wait()

	assert.Equal(t, int32(3), hits.Load())
}

func TestNotify_DeliveryFailureIsContained(t *testing.T) {
	// Unreachable URL and a rejecting server: neither may panic or block.
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer rejecting.Close()

	d := New(config.NotifyConfig{
		WebhookURLs: []string{"http://127.0.0.1:1", rejecting.URL},
		Timeout:     config.Duration(500 * time.Millisecond),
	}, nil)
	d.Notify(failedReport())
	d.Wait()
}

func TestNotify_NoURLsIsNoop(t *testing.T) {
	d := New(config.NotifyConfig{}, nil)
	d.Notify(failedReport())
	d.Wait()
}

func TestBuildMessage_Success(t *testing.T) {
	report := &pipeline.RunReport{
		ID:             "manual-1-aaaa",
		Trigger:        classify.TriggerManual,
		OverallSuccess: true,
		StartedAt:      time.Now(),
		FinishedAt:     time.Now(),
	}

	msg := BuildMessage(report)
	assert.Contains(t, msg.Text, "passed")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "good", msg.Attachments[0].Color)
}

func TestBuildMessage_AdvisoryFailureOutputIncluded(t *testing.T) {
	report := &pipeline.RunReport{
		ID:      "manual-2-bbbb",
		Trigger: classify.TriggerManual,
		Stages: []pipeline.StageResult{
			{Name: "fmt", Success: true},
			{Name: "link-check", Success: false, ExitCode: 1, Output: "dead link: /docs\n"},
		},
		Warnings:       1,
		OverallSuccess: true,
	}

	msg := BuildMessage(report)
	require.Len(t, msg.Attachments, 1)

	var outputField *Field
	for i := range msg.Attachments[0].Fields {
		f := &msg.Attachments[0].Fields[i]
		if strings.HasPrefix(f.Title, "Output:") {
			outputField = f
		}
	}
	require.NotNil(t, outputField, "advisory-only failures still carry an excerpt")
	assert.Equal(t, "Output: link-check", outputField.Title)
	assert.Contains(t, outputField.Value, "dead link")
}

func TestBuildMessage_TruncatesFailureOutput(t *testing.T) {
	msg := BuildMessage(failedReport())

	var outputField *Field
	for i := range msg.Attachments[0].Fields {
		f := &msg.Attachments[0].Fields[i]
		if strings.HasPrefix(f.Title, "Output:") {
			outputField = f
		}
	}
	require.NotNil(t, outputField)

	lines := strings.Split(outputField.Value, "\n")
	assert.LessOrEqual(t, len(lines), maxFailureLines+1, "first N lines plus ellipsis")
	assert.True(t, strings.HasSuffix(outputField.Value, "..."))
}
