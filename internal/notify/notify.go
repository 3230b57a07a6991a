// Package notify delivers run summaries to outbound webhook URLs.
//
// Delivery is strictly best-effort fire-and-forget: each dispatch runs on
// a detached goroutine, failures are logged and discarded, and nothing
// here can fail a run or apply backpressure to the pipeline. Do not turn
// Notify into a blocking call.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/pipeline"
)

// maxFailureLines bounds how much failing-stage output a message carries.
const maxFailureLines = 10

// Message is the chat-webhook payload.
type Message struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is one colored block in a Message.
type Attachment struct {
	Color  string  `json:"color"`
	Fields []Field `json:"fields,omitempty"`
	Footer string  `json:"footer,omitempty"`
	TS     int64   `json:"ts"`
}

// Field is one title/value pair in an Attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Dispatcher posts run summaries to configured URLs.
type Dispatcher struct {
	urls   []string
	client *http.Client
	logger *logging.Logger
	wg     sync.WaitGroup
}

// New creates a dispatcher. With no URLs configured every Notify is a
// no-op.
func New(cfg config.NotifyConfig, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		urls:   cfg.WebhookURLs,
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("notify"),
	}
}

// Notify sends the report summary to every configured URL and returns
// immediately.
func (d *Dispatcher) Notify(report *pipeline.RunReport) {
	if len(d.urls) == 0 {
		return
	}

	msg := BuildMessage(report)
	for _, url := range d.urls {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.dispatch(url, msg)
		}()
	}
}

// Wait blocks until in-flight dispatches finish. Called once at shutdown;
// the pipeline itself never waits on notifications.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(url string, msg Message) {
	ctx := context.Background()

	body, err := json.Marshal(msg)
	if err != nil {
		d.logger.Warn(ctx, "failed to marshal notification", zap.Error(err))
		return
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.logger.Warn(ctx, "failed to build notification request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn(ctx, "notification delivery failed", zap.String("url", url), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.logger.Warn(ctx, "notification rejected",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
		return
	}

	d.logger.Debug(ctx, "notification delivered", zap.String("url", url))
}

// BuildMessage renders the normalized summary for a report.
func BuildMessage(report *pipeline.RunReport) Message {
	color := "good"
	text := fmt.Sprintf("Validation run %s passed (%s)", report.ID, report.Trigger)
	if !report.OverallSuccess {
		color = "danger"
		text = fmt.Sprintf("Validation run %s FAILED (%s): %d critical failure(s)",
			report.ID, report.Trigger, report.CriticalFailures)
	}

	fields := []Field{
		{Title: "Trigger", Value: string(report.Trigger), Short: true},
		{Title: "Duration", Value: report.Duration().Round(time.Millisecond).String(), Short: true},
		{Title: "Critical failures", Value: fmt.Sprintf("%d", report.CriticalFailures), Short: true},
		{Title: "Warnings", Value: fmt.Sprintf("%d", report.Warnings), Short: true},
	}
	if report.Context.Branch != "" {
		fields = append(fields, Field{Title: "Branch", Value: report.Context.Branch, Short: true})
	}

	// Critical failures take priority; with only advisory failures the
	// first of those is still worth surfacing.
	failed := report.FirstCriticalFailure()
	if failed == nil {
		failed = report.FirstFailure()
	}
	if failed != nil {
		fields = append(fields, Field{
			Title: fmt.Sprintf("Output: %s", failed.Name),
			Value: firstLines(failed.Output, maxFailureLines),
		})
	}

	return Message{
		Text: text,
		Attachments: []Attachment{{
			Color:  color,
			Fields: fields,
			Footer: "gated",
			TS:     report.FinishedAt.Unix(),
		}},
	}
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "\n..."
}
