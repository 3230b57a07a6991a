// Package classify maps inbound webhook payloads to typed triggers.
//
// Raw JSON never crosses this boundary: the gateway hands headers and body
// to Classify and everything downstream works with a Trigger and a Context.
package classify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
)

// Trigger is the classified cause of a run.
type Trigger string

const (
	TriggerGitPush         Trigger = "git-push"
	TriggerDeployBuilding  Trigger = "deploy-building"
	TriggerDeploySucceeded Trigger = "deploy-succeeded"
	TriggerDeployFailed    Trigger = "deploy-failed"
	TriggerManual          Trigger = "manual"
	TriggerWebhookGeneric  Trigger = "webhook-generic"
)

// Context carries the optional event fields extracted during
// classification. Produced once per event and never mutated after.
type Context struct {
	Branch    string `json:"branch,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
	SiteID    string `json:"site_id,omitempty"`
	DeployID  string `json:"deploy_id,omitempty"`
	Actor     string `json:"actor,omitempty"`
	DeployURL string `json:"deploy_url,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Vendor event headers consulted, in order.
const (
	HeaderNetlifyEvent = "X-Netlify-Event"
	HeaderGitHubEvent  = "X-Github-Event"
	HeaderGiteaEvent   = "X-Gitea-Event"
)

// netlifyPayload is the deploy-platform webhook body.
type netlifyPayload struct {
	ID           string `json:"id"`
	SiteID       string `json:"site_id"`
	State        string `json:"state"`
	Branch       string `json:"branch"`
	CommitRef    string `json:"commit_ref"`
	DeploySSLURL string `json:"deploy_ssl_url"`
	SSLURL       string `json:"ssl_url"`
	ErrorMessage string `json:"error_message"`
	Committer    string `json:"committer"`
}

// genericPayload is the fallback shape for unrecognized vendors.
type genericPayload struct {
	Event  string `json:"event"`
	Branch string `json:"branch"`
	Commit string `json:"commit"`
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// Classify maps headers plus a JSON payload to a Trigger and Context.
//
// Header-based vendor hints win; a generic "event" field inside the payload
// is the fallback; anything else classifies as TriggerWebhookGeneric. Field
// extraction is best effort: missing fields stay empty. An unparseable body
// is the only error, and the gateway turns it into a 400.
func Classify(headers http.Header, payload []byte) (Trigger, Context, error) {
	if !json.Valid(payload) {
		return "", Context{}, fmt.Errorf("payload is not valid JSON")
	}

	if event := headers.Get(HeaderNetlifyEvent); event != "" {
		return classifyNetlify(event, payload)
	}

	if event := headers.Get(HeaderGitHubEvent); event != "" {
		return classifyGitEvent(event, payload)
	}
	if event := headers.Get(HeaderGiteaEvent); event != "" {
		return classifyGitEvent(event, payload)
	}

	var generic genericPayload
	if err := json.Unmarshal(payload, &generic); err != nil {
		return "", Context{}, fmt.Errorf("unrecognized payload shape: %w", err)
	}

	cctx := Context{
		Branch:    generic.Branch,
		CommitSHA: generic.Commit,
		Actor:     generic.Actor,
		Reason:    generic.Reason,
	}

	switch generic.Event {
	case "push":
		return TriggerGitPush, cctx, nil
	case "deploy_building":
		return TriggerDeployBuilding, cctx, nil
	case "deploy_succeeded", "deploy_created":
		return TriggerDeploySucceeded, cctx, nil
	case "deploy_failed":
		return TriggerDeployFailed, cctx, nil
	case "manual":
		return TriggerManual, cctx, nil
	default:
		return TriggerWebhookGeneric, cctx, nil
	}
}

// classifyNetlify maps deploy-platform event names to triggers.
func classifyNetlify(event string, payload []byte) (Trigger, Context, error) {
	var p netlifyPayload
	// Tolerate shape drift in vendor payloads; headers already identified
	// the event type.
	_ = json.Unmarshal(payload, &p)

	deployURL := p.DeploySSLURL
	if deployURL == "" {
		deployURL = p.SSLURL
	}

	cctx := Context{
		Branch:    p.Branch,
		CommitSHA: p.CommitRef,
		SiteID:    p.SiteID,
		DeployID:  p.ID,
		Actor:     p.Committer,
		DeployURL: deployURL,
		Reason:    p.ErrorMessage,
	}

	switch event {
	case "deploy_building":
		return TriggerDeployBuilding, cctx, nil
	case "deploy_created", "deploy_succeeded":
		return TriggerDeploySucceeded, cctx, nil
	case "deploy_failed":
		return TriggerDeployFailed, cctx, nil
	default:
		return TriggerWebhookGeneric, cctx, nil
	}
}

// classifyGitEvent handles source-control vendor events (GitHub/Gitea both
// emit the push payload shape parsed by go-github).
func classifyGitEvent(event string, payload []byte) (Trigger, Context, error) {
	if event != "push" {
		return TriggerWebhookGeneric, Context{}, nil
	}

	var push github.PushEvent
	if err := json.Unmarshal(payload, &push); err != nil {
		return "", Context{}, fmt.Errorf("invalid push payload: %w", err)
	}

	return TriggerGitPush, Context{
		Branch:    branchFromRef(push.GetRef()),
		CommitSHA: push.GetAfter(),
		Actor:     push.GetPusher().GetName(),
	}, nil
}

// branchFromRef extracts the branch name (refs/heads/main -> main).
func branchFromRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

// FromCLI maps a --trigger flag value to a Trigger. Git hook names all
// classify as manual runs; the hook name is preserved in Context.Reason by
// the caller.
func FromCLI(name string) (Trigger, bool) {
	switch name {
	case "push":
		return TriggerGitPush, true
	case "deploy-building":
		return TriggerDeployBuilding, true
	case "deploy-succeeded":
		return TriggerDeploySucceeded, true
	case "deploy-failed":
		return TriggerDeployFailed, true
	case "manual", "pre-commit", "pre-push", "post-commit", "commit-msg":
		return TriggerManual, true
	default:
		return "", false
	}
}
