package evalapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cognidex/portal-backend/internal/model"
)

// ErrLoadUnsupported is returned by flows that cannot resolve a session
// by ID — the caller must rely on its snapshot instead.
var ErrLoadUnsupported = errors.New("flow cannot load sessions by id")

// Flow binds a session to one set of evaluation-service endpoints. The
// demo and standard test flows share identical gating and state-machine
// behavior; only the endpoints and snapshot lifetime differ.
type Flow interface {
	Kind() model.FlowKind

	// Load resolves a session by ID, or ErrLoadUnsupported.
	Load(ctx context.Context, token string, testID int) (*TestPayload, error)

	// Submit posts the answers. Exactly one call per submission.
	Submit(ctx context.Context, token string, req SubmissionRequest) error

	// Cancel tears the session down upstream (best-effort).
	Cancel(ctx context.Context, token string, testID int) error

	// SnapshotTTL is how long the portal keeps the session's working
	// state in Redis. The standard flow keeps snapshots long enough to
	// survive reloads days later; the demo flow only holds working
	// state for the sitting itself.
	SnapshotTTL() time.Duration

	// CompletionPath is where the client lands once a submission
	// settles — the same destination for success and inconclusive
	// endings.
	CompletionPath(testID int) string

	// ListingPath is the safe landing page after cancellation or a
	// failed load.
	ListingPath() string
}

// FlowFor resolves a flow by kind. Unknown kinds default to the demo flow.
func FlowFor(c *Client, kind model.FlowKind) Flow {
	if kind == model.FlowStandard {
		return &StandardFlow{c: c}
	}
	return &DemoFlow{c: c}
}

// ─── Demo ───────────────────────────────────────────────────────────

// DemoFlow drives the anonymous demo series endpoints.
type DemoFlow struct {
	c *Client
}

// demoCategory is the attempt category the evaluation service assigns to
// demo sittings. Other categories belong to the standard test flow.
const demoCategory = "general"

func (f *DemoFlow) Kind() model.FlowKind { return model.FlowDemo }

func (f *DemoFlow) Load(ctx context.Context, token string, testID int) (*TestPayload, error) {
	payload, err := f.c.GetDemoTest(ctx, token, testID)
	if err != nil {
		return nil, err
	}
	// The endpoint resolves any attempt the participant owns, including
	// standard tests. Loading one here would relabel it as a demo sitting
	// and route its submission to the wrong endpoint.
	if payload.Category != "" && payload.Category != demoCategory {
		return nil, ErrNotFound
	}
	return payload, nil
}

func (f *DemoFlow) Submit(ctx context.Context, token string, req SubmissionRequest) error {
	return f.c.SubmitDemo(ctx, token, req)
}

func (f *DemoFlow) Cancel(ctx context.Context, token string, testID int) error {
	return f.c.DeleteTest(ctx, token, testID)
}

func (f *DemoFlow) SnapshotTTL() time.Duration { return 2 * time.Hour }

func (f *DemoFlow) CompletionPath(testID int) string {
	return "/demo/thank-you/" + strconv.Itoa(testID)
}

func (f *DemoFlow) ListingPath() string { return "/demo" }

// ─── Standard ───────────────────────────────────────────────────────

// StandardFlow drives the registered test-platform endpoints. There is no
// upstream session loader; reload survival comes from the long snapshot.
type StandardFlow struct {
	c *Client
}

func (f *StandardFlow) Kind() model.FlowKind { return model.FlowStandard }

func (f *StandardFlow) Load(ctx context.Context, token string, testID int) (*TestPayload, error) {
	return nil, ErrLoadUnsupported
}

func (f *StandardFlow) Submit(ctx context.Context, token string, req SubmissionRequest) error {
	return f.c.SubmitTest(ctx, token, req)
}

func (f *StandardFlow) Cancel(ctx context.Context, token string, testID int) error {
	return f.c.DeleteTest(ctx, token, testID)
}

func (f *StandardFlow) SnapshotTTL() time.Duration { return 7 * 24 * time.Hour }

func (f *StandardFlow) CompletionPath(testID int) string {
	return "/result/" + strconv.Itoa(testID)
}

func (f *StandardFlow) ListingPath() string { return "/test-dashboard" }
