package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cognidex/portal-backend/internal/config"
	"github.com/cognidex/portal-backend/internal/middleware"
	"github.com/cognidex/portal-backend/internal/service"
	ws "github.com/cognidex/portal-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowlist permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SubmissionWSHandler streams submission progress to the browser. The
// worker publishes events to a per-test Pub/Sub channel; this handler
// relays them over the WebSocket verbatim.
type SubmissionWSHandler struct {
	rdb               *redis.Client
	submissionService *service.SubmissionService
	snapshots         service.SnapshotStore
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// NewSubmissionWSHandler creates a new SubmissionWSHandler.
func NewSubmissionWSHandler(
	rdb *redis.Client,
	submissionService *service.SubmissionService,
	snapshots service.SnapshotStore,
	log zerolog.Logger,
	allowedOrigins []string,
) *SubmissionWSHandler {
	return &SubmissionWSHandler{
		rdb:               rdb,
		submissionService: submissionService,
		snapshots:         snapshots,
		log:               log.With().Str("component", "submission_ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
	}
}

// SubmissionStream godoc
// WS /ws/v1/sessions/:test_id/submission
// Pushes status and outcome events for a submission. A client late to
// connect gets the current state first, so a settled submission still
// delivers its outcome.
func (h *SubmissionWSHandler) SubmissionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	testID, err := strconv.Atoi(c.Param("test_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid test ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("test_id", testID).
		Str("participant", claims.Email).
		Logger()
	wsLog.Info().Msg("Submission stream connected")

	reqCtx := c.Request.Context()

	// Subscribe before reading the state slot so no event can slip
	// between the snapshot and the stream.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.SubmissionChannel(testID))
	defer pubsub.Close()
	events := pubsub.Channel()

	state, err := h.submissionService.State(reqCtx, testID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Read submission state failed")
		ws.WriteError(conn, "submission state unavailable")
		return
	}
	// The stream is scoped to the session's owner. An unknown test ID and
	// someone else's test ID are indistinguishable from outside.
	if !h.ownsSubmission(reqCtx, claims.Email, testID, state) {
		wsLog.Warn().Msg("Stream refused, session not resolvable for participant")
		ws.WriteError(conn, "session could not be resolved")
		return
	}
	if state.Outcome != nil {
		// Already settled: deliver the outcome and stop, nothing more
		// will ever arrive on the channel.
		ws.WriteTyped(conn, service.ProgressEvent{
			Event:   service.EventOutcome,
			Outcome: state.Outcome,
		})
		return
	}

	// Pings keep intermediaries from closing an otherwise quiet stream
	// during the long upstream call. The reader only signals; all writes
	// stay on this goroutine since the connection allows one writer.
	readerDone := make(chan struct{})
	pings := make(chan struct{}, 1)
	go func() {
		defer close(readerDone)
		for {
			var msg ws.RequestPayload
			if err := ws.ReadJSON(conn, &msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				}
				return
			}
			if msg.Action == ws.ActionPing {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-pings:
			if err := ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong}); err != nil {
				return
			}
		case msg, ok := <-events:
			if !ok {
				return
			}
			raw := []byte(msg.Payload)
			if err := ws.WriteRaw(conn, raw); err != nil {
				wsLog.Debug().Err(err).Msg("Relay write failed")
				return
			}
			if isOutcome(raw) {
				wsLog.Info().Msg("Outcome delivered, closing stream")
				return
			}
		case <-readerDone:
			return
		case <-reqCtx.Done():
			return
		}
	}
}

// ownsSubmission decides whether the participant may watch this test's
// stream. A claimed state slot carries the owner; before submission the
// session snapshot does.
func (h *SubmissionWSHandler) ownsSubmission(ctx context.Context, email string, testID int, state *service.SubmissionState) bool {
	if state.InFlight || state.Outcome != nil {
		return state.Owner == email
	}
	session, err := h.snapshots.LoadSession(ctx, testID)
	if err != nil {
		return false
	}
	return session.Owner == email
}

// isOutcome decodes only the event name; a status message whose text
// mentions an outcome must not end the stream.
func isOutcome(raw []byte) bool {
	var peek struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return false
	}
	return peek.Event == service.EventOutcome
}
