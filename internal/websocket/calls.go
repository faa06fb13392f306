package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harborapp/harbor/internal/bus"
	"github.com/harborapp/harbor/internal/logger"
	"github.com/harborapp/harbor/internal/metrics"
	"go.uber.org/zap"
)

// CallState tracks where a signaling session is in its lifecycle.
type CallState string

const (
	CallStateRinging   CallState = "ringing"
	CallStateConnected CallState = "connected"
)

// CallSession is the ephemeral routing state for one call. It is never
// persisted; the call is identified by its caller/callee pair and dies
// with either peer's last connection.
type CallSession struct {
	CallerID  string        `json:"caller_id"`
	CalleeID  string        `json:"callee_id"`
	CallType  bus.CallType  `json:"call_type"`
	State     CallState     `json:"state"`
	StartedAt time.Time     `json:"started_at"`
}

// CallRelay passes WebRTC session descriptions and ICE candidates
// between exactly two identified peers. It holds no media and no state
// beyond routing: signaling events address a user ID and reach
// whatever connections that user currently has, so a peer migrating to
// another server process mid-call keeps receiving candidates.
type CallRelay struct {
	mu       sync.Mutex
	sessions map[string]*CallSession

	bus bus.Publisher
}

// NewCallRelay creates a relay publishing on the given bus.
func NewCallRelay(publisher bus.Publisher) *CallRelay {
	return &CallRelay{
		sessions: make(map[string]*CallSession),
		bus:      publisher,
	}
}

// pairKey identifies a call by its two participants, order-free.
func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

// HandleOffer starts a session and relays the offer to the callee as
// call:incoming. A callee with zero live connections receives nothing
// and no error is raised: the caller times out locally by design.
func (r *CallRelay) HandleOffer(ctx context.Context, from string, payload bus.CallOfferPayload) error {
	if payload.CalleeID == "" {
		return fmt.Errorf("call offer missing callee")
	}
	if payload.CallType != bus.CallTypeVoice && payload.CallType != bus.CallTypeVideo {
		return fmt.Errorf("unknown call type %q", payload.CallType)
	}
	payload.CallerID = from

	r.mu.Lock()
	r.sessions[pairKey(from, payload.CalleeID)] = &CallSession{
		CallerID:  from,
		CalleeID:  payload.CalleeID,
		CallType:  payload.CallType,
		State:     CallStateRinging,
		StartedAt: time.Now().UTC(),
	}
	r.updateGauge()
	r.mu.Unlock()

	evt, err := bus.NewDirect(bus.ChannelCallIncoming, payload.CalleeID, payload)
	if err != nil {
		return err
	}
	if err := r.bus.Publish(ctx, evt); err != nil {
		return err
	}

	if m := metrics.Get(); m != nil {
		m.CallOffersRelayed.Inc()
	}
	return nil
}

// HandleAnswer relays the callee's answer back to the caller. A
// decline tears the session down and notifies the caller with
// call:ended.
func (r *CallRelay) HandleAnswer(ctx context.Context, from string, payload bus.CallAnswerPayload) error {
	if payload.CallerID == "" {
		return fmt.Errorf("call answer missing caller")
	}
	payload.CalleeID = from

	key := pairKey(from, payload.CallerID)

	r.mu.Lock()
	session, ok := r.sessions[key]
	if ok {
		if payload.Accepted {
			session.State = CallStateConnected
		} else {
			delete(r.sessions, key)
		}
	}
	r.updateGauge()
	r.mu.Unlock()

	if !ok {
		// The session may live on another process or have already
		// ended; relay anyway, routing needs no local state.
		logger.Log.Debug("Answer for untracked call session",
			logger.WithUserID(from))
	}

	evt, err := bus.NewDirect(bus.ChannelCallAnswer, payload.CallerID, payload)
	if err != nil {
		return err
	}
	if err := r.bus.Publish(ctx, evt); err != nil {
		return err
	}

	if !payload.Accepted {
		return r.publishEnded(ctx, from, payload.CallerID, "declined")
	}
	return nil
}

// HandleCandidate relays an ICE candidate point-to-point.
func (r *CallRelay) HandleCandidate(ctx context.Context, from string, payload bus.ICECandidatePayload) error {
	if payload.ToUserID == "" {
		return fmt.Errorf("ice candidate missing target")
	}
	payload.FromUserID = from

	evt, err := bus.NewDirect(bus.ChannelCallICECandidate, payload.ToUserID, payload)
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, evt)
}

// HandleEnd processes a hangup from either peer and notifies the other
// with call:ended.
func (r *CallRelay) HandleEnd(ctx context.Context, from string, payload bus.CallEndPayload) error {
	if payload.ToUserID == "" {
		return fmt.Errorf("call end missing target")
	}

	r.mu.Lock()
	delete(r.sessions, pairKey(from, payload.ToUserID))
	r.updateGauge()
	r.mu.Unlock()

	reason := payload.Reason
	if reason == "" {
		reason = "hangup"
	}
	return r.publishEnded(ctx, from, payload.ToUserID, reason)
}

// EndCallsFor tears down every session involving userID, notifying the
// other peer. Called when a user's last connection dies: there is no
// call-reconnect, the call must be redialed.
func (r *CallRelay) EndCallsFor(ctx context.Context, userID string) {
	r.mu.Lock()
	var peers []string
	for key, session := range r.sessions {
		if session.CallerID == userID {
			peers = append(peers, session.CalleeID)
			delete(r.sessions, key)
		} else if session.CalleeID == userID {
			peers = append(peers, session.CallerID)
			delete(r.sessions, key)
		}
	}
	r.updateGauge()
	r.mu.Unlock()

	for _, peer := range peers {
		if err := r.publishEnded(ctx, userID, peer, "disconnected"); err != nil {
			logger.Log.Warn("Publish call teardown failed",
				logger.WithUserID(userID),
				zap.String("peer_id", peer),
				zap.Error(err))
		}
	}
}

// Session returns the tracked session between two users, if any.
func (r *CallRelay) Session(a, b string) (CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[pairKey(a, b)]
	if !ok {
		return CallSession{}, false
	}
	return *session, true
}

// ActiveSessions returns the number of sessions tracked here.
func (r *CallRelay) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *CallRelay) publishEnded(ctx context.Context, from, to, reason string) error {
	evt, err := bus.NewDirect(bus.ChannelCallEnded, to, bus.CallEndPayload{
		FromUserID: from,
		ToUserID:   to,
		Reason:     reason,
	})
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, evt)
}

// updateGauge must be called with the mutex held.
func (r *CallRelay) updateGauge() {
	if m := metrics.Get(); m != nil {
		m.CallSessionsActive.Set(float64(len(r.sessions)))
	}
}
