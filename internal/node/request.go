package node

import (
	"github.com/ppiankov/hostguard/internal/breakglass"
	"github.com/ppiankov/hostguard/internal/corridor"
	"github.com/ppiankov/hostguard/internal/donation"
	"github.com/ppiankov/hostguard/internal/ledger"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/router"
)

// CorridorRequest names the corridor profile to enter and the amounts
// requested under it. The caller's own profile comes from its identity.
type CorridorRequest struct {
	ProfileID      string                 `json:"profile_id"`
	RequestedMorph float64                `json:"requested_morph"`
	RequestedPower float64                `json:"requested_power"`
	Consent        *corridor.ConsentProof `json:"consent,omitempty"`
}

// ApplyRequest is the boundary form of a ledger call. When Override is set
// the call is an emergency override and Corridor and ConsumeTurn are ignored.
type ApplyRequest struct {
	Identity          model.IdentityHeader `json:"identity"`
	RequiredKnowledge float64              `json:"required_knowledge"`
	Adjustment        model.Adjustment     `json:"adjustment"`
	Timestamp         string               `json:"timestamp,omitempty"`
	ConsumeTurn       bool                 `json:"consume_turn"`
	Corridor          *CorridorRequest     `json:"corridor,omitempty"`
	Override          *breakglass.Token    `json:"override,omitempty"`
}

// ApplyResponse carries the committed event and the state after it.
type ApplyResponse struct {
	Event model.LedgerEvent `json:"event"`
	State model.VitalsState `json:"state"`
}

// Apply resolves req against the host's corridor profiles and runs it.
// An empty timestamp means now; a set one must sit within max_clock_skew of
// the host clock.
func (n *Node) Apply(req ApplyRequest) (ApplyResponse, error) {
	ts, err := n.stamp(req.Timestamp)
	if err != nil {
		err = &ledger.ApplyError{Stage: ledger.StageInput, Err: err}
		n.recordAbort(req.Identity.IssuerID, err)
		return ApplyResponse{}, err
	}
	req.Timestamp = ts

	var ev model.LedgerEvent
	if req.Override != nil {
		ev, err = n.EmergencyOverride(*req.Override, req.Identity, req.Adjustment, req.Timestamp)
	} else {
		lr := ledger.Request{
			Identity:          req.Identity,
			RequiredKnowledge: req.RequiredKnowledge,
			Adjustment:        req.Adjustment,
			Timestamp:         req.Timestamp,
			ConsumeTurn:       req.ConsumeTurn,
		}
		if c := req.Corridor; c != nil {
			lr.Corridor = &corridor.Context{
				ProfileID:      req.Identity.ProfileID,
				Profile:        n.Profile(c.ProfileID),
				Consent:        c.Consent,
				RequestedMorph: c.RequestedMorph,
				RequestedPower: c.RequestedPower,
			}
		}
		ev, err = n.Submit(lr)
	}
	if err != nil {
		return ApplyResponse{}, err
	}
	return ApplyResponse{Event: ev, State: n.ledger.State()}, nil
}

// ClassifyRequest is the boundary form of a router call.
type ClassifyRequest struct {
	Observation router.Observation `json:"observation"`
	Domain      model.Domain       `json:"domain"`
	Pain        *router.PainSignal `json:"pain,omitempty"`
}

// ClassifyReq runs req through Classify.
func (n *Node) ClassifyReq(req ClassifyRequest) (router.DecisionLog, error) {
	return n.Classify(req.Observation, req.Domain, router.Signals{Pain: req.Pain})
}

// ScheduleRequest is the boundary form of a donation window. Pool is the
// resource available before the window.
type ScheduleRequest struct {
	Admin   model.IdentityHeader `json:"admin"`
	Pool    float64              `json:"pool"`
	Context donation.Context     `json:"context"`
}

// ScheduleResponse carries the audit and the pool left after the window.
type ScheduleResponse struct {
	Audit         donation.Audit `json:"audit"`
	PoolRemaining float64        `json:"pool_remaining"`
}

// ScheduleReq runs one donation window for req.
func (n *Node) ScheduleReq(req ScheduleRequest) (ScheduleResponse, error) {
	pool := &donation.Pool{Resource: req.Pool}
	a, err := n.Schedule(req.Admin, pool, req.Context)
	if err != nil {
		return ScheduleResponse{}, err
	}
	return ScheduleResponse{Audit: a, PoolRemaining: pool.Resource}, nil
}
