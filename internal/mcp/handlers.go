package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/hostguard/internal/ledger"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/node"
	"github.com/ppiankov/hostguard/internal/router"
)

// --- Input/Output types ---

// ApplyInput defines parameters for the hostguard_apply tool.
type ApplyInput struct {
	IssuerID          string  `json:"issuer_id" jsonschema:"caller issuer id (e.g. bostrom1...)"`
	Role              string  `json:"role" jsonschema:"primary-operator, authorized-contributor or system-daemon"`
	Tier              string  `json:"tier" jsonschema:"inner-core or trusted-edge"`
	KnowledgeFactor   float64 `json:"knowledge_factor" jsonschema:"caller knowledge factor in [0,1]"`
	ProfileID         string  `json:"profile_id,omitempty" jsonschema:"caller corridor profile id"`
	RequiredKnowledge float64 `json:"required_knowledge,omitempty" jsonschema:"minimum knowledge factor for this call"`

	DeltaBrain      float64   `json:"delta_brain,omitempty"`
	DeltaWave       float64   `json:"delta_wave,omitempty"`
	DeltaBlood      float64   `json:"delta_blood,omitempty"`
	DeltaOxygen     float64   `json:"delta_oxygen,omitempty"`
	DeltaNano       float64   `json:"delta_nano,omitempty"`
	DeltaSmart      float64   `json:"delta_smart,omitempty"`
	EcoCost         float64   `json:"eco_cost,omitempty" jsonschema:"compute cost in flops"`
	DeltaEvolveUsed float64   `json:"delta_evolve_used,omitempty"`
	DeltaMorph      []float64 `json:"delta_morph,omitempty" jsonschema:"morph budget delta: eco, cyber, neuro, smart"`
	Domain          string    `json:"domain,omitempty" jsonschema:"compute_assist, sensor_housekeeping, repair_micro or detox_micro"`
	Reason          string    `json:"reason" jsonschema:"free-text reason recorded on the event"`

	ConsumeTurn     bool    `json:"consume_turn,omitempty" jsonschema:"count this call against the daily turn limit"`
	CorridorProfile string  `json:"corridor_profile,omitempty" jsonschema:"corridor profile to enter, omit for no corridor"`
	RequestedMorph  float64 `json:"requested_morph,omitempty"`
	RequestedPower  float64 `json:"requested_power,omitempty"`
}

// ApplyOutput contains the committed event or the abort details.
type ApplyOutput struct {
	Committed     bool    `json:"committed"`
	Stage         string  `json:"stage,omitempty"`
	Error         string  `json:"error,omitempty"`
	Timestamp     string  `json:"timestamp,omitempty"`
	PrevStateHash string  `json:"prev_state_hash,omitempty"`
	StateHash     string  `json:"state_hash,omitempty"`
	Brain         float64 `json:"brain"`
	Blood         float64 `json:"blood"`
	Oxygen        float64 `json:"oxygen"`
	Nano          float64 `json:"nano"`
	Smart         float64 `json:"smart"`
}

// ClassifyInput defines parameters for the hostguard_classify tool.
type ClassifyInput struct {
	RegionID         string  `json:"region_id" jsonschema:"target region id"`
	Domain           string  `json:"domain" jsonschema:"action domain"`
	LifeforceBand    string  `json:"lifeforce_band" jsonschema:"safe, soft_warn or hard_stop"`
	EcoBand          string  `json:"eco_band" jsonschema:"safe, soft_warn or hard_stop"`
	RadiologyBand    string  `json:"radiology_band" jsonschema:"safe, soft_warn or hard_stop"`
	Clarity          float64 `json:"clarity" jsonschema:"observation clarity in [0,1]"`
	SessionDose      float64 `json:"session_dose,omitempty"`
	DailyDose        float64 `json:"daily_dose,omitempty"`
	RequestedDensity float64 `json:"requested_density,omitempty"`

	PainLevel            float64 `json:"pain_level,omitempty"`
	PainConfidence       float64 `json:"pain_confidence,omitempty"`
	PainSustainedSeconds int     `json:"pain_sustained_seconds,omitempty"`
}

// ClassifyOutput contains the router decision.
type ClassifyOutput struct {
	DecisionID     string  `json:"decision_id"`
	Decision       string  `json:"decision"`
	Reason         string  `json:"reason"`
	AllowedDensity float64 `json:"allowed_density"`
	DoseFraction   float64 `json:"dose_fraction"`
}

// StatusInput is empty; no parameters needed.
type StatusInput struct{}

// StatusOutput is the host snapshot.
type StatusOutput struct {
	HostID         string  `json:"host_id"`
	LastHash       string  `json:"last_hash"`
	Events         int     `json:"events"`
	TurnsUsed      int     `json:"turns_used"`
	MaxTurnsPerDay int     `json:"max_turns_per_day"`
	Brain          float64 `json:"brain"`
	Wave           float64 `json:"wave"`
	Blood          float64 `json:"blood"`
	Oxygen         float64 `json:"oxygen"`
	Nano           float64 `json:"nano"`
	Smart          float64 `json:"smart"`
	BrainBand      string  `json:"brain_band"`
	BloodBand      string  `json:"blood_band"`
	OxygenBand     string  `json:"oxygen_band"`
	NanoBand       string  `json:"nano_band"`
}

// --- Handlers ---

func (s *Server) handleApply(ctx context.Context, req *mcpsdk.CallToolRequest, input ApplyInput) (*mcpsdk.CallToolResult, ApplyOutput, error) {
	areq := node.ApplyRequest{
		Identity: model.IdentityHeader{
			IssuerID:        input.IssuerID,
			Role:            model.Role(input.Role),
			Tier:            model.Tier(input.Tier),
			KnowledgeFactor: input.KnowledgeFactor,
			ProfileID:       input.ProfileID,
		},
		RequiredKnowledge: input.RequiredKnowledge,
		Adjustment: model.Adjustment{
			DeltaBrain:      input.DeltaBrain,
			DeltaWave:       input.DeltaWave,
			DeltaBlood:      input.DeltaBlood,
			DeltaOxygen:     input.DeltaOxygen,
			DeltaNano:       input.DeltaNano,
			DeltaSmart:      input.DeltaSmart,
			EcoCost:         input.EcoCost,
			Reason:          input.Reason,
			DeltaEvolveUsed: input.DeltaEvolveUsed,
			Domain:          model.Domain(input.Domain),
		},
		ConsumeTurn: input.ConsumeTurn,
	}
	copy(areq.Adjustment.DeltaMorph[:], input.DeltaMorph)
	if input.CorridorProfile != "" {
		areq.Corridor = &node.CorridorRequest{
			ProfileID:      input.CorridorProfile,
			RequestedMorph: input.RequestedMorph,
			RequestedPower: input.RequestedPower,
		}
	}

	resp, err := s.node.Apply(areq)
	if err != nil {
		st := s.node.Ledger().State()
		out := ApplyOutput{
			Stage:  string(ledger.StageOf(err)),
			Error:  err.Error(),
			Brain:  st.Brain,
			Blood:  st.Blood,
			Oxygen: st.Oxygen,
			Nano:   st.Nano,
			Smart:  st.Smart,
		}
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, ApplyOutput{
		Committed:     true,
		Timestamp:     resp.Event.TimestampUTC,
		PrevStateHash: resp.Event.PrevStateHash,
		StateHash:     resp.Event.NewStateHash,
		Brain:         resp.State.Brain,
		Blood:         resp.State.Blood,
		Oxygen:        resp.State.Oxygen,
		Nano:          resp.State.Nano,
		Smart:         resp.State.Smart,
	}, nil
}

func (s *Server) handleClassify(ctx context.Context, req *mcpsdk.CallToolRequest, input ClassifyInput) (*mcpsdk.CallToolResult, ClassifyOutput, error) {
	creq := node.ClassifyRequest{
		Observation: router.Observation{
			RegionID:         input.RegionID,
			Lifeforce:        model.Band(input.LifeforceBand),
			Eco:              model.Band(input.EcoBand),
			Radiology:        model.Band(input.RadiologyBand),
			Clarity:          input.Clarity,
			SessionDose:      input.SessionDose,
			DailyDose:        input.DailyDose,
			RequestedDensity: input.RequestedDensity,
		},
		Domain: model.Domain(input.Domain),
	}
	if input.PainLevel > 0 || input.PainConfidence > 0 {
		creq.Pain = &router.PainSignal{
			RegionID:         input.RegionID,
			Level:            input.PainLevel,
			Confidence:       input.PainConfidence,
			SustainedSeconds: input.PainSustainedSeconds,
		}
	}

	d, err := s.node.ClassifyReq(creq)
	if err != nil {
		return nil, ClassifyOutput{}, err
	}
	return nil, ClassifyOutput{
		DecisionID:     d.DecisionID,
		Decision:       string(d.Decision),
		Reason:         string(d.Reason),
		AllowedDensity: d.AllowedDensity,
		DoseFraction:   d.DoseFraction,
	}, nil
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	st := s.node.Status()
	return nil, StatusOutput{
		HostID:         st.HostID,
		LastHash:       st.LastHash,
		Events:         st.Events,
		TurnsUsed:      st.Turns.TurnsUsed,
		MaxTurnsPerDay: st.TurnPolicy.MaxTurnsPerDay,
		Brain:          st.State.Brain,
		Wave:           st.State.Wave,
		Blood:          st.State.Blood,
		Oxygen:         st.State.Oxygen,
		Nano:           st.State.Nano,
		Smart:          st.State.Smart,
		BrainBand:      string(st.Bands.Brain),
		BloodBand:      string(st.Bands.Blood),
		OxygenBand:     string(st.Bands.Oxygen),
		NanoBand:       string(st.Bands.Nano),
	}, nil
}
