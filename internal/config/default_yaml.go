package config

// DefaultYAML returns a commented YAML string for init-config.
// Loading it yields the same values as DefaultConfig, except the storage
// paths, which are left to their defaults under ~/.hostguard.
func DefaultYAML() string {
	return `# hostguard host configuration
# Generated by: hostguard init-config
#
# Ledger pipeline order (cannot be changed):
#   1. Input validation (RFC 3339 timestamp, finite deltas)
#   2. Identity access (role, tier, namespace, knowledge factor)
#   3. Corridor (when a corridor context is supplied)
#   4. Safety invariant guard (uses envelope below)
#   5. Turn discipline and per-domain caps (uses turns below)
#   6. Hash, write-ahead journals, commit

# Host envelope. Loaded once at ledger construction.
# brain >= brain_min, blood > blood_min, oxygen > oxygen_min,
# smart <= min(smart_max, brain), nano <= nano_max_fraction,
# eco_cost <= eco_flops_limit.
# soft_margin widens each floor into a soft_warn band.
envelope:
  host_id: bostrom1localhost
  brain_min: 0.2
  blood_min: 0.2
  oxygen_min: 0.9
  nano_max_fraction: 0.25
  smart_max: 0.8
  eco_flops_limit: 1000000000
  soft_margin: 0.05

# Vitals at first start. Ignored once the store holds a chain.
initial:
  brain: 0.8
  wave: 0.5
  blood: 0.8
  oxygen: 0.97
  nano: 0.05
  smart: 0.4
  budget:
    total: 1
    used: 0

# Accepted issuer-id patterns. A trailing * matches any suffix.
namespaces:
  - "bostrom*"
  - "did:aln:*"
  - "did:*"

# Node admission limits.
# min_knowledge is the knowledge factor floor for every submission; a
# request's required_knowledge can only raise it.
# max_clock_skew bounds caller timestamps against the host clock (0 disables).
ledger:
  min_knowledge: 0.5
  max_clock_skew: 5m

# Turn discipline. Values can only tighten the compiled ceilings:
# max_turns_per_day <= 10, min_seconds_between_turns >= 60.
# domain_caps limits each domain to a fraction of the daily evolve budget.
turns:
  max_turns_per_day: 10
  min_seconds_between_turns: 60
  # domain_caps:
  #   repair_micro: 0.25

# Corridor profiles and consent keys (subject -> base64 Ed25519 public key).
corridor:
  profiles: []
  # profiles:
  #   - profile_id: neuro-basic
  #     morph_limit: 0.1
  #     power_limit: 0.2
  #     required_knowledge: 0.8
  consent_keys: {}

# Risk router thresholds and somatic region map. First match wins.
router:
  policy:
    pain_hard_threshold: 0.8
    pain_soft_threshold: 0.5
    pain_min_confidence: 0.7
    pain_min_sustained_seconds: 3
    dose_soft_fraction: 0.5
    soft_density_factor: 0.5
    clarity_floor: 0.3
  regions:
    - region_id: brainstem
      no_fly: true
    - region_id: hepatic_lobe
      density_max: 0.2
      session_dose_limit: 10
      daily_dose_limit: 40

# Surplus donation to hardware-plane receivers.
donation:
  policy:
    min_admin_knowledge: 0.7
    min_eco_alignment: 0.6
    max_per_day: 10000
    min_floor_per_day: 1000
    window_cap_fraction: 0.25
    evolve_reward_rate: 0.1
    nano_reward_rate: 0.05
    eco_cost_per_unit: 1000000
  receivers: []
  # receivers:
  #   - org_id: lab-a
  #     device_id: gpu-0
  #     did: did:aln:lab-a
  #     plane: hardware_device
  #     max_fraction_per_day: 0.1
  #     active: true
  stakeholders: []

# Emergency override. Tokens must be signed with the host key.
override:
  max_per_day: 1

# Webhook alerts. Events: deny, commit, emergency_override, route_deny, donation.
# Formats: generic, slack, pagerduty.
alerts: []

server:
  port: 7443
`
}
