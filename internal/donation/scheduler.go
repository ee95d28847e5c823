package donation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/hostguard/internal/guard"
	"github.com/ppiankov/hostguard/internal/identity"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/turns"
)

// ErrInvalidTimestamp is returned when Context.Now is not RFC 3339.
var ErrInvalidTimestamp = errors.New("donation: timestamp must be RFC 3339")

// ErrStaleDay is returned when Context.Now falls on a UTC day before the
// day the scheduler last counted.
var ErrStaleDay = errors.New("donation: timestamp is on an earlier day than the last window")

// ErrNotHardware is returned when registering a receiver off the hardware plane.
var ErrNotHardware = errors.New("donation: receiver must be a hardware device")

// DayStore persists the donated total per host and UTC day.
type DayStore interface {
	DonatedOn(hostID, day string) (uint64, error)
	SaveDonated(hostID, day string, total uint64) error
}

// Options configures a Scheduler. Zero values are usable.
type Options struct {
	Validator *identity.Validator
	Store     DayStore
}

// Scheduler allocates the daily surplus. It holds the day counter and the
// receiver table under one mutex.
type Scheduler struct {
	mu sync.Mutex

	env          model.HostEnvelope
	policy       Policy
	receivers    []Receiver
	stakeholders []Stakeholder
	validator    *identity.Validator
	store        DayStore
	newID        func() string

	day     string
	donated uint64
}

// NewScheduler creates a Scheduler for the host in env. Receivers keep their
// list order, which is the allocation order. A zero policy uses DefaultPolicy.
func NewScheduler(env model.HostEnvelope, p Policy, receivers []Receiver, stakeholders []Stakeholder, opts Options) *Scheduler {
	if p == (Policy{}) {
		p = DefaultPolicy()
	}
	validator := opts.Validator
	if validator == nil {
		validator = identity.NewValidator(nil)
	}
	s := &Scheduler{
		env:          env,
		policy:       p,
		stakeholders: append([]Stakeholder(nil), stakeholders...),
		validator:    validator,
		store:        opts.Store,
		newID:        uuid.NewString,
	}
	for _, r := range receivers {
		s.upsert(r)
	}
	return s
}

// Policy returns the scheduler policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Receivers returns a copy of the receiver table.
func (s *Scheduler) Receivers() []Receiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Receiver(nil), s.receivers...)
}

// RegisterReceiver adds or replaces a hardware receiver on behalf of admin.
// The admin must pass identity access at MinAdminKnowledge.
func (s *Scheduler) RegisterReceiver(admin model.IdentityHeader, r Receiver) error {
	if err := s.validator.Validate(admin, s.policy.MinAdminKnowledge); err != nil {
		return err
	}
	if r.Plane == "" {
		r.Plane = PlaneHardware
	}
	if r.Plane != PlaneHardware {
		return ErrNotHardware
	}
	if strings.TrimSpace(r.OrgID) == "" {
		return errors.New("donation: receiver org id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(r)
	return nil
}

// upsert replaces the receiver with the same org id in place, or appends.
func (s *Scheduler) upsert(r Receiver) {
	r.MaxFractionPerDay = clamp01(r.MaxFractionPerDay)
	for i := range s.receivers {
		if s.receivers[i].OrgID == r.OrgID {
			s.receivers[i] = r
			return
		}
	}
	s.receivers = append(s.receivers, r)
}

// DonatedToday returns the total donated on the UTC day of now.
func (s *Scheduler) DonatedToday(now time.Time) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rollover(turns.DayKey(now)); err != nil {
		return 0, err
	}
	return s.donated, nil
}

// rollover moves the day counter forward to day. With a store the counter
// resumes from the persisted total. An earlier day is refused. Caller holds s.mu.
func (s *Scheduler) rollover(day string) error {
	if s.day == day {
		return nil
	}
	if day < s.day {
		return fmt.Errorf("%w: %s before %s", ErrStaleDay, day, s.day)
	}
	var donated uint64
	if s.store != nil {
		d, err := s.store.DonatedOn(s.env.HostID, day)
		if err != nil {
			return fmt.Errorf("donation: load day total: %w", err)
		}
		donated = d
	}
	s.day = day
	s.donated = donated
	return nil
}

// Schedule runs one scheduling window against pool. Each precondition that
// fails returns a no-op audit with a reason; the error return is reserved for
// a bad timestamp or a store failure, and in both cases pool is untouched.
//
// Steps:
//  1. opt-in flag set
//  2. eco alignment >= MinEcoAlignment
//  3. vitals inside the envelope with safe lifeforce bands
//  4. available = min(floor(resource * min(surplus, window cap)), remaining daily cap)
//  5. allocate over active hardware receivers in order, each capped at its
//     own fraction of the pool
//  6. persist the day total, debit pool, compute stakeholder rewards
func (s *Scheduler) Schedule(pool *Pool, ctx Context) (Audit, error) {
	now, err := time.Parse(time.RFC3339Nano, ctx.Now)
	if err != nil {
		return Audit{}, ErrInvalidTimestamp
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	day := turns.DayKey(now)
	if err := s.rollover(day); err != nil {
		return Audit{}, err
	}
	audit := Audit{
		AuditID:     s.newID(),
		HostID:      s.env.HostID,
		Date:        day,
		FloorStatus: FloorNotApplicable,
	}
	noop := func(reason string) (Audit, error) {
		audit.DonatedToday = s.donated
		audit.Reason = reason
		return audit, nil
	}

	// Step 1-3: preconditions
	if !ctx.OptIn {
		return noop(ReasonNoOptIn)
	}
	if !(ctx.EcoAlignment >= s.policy.MinEcoAlignment) {
		return noop(ReasonEcoBelow)
	}
	if !s.vitalsSafe(ctx.Vitals) {
		return noop(ReasonUnsafeVitals)
	}

	// Step 4: caps
	surplus := clamp01(ctx.SurplusFraction)
	if surplus == 0 || !(pool.Resource > 0) {
		return noop(ReasonNoSurplus)
	}
	fraction := math.Min(surplus, clamp01(s.policy.WindowCapFraction))
	theoretical := floorUnits(pool.Resource * fraction)
	if theoretical == 0 {
		return noop(ReasonSurplusTooSmall)
	}
	if s.donated >= s.policy.MaxPerDay {
		return noop(ReasonDailyCapReached)
	}
	spendable := min(theoretical, s.policy.MaxPerDay-s.donated)

	// Step 5: allocation
	var eligible []Receiver
	for _, r := range s.receivers {
		if r.eligible() {
			eligible = append(eligible, r)
		}
	}
	if len(eligible) == 0 {
		return noop(ReasonNoReceivers)
	}
	jobs, spent, eco := s.allocate(eligible, pool.Resource, spendable)
	if spent == 0 {
		return noop(ReasonNoAllocation)
	}

	// Step 6: commit
	before := s.donated
	after := before + spent
	if s.store != nil {
		if err := s.store.SaveDonated(s.env.HostID, day, after); err != nil {
			return Audit{}, fmt.Errorf("donation: save day total: %w", err)
		}
	}
	s.donated = after
	pool.Resource = math.Max(pool.Resource-float64(spent), 0)

	audit.AppliedJobs = jobs
	audit.TotalSpent = spent
	audit.TotalEcoCost = eco
	audit.StakeholderRewards = s.rewards(spent)
	audit.FloorStatus = s.floorStatus(before, after)
	audit.DonatedToday = after
	audit.Reason = ReasonScheduled
	return audit, nil
}

// vitalsSafe requires the state inside the envelope and every lifeforce
// band at safe.
func (s *Scheduler) vitalsSafe(v model.VitalsState) bool {
	if guard.CheckState(v, s.env) != nil {
		return false
	}
	m := s.env.SoftMargin
	return model.ClassifyFloor(v.Brain, s.env.BrainMin, m) == model.BandSafe &&
		model.ClassifyFloor(v.Blood, s.env.BloodMin, m) == model.BandSafe &&
		model.ClassifyFloor(v.Oxygen, s.env.OxygenMin, m) == model.BandSafe
}

// allocate splits spendable across receivers in order. Each receiver gets
// roughly an even share of what remains, at least one unit, never more than
// its own cap or the running remainder.
func (s *Scheduler) allocate(receivers []Receiver, resource float64, spendable uint64) ([]Job, uint64, uint64) {
	var (
		jobs  []Job
		spent uint64
		eco   uint64
	)
	remaining := spendable
	for idx, r := range receivers {
		if remaining == 0 {
			break
		}
		capUnits := floorUnits(resource * r.MaxFractionPerDay)
		if capUnits == 0 {
			continue
		}
		share := max(remaining/uint64(len(receivers)-idx), 1)
		amount := min(share, capUnits, remaining)

		cost := saturatingMul(amount, s.policy.EcoCostPerUnit)
		jobs = append(jobs, Job{
			JobID:    s.newID(),
			OrgID:    r.OrgID,
			DeviceID: r.DeviceID,
			DID:      r.DID,
			Amount:   amount,
			EcoCost:  cost,
			Label:    fmt.Sprintf("hardware-plane donation to %s::%s", r.OrgID, r.DeviceID),
		})
		remaining -= amount
		spent += amount
		eco = saturatingAdd(eco, cost)
	}
	return jobs, spent, eco
}

// rewards splits the two reward pools over active stakeholders by
// normalized weight.
func (s *Scheduler) rewards(spent uint64) []Reward {
	var total float64
	for _, sh := range s.stakeholders {
		if sh.Active && sh.Weight > 0 {
			total += sh.Weight
		}
	}
	if spent == 0 || !(total > 0) {
		return nil
	}
	evolvePool := float64(spent) * s.policy.EvolveRewardRate
	nanoPool := float64(spent) * s.policy.NanoRewardRate

	var out []Reward
	for _, sh := range s.stakeholders {
		if !sh.Active || !(sh.Weight > 0) {
			continue
		}
		share := sh.Weight / total
		out = append(out, Reward{
			DID:         sh.DID,
			Kind:        sh.Kind,
			EvolveDelta: evolvePool * share,
			NanoDelta:   nanoPool * share,
		})
	}
	return out
}

// floorStatus classifies the day's floor given the totals before and after
// this window. Every window with a configured floor gets a status, not only
// the window that crosses it: windows after the crossing report
// FloorAboveWithinCap and windows short of it report FloorBelowSkipped.
// FloorNotApplicable is reserved for a zero floor and for no-op windows.
func (s *Scheduler) floorStatus(before, after uint64) FloorStatus {
	floor := s.policy.MinFloorPerDay
	switch {
	case floor == 0:
		return FloorNotApplicable
	case after < floor:
		return FloorBelowSkipped
	case before < floor:
		return FloorMet
	default:
		return FloorAboveWithinCap
	}
}

func clamp01(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// floorUnits truncates a non-negative amount to whole units.
func floorUnits(v float64) uint64 {
	if !(v >= 1) {
		return 0
	}
	if v >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(math.Floor(v))
}

func saturatingMul(a, b uint64) uint64 {
	if a != 0 && b > math.MaxUint64/a {
		return math.MaxUint64
	}
	return a * b
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
