package preempt

import (
	"errors"
	"math/rand"
	"sort"

	"github.com/dgaddy/gpu-scheduler/internal/classify"
	"github.com/dgaddy/gpu-scheduler/internal/logging"
	"github.com/dgaddy/gpu-scheduler/internal/users"
)

// ErrNoEligibleVictim means no owner group clears its quota with an
// eligible candidate; the invocation exits without reserving a device.
var ErrNoEligibleVictim = errors.New("no preemptable job clears its owner's quota")

// Quotas are the minimum reservation counts a user keeps before any of
// their jobs become preemptable
type Quotas struct {
	Privileged    int
	NonPrivileged int
}

// Policy ranks reservation holders and selects a single preemption victim
type Policy struct {
	quotas     Quotas
	privileged users.Set
	rng        *rand.Rand
	logger     *logging.Logger
}

// NewPolicy creates a policy. The rng drives tie-breaking among equal-size
// owner groups; pass a seeded source in tests.
func NewPolicy(quotas Quotas, privileged users.Set, rng *rand.Rand, logger *logging.Logger) *Policy {
	return &Policy{
		quotas:     quotas,
		privileged: privileged,
		rng:        rng,
		logger:     logger,
	}
}

// CanAttempt checks the preemption preconditions for a caller whose request
// was exhausted. The returned reason is empty when preemption may proceed.
func (p *Policy) CanAttempt(caller string, req classify.Request, occupants []classify.Occupant) (bool, string) {
	if !p.privileged.Contains(caller) {
		return false, "caller is not privileged"
	}

	if req.Count != 1 {
		return false, "multi-device requests are never preempted on another user's behalf"
	}

	for _, o := range occupants {
		if o.HoldsLock && o.Owner == caller {
			return false, "caller already holds a reservation on a usable device"
		}
	}

	return true, ""
}

type ownerGroup struct {
	owner   string
	members []classify.Occupant
}

// SelectVictim groups occupants by owner, orders groups largest-first with a
// random pre-shuffle breaking size ties, and returns the newest eligible job
// of the first group that exceeds its owner's quota. Exactly one group is
// acted on per call.
func (p *Policy) SelectVictim(occupants []classify.Occupant) (classify.Occupant, error) {
	byOwner := make(map[string][]classify.Occupant)
	for _, o := range occupants {
		byOwner[o.Owner] = append(byOwner[o.Owner], o)
	}

	groups := make([]ownerGroup, 0, len(byOwner))
	for owner, members := range byOwner {
		groups = append(groups, ownerGroup{owner: owner, members: members})
	}

	// Fixed base order so a seeded rng fully determines the outcome
	sort.Slice(groups, func(i, j int) bool { return groups[i].owner < groups[j].owner })
	p.rng.Shuffle(len(groups), func(i, j int) { groups[i], groups[j] = groups[j], groups[i] })
	sort.SliceStable(groups, func(i, j int) bool { return len(groups[i].members) > len(groups[j].members) })

	for _, g := range groups {
		var eligible []classify.Occupant
		for _, o := range g.members {
			if o.Candidate {
				eligible = append(eligible, o)
			}
		}

		quota := p.quotas.NonPrivileged
		if p.privileged.Contains(g.owner) {
			quota = p.quotas.Privileged
		}

		if len(eligible) == 0 || len(g.members) <= quota {
			p.logger.Debug("preempt.group.skipped", "Owner group does not qualify", map[string]interface{}{
				"owner":    g.owner,
				"jobs":     len(g.members),
				"eligible": len(eligible),
				"quota":    quota,
			})
			continue
		}

		// The newest job loses the least compute
		victim := eligible[0]
		for _, o := range eligible[1:] {
			if o.Start.After(victim.Start) {
				victim = o
			}
		}

		p.logger.Info("preempt.victim", "Preemption victim selected", map[string]interface{}{
			"owner":  victim.Owner,
			"pid":    victim.PID,
			"device": victim.Device.Index,
		})
		return victim, nil
	}

	return classify.Occupant{}, ErrNoEligibleVictim
}
