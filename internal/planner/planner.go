// Package planner implements the distribution planner (C4): it turns a
// change set's round size together with a per-worker credit vector into
// a per-worker quota vector, under a chosen strategy. The planner never
// blocks and never calls into the batch tracker or dispatch pipeline; it
// is pure given its inputs: the same inputs always give the same plan,
// and no strategy uses randomness.
package planner

import "sort"

// Strategy selects the planning algorithm.
type Strategy string

const (
	Greedy     Strategy = "greedy"
	RoundRobin Strategy = "round_robin"
	Balanced   Strategy = "balanced"
)

// Plan computes plan[s] for every worker in credits such that:
//  1. plan[s] <= credits[s] for every s
//  2. sum(plan) <= min(target, sum(credits))
//  3. sum(plan) is maximised subject to (1) and (2)
//
// Workers absent from credits receive plan[s] = 0 implicitly (they are
// simply absent from the returned map).
func Plan(strategy Strategy, credits map[string]int, target int) map[string]int {
	if target < 0 {
		target = 0
	}
	switch strategy {
	case RoundRobin:
		return roundRobin(credits, target)
	case Balanced:
		return balanced(credits, target)
	case Greedy:
		return greedy(credits, target)
	default:
		return greedy(credits, target)
	}
}

// workerIDs returns the credits map's keys in deterministic (sorted)
// order, so that residual round-robin fill and tie-breaking are
// reproducible across runs.
func workerIDs(credits map[string]int) []string {
	ids := make([]string, 0, len(credits))
	for id := range credits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func greedy(credits map[string]int, target int) map[string]int {
	ids := workerIDs(credits)
	sort.SliceStable(ids, func(i, j int) bool { return credits[ids[i]] > credits[ids[j]] })

	plan := make(map[string]int, len(ids))
	remaining := target
	for _, id := range ids {
		if remaining <= 0 {
			plan[id] = 0
			continue
		}
		take := credits[id]
		if take > remaining {
			take = remaining
		}
		if take < 0 {
			take = 0
		}
		plan[id] = take
		remaining -= take
	}
	return fillResidual(plan, credits, remaining)
}

func roundRobin(credits map[string]int, target int) map[string]int {
	ids := workerIDs(credits)
	plan := make(map[string]int, len(ids))
	for _, id := range ids {
		plan[id] = 0
	}

	remaining := target
	for remaining > 0 {
		grantedThisPass := false
		for _, id := range ids {
			if remaining <= 0 {
				break
			}
			if plan[id] < credits[id] {
				plan[id]++
				remaining--
				grantedThisPass = true
			}
		}
		if !grantedThisPass {
			break
		}
	}
	return plan
}

func balanced(credits map[string]int, target int) map[string]int {
	ids := workerIDs(credits)
	total := 0
	for _, id := range ids {
		total += credits[id]
	}
	if total == 0 || target <= 0 {
		plan := make(map[string]int, len(ids))
		for _, id := range ids {
			plan[id] = 0
		}
		return plan
	}
	if target > total {
		target = total
	}

	type share struct {
		id       string
		floor    int
		fraction float64
	}
	shares := make([]share, len(ids))
	floorSum := 0
	for i, id := range ids {
		exact := float64(credits[id]) * float64(target) / float64(total)
		floor := int(exact)
		shares[i] = share{id: id, floor: floor, fraction: exact - float64(floor)}
		floorSum += floor
	}

	plan := make(map[string]int, len(ids))
	for _, s := range shares {
		plan[s.id] = s.floor
	}

	leftover := target - floorSum
	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].fraction != shares[j].fraction {
			return shares[i].fraction > shares[j].fraction
		}
		return shares[i].id < shares[j].id
	})
	for _, s := range shares {
		if leftover <= 0 {
			break
		}
		if plan[s.id] < credits[s.id] {
			plan[s.id]++
			leftover--
		}
	}

	if leftover > 0 {
		return fillResidual(plan, credits, leftover)
	}
	return plan
}

// fillResidual distributes any capacity left over (after a strategy's
// primary pass) by round-robin over workers that still have headroom, so
// that sum(plan) is maximised subject to the per-worker credit ceiling.
func fillResidual(plan map[string]int, credits map[string]int, remaining int) map[string]int {
	if remaining <= 0 {
		return plan
	}
	ids := workerIDs(credits)
	for remaining > 0 {
		grantedThisPass := false
		for _, id := range ids {
			if remaining <= 0 {
				break
			}
			if plan[id] < credits[id] {
				plan[id]++
				remaining--
				grantedThisPass = true
			}
		}
		if !grantedThisPass {
			break
		}
	}
	return plan
}
