package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlan_Greedy_ScenarioA(t *testing.T) {
	credits := map[string]int{"a": 7, "b": 3, "c": 2}

	plan := Plan(Greedy, credits, 5)
	assert.Equal(t, map[string]int{"a": 5, "b": 0, "c": 0}, plan)

	plan = Plan(Greedy, credits, 11)
	assert.Equal(t, map[string]int{"a": 7, "b": 3, "c": 1}, plan)
}

func TestPlan_Balanced_ScenarioB(t *testing.T) {
	credits := map[string]int{"a": 10, "b": 10, "c": 10}
	plan := Plan(Balanced, credits, 7)
	assert.Equal(t, map[string]int{"a": 3, "b": 2, "c": 2}, plan)
}

func TestPlan_RoundRobin_DistributesOneAtATime(t *testing.T) {
	credits := map[string]int{"a": 2, "b": 1, "c": 5}
	plan := Plan(RoundRobin, credits, 4)
	sum := 0
	for _, v := range plan {
		sum += v
	}
	assert.Equal(t, 4, sum)
	assertInvariants(t, credits, 4, plan)
}

func assertInvariants(t *testing.T, credits map[string]int, target int, plan map[string]int) {
	t.Helper()
	sum := 0
	totalCredits := 0
	for id, c := range credits {
		totalCredits += c
		assert.LessOrEqualf(t, plan[id], c, "plan[%s] must not exceed credits", id)
		sum += plan[id]
	}
	expectedCap := target
	if totalCredits < expectedCap {
		expectedCap = totalCredits
	}
	assert.LessOrEqual(t, sum, expectedCap)
	if target <= totalCredits {
		assert.Equal(t, target, sum, "sum(plan) should equal target when target <= sum(credits)")
	}
}

func TestPlan_Invariants_HoldAcrossStrategiesAndShapes(t *testing.T) {
	scenarios := []struct {
		credits map[string]int
		target  int
	}{
		{map[string]int{"a": 7, "b": 3, "c": 2}, 5},
		{map[string]int{"a": 7, "b": 3, "c": 2}, 11},
		{map[string]int{"a": 0, "b": 0}, 5},
		{map[string]int{"a": 1}, 0},
		{map[string]int{}, 10},
		{map[string]int{"a": 4, "b": 4, "c": 4, "d": 1}, 9},
	}
	for _, sc := range scenarios {
		for _, strat := range []Strategy{Greedy, RoundRobin, Balanced} {
			plan := Plan(strat, sc.credits, sc.target)
			assertInvariants(t, sc.credits, sc.target, plan)
		}
	}
}

func TestPlan_AbsentWorkersGetZero(t *testing.T) {
	credits := map[string]int{"a": 5}
	plan := Plan(Greedy, credits, 5)
	assert.Equal(t, 0, plan["ghost"])
}

func TestPlan_UnknownStrategyFallsBackToGreedy(t *testing.T) {
	credits := map[string]int{"a": 7, "b": 3, "c": 2}
	plan := Plan(Strategy("bogus"), credits, 5)
	assert.Equal(t, map[string]int{"a": 5, "b": 0, "c": 0}, plan)
}
