package orchestrator

import (
	"math"
	"slices"
	"strings"

	"github.com/sells-group/persona-sim/internal/model"
	"github.com/sells-group/persona-sim/internal/simulation"
)

const topBarrierCount = 5

// ComputeStats aggregates simulation results into report statistics. It
// returns nil when there are no results.
func ComputeStats(personas []model.Persona, results []model.SimulationResult) *model.Stats {
	total := len(results)
	if total == 0 {
		return nil
	}

	locations := make(map[string]string, len(personas))
	for _, p := range personas {
		locations[p.ID] = p.Location
	}

	var try, buy, must, recommend int
	dependency := map[string]int{
		string(model.DependencyPainful):     0,
		string(model.DependencyAcceptable):  0,
		string(model.DependencyIndifferent): 0,
	}
	userTypes := map[string]int{}
	frequencies := map[string]int{}
	locationCounts := map[string]int{}
	barriers := newCounter()

	for _, r := range results {
		if r.WouldTry {
			try++
		}
		if r.WouldBuy {
			buy++
		}
		if r.IsMustHave {
			must++
		}
		if r.WouldRecommend {
			recommend++
		}
		if _, ok := dependency[r.DependencyLevel]; ok {
			dependency[r.DependencyLevel]++
		}
		userTypes[orUnknown(r.UserType)]++
		frequencies[orUnknown(r.UsageFrequency)]++
		locationCounts[orUnknown(locations[r.PersonaID])]++

		b := r.BarrierToAdoption
		if b == "" || b == model.NotProvided || b == simulation.SimulationErrorText {
			continue
		}
		for _, k := range strings.Split(strings.ReplaceAll(b, "，", ","), ",") {
			k = strings.TrimSpace(k)
			if len([]rune(k)) > 1 {
				barriers.add(k)
			}
		}
	}

	return &model.Stats{
		WouldTryPercentage:        percent(try, total),
		WouldBuyPercentage:        percent(buy, total),
		MustHavePercentage:        percent(must, total),
		WouldRecommendPercentage:  percent(recommend, total),
		DependencyPercentages:     percentages(dependency, total),
		UserTypePercentages:       percentages(userTypes, total),
		UsageFrequencyPercentages: percentages(frequencies, total),
		LocationPercentages:       percentages(locationCounts, total),
		TopBarriers:               barriers.top(topBarrierCount),
		TotalPersonas:             len(personas),
		TotalSimulations:          total,
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func percent(n, total int) float64 {
	return round1(float64(n) / float64(total) * 100)
}

func percentages(counts map[string]int, total int) map[string]float64 {
	out := make(map[string]float64, len(counts))
	for k, n := range counts {
		out[k] = percent(n, total)
	}
	return out
}

// counter counts keywords, remembering first-seen order for ties.
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: map[string]int{}}
}

func (c *counter) add(k string) {
	if _, ok := c.counts[k]; !ok {
		c.order = append(c.order, k)
	}
	c.counts[k]++
}

func (c *counter) top(n int) []model.BarrierCount {
	out := make([]model.BarrierCount, len(c.order))
	for i, k := range c.order {
		out[i] = model.BarrierCount{Barrier: k, Count: c.counts[k]}
	}
	slices.SortStableFunc(out, func(a, b model.BarrierCount) int { return b.Count - a.Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
