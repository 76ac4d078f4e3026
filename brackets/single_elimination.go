package brackets

import (
	"errors"
	"fmt"
)

var ErrBracketSize = errors.New("playoff bracket needs a power of two teams, at least 2")

type SingleEliminationGenerator struct{}

func NewSingleEliminationGenerator() BracketGenerator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) Name() string {
	return "SingleElimination"
}

// Generate creates the first playoff stage. Seeds are placed so that the
// two best seeds can only meet in the last stage; later stages are created
// by bracket advancement as winners come in.
func (g *SingleEliminationGenerator) Generate(params GenerateParams) ([]*Planned, error) {
	n := len(params.Teams)
	if !isPowerOfTwo(n) || n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrBracketSize, n)
	}

	seen := make(map[int]bool, n)
	for _, id := range params.Teams {
		if seen[id] {
			return nil, fmt.Errorf("team %d is seeded twice", id)
		}
		seen[id] = true
	}

	order := SeedOrder(n)
	planned := make([]*Planned, 0, n/2)
	for i := 0; i < n; i += 2 {
		inline := i / 2
		planned = append(planned, &Planned{
			Stage:        1,
			InlineNumber: &inline,
			TeamOneID:    params.Teams[order[i]-1],
			TeamTwoID:    params.Teams[order[i+1]-1],
		})
	}
	return planned, nil
}

// SeedOrder returns the 1-based seed occupying each bracket line for a
// bracket of size n, e.g. 1 8 4 5 2 7 3 6 for eight teams.
func SeedOrder(n int) []int {
	order := []int{1}
	for len(order) < n {
		size := len(order) * 2
		next := make([]int, 0, size)
		for _, s := range order {
			next = append(next, s, size+1-s)
		}
		order = next
	}
	return order
}
