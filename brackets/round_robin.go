package brackets

import "fmt"

type RoundRobinGenerator struct{}

func NewRoundRobinGenerator() BracketGenerator {
	return &RoundRobinGenerator{}
}

func (g *RoundRobinGenerator) Name() string {
	return "RoundRobin"
}

// Generate pairs every team of a group with every other team once.
func (g *RoundRobinGenerator) Generate(params GenerateParams) ([]*Planned, error) {
	teams := params.Teams
	if len(teams) < 2 {
		return nil, fmt.Errorf("round robin needs at least 2 teams, found %d", len(teams))
	}
	if params.GroupID == nil {
		return nil, fmt.Errorf("round robin tournaments must belong to a group")
	}

	planned := make([]*Planned, 0, len(teams)*(len(teams)-1)/2)
	for i := 0; i < len(teams); i++ {
		for j := i + 1; j < len(teams); j++ {
			if teams[i] == teams[j] {
				return nil, fmt.Errorf("team %d is listed twice in group %d", teams[i], *params.GroupID)
			}
			group := *params.GroupID
			planned = append(planned, &Planned{
				GroupID:   &group,
				TeamOneID: teams[i],
				TeamTwoID: teams[j],
			})
		}
	}
	return planned, nil
}
