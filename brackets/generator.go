package brackets

// Planned is a tournament a generator wants created. Generators only decide
// pairings and positions; the caller fills season and schedule.
type Planned struct {
	Stage        int
	InlineNumber *int
	GroupID      *int
	TeamOneID    int
	TeamTwoID    int
}

type GenerateParams struct {
	// Teams is the seeded team list, best seed first.
	Teams   []int
	GroupID *int
}

type BracketGenerator interface {
	Generate(params GenerateParams) ([]*Planned, error)

	Name() string
}
