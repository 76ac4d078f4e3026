package brackets

// GrandFinalStage is the reserved stage of the grand final. It sits outside
// the numbered playoff rounds and never advances.
const GrandFinalStage = 999

// Sibling returns the inline number of the tournament whose winner meets
// this one's winner in the next stage.
func Sibling(inlineNumber int) int {
	return inlineNumber ^ 1
}

// Parent returns the inline number of the next-stage tournament.
func Parent(inlineNumber int) int {
	return inlineNumber / 2
}

// Slot returns the side (1 = team_one, 2 = team_two) the winner of the
// given tournament takes in the next stage.
func Slot(inlineNumber int) int {
	if inlineNumber%2 == 0 {
		return 1
	}
	return 2
}

// Advances reports whether a finished knockout tournament at stage feeds a
// next stage at all.
func Advances(stage int) bool {
	return stage > 0 && stage != GrandFinalStage
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
