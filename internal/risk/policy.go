package risk

// Level (уровень риска участника)
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Policy задаёт пороги уровней
type Policy struct {
	Medium int
	High   int
}

func DefaultPolicy() Policy {
	return Policy{Medium: 5, High: 10}
}

func (p Policy) Level(score int) Level {
	switch {
	case score >= p.High:
		return LevelHigh
	case score >= p.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// PrepaymentRequired сообщает, что при таком риске работа возможна только с депозитом
func (p Policy) PrepaymentRequired(score int) bool {
	return p.Level(score) == LevelHigh
}
