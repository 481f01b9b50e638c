package research

// Settings controls how a session is researched.
type Settings struct {
	// Parallel bounds concurrently processing search tasks.
	Parallel int
	// EnableSearch turns on web search for tasks. With no search provider
	// configured the task model searches natively.
	EnableSearch         bool
	EnableReferences     bool
	EnableCitationImage  bool
	OnlyUseLocalResource bool
	// KnowledgeTopK is the number of chunks retrieved per task.
	KnowledgeTopK int
	// Language forces the response language; empty follows the user.
	Language string
	// ReviewDepth is the number of review rounds Run performs.
	ReviewDepth int
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		Parallel:            2,
		EnableSearch:        true,
		EnableReferences:    true,
		EnableCitationImage: true,
		KnowledgeTopK:       5,
		ReviewDepth:         1,
	}
}

func (s Settings) parallel() int {
	if s.Parallel < 1 {
		return 1
	}
	return s.Parallel
}
