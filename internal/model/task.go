package model

import "time"

// TaskStatus represents the current state of an analysis task.
type TaskStatus string

const (
	TaskStatusPending             TaskStatus = "pending"
	TaskStatusRunning             TaskStatus = "running"
	TaskStatusGeneratingPersonas  TaskStatus = "generating_personas"
	TaskStatusSimulatingReactions TaskStatus = "simulating_reactions"
	TaskStatusGeneratingReport    TaskStatus = "generating_report"
	TaskStatusSendingEmail        TaskStatus = "sending_email"
	TaskStatusCompleted           TaskStatus = "completed"
	TaskStatusFailed              TaskStatus = "failed"
	TaskStatusStopped             TaskStatus = "stopped"
)

// IsTerminal reports whether the task has finished, successfully or not.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusStopped:
		return true
	default:
		return false
	}
}

// Restartable reports whether a task in this status may be restarted.
func (s TaskStatus) Restartable() bool {
	return s == TaskStatusFailed || s == TaskStatusStopped
}

// Progress is the externally visible progress record of a task.
type Progress struct {
	CurrentStep string  `json:"current_step"`
	Completed   int     `json:"completed"`
	Total       int     `json:"total"`
	Percentage  float64 `json:"percentage"`
	UsedTokens  int     `json:"used_tokens,omitempty"`
	TotalTokens int     `json:"total_tokens,omitempty"`
}

// WebSearchSummary records the task-level web research used during simulation.
type WebSearchSummary struct {
	Queries            []string `json:"queries"`
	Summary            string   `json:"summary"`
	ReferencesMarkdown string   `json:"references_markdown"`
}

// Stats aggregates simulation results for the report collaborator.
type Stats struct {
	WouldTryPercentage        float64            `json:"would_try_percentage"`
	WouldBuyPercentage        float64            `json:"would_buy_percentage"`
	MustHavePercentage        float64            `json:"must_have_percentage"`
	WouldRecommendPercentage  float64            `json:"would_recommend_percentage"`
	DependencyPercentages     map[string]float64 `json:"dependency_percentages"`
	UserTypePercentages       map[string]float64 `json:"user_type_percentages"`
	UsageFrequencyPercentages map[string]float64 `json:"usage_frequency_percentages"`
	LocationPercentages       map[string]float64 `json:"location_percentages"`
	TopBarriers               []BarrierCount     `json:"top_barriers"`
	TotalPersonas             int                `json:"total_personas"`
	TotalSimulations          int                `json:"total_simulations"`
}

// BarrierCount is one adoption barrier keyword and how often it was cited.
type BarrierCount struct {
	Barrier string `json:"barrier"`
	Count   int    `json:"count"`
}

// Task is one persona-generation and simulation run for a product.
type Task struct {
	ID                 string            `json:"id"`
	ProductDescription string            `json:"product_description"`
	NumPersonas        int               `json:"num_personas"`
	NumSimulations     int               `json:"num_simulations"`
	Email              string            `json:"email,omitempty"`
	Status             TaskStatus        `json:"status"`
	Progress           Progress          `json:"progress"`
	Stats              *Stats            `json:"stats,omitempty"`
	WebSearch          *WebSearchSummary `json:"web_search,omitempty"`
	ReportPath         string            `json:"report_path,omitempty"`
	Error              string            `json:"error,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	StartedAt          *time.Time        `json:"started_at,omitempty"`
	FinishedAt         *time.Time        `json:"finished_at,omitempty"`
}

// ReportInput is everything a report writer receives for a finished task.
type ReportInput struct {
	TaskID             string
	ProductDescription string
	Personas           []Persona
	Simulations        []SimulationResult
	Stats              *Stats
	WebSummary         string
	WebReferences      string
}
