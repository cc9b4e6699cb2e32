package events

// Topics published over the hub. SSE clients see them as event names.
const (
	TopicRunStarted         = "run.started"
	TopicRunFinished        = "run.finished"
	TopicInvocationStarted  = "invocation.started"
	TopicInvocationFinished = "invocation.finished"
	TopicLibraryLoadFailed  = "library.load_failed"
)

// RunStarted announces a new validation run and its planned size.
type RunStarted struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Libraries int    `json:"libraries"`
}

// InvocationStarted announces one test beginning execution.
type InvocationStarted struct {
	InvocationID string `json:"invocation_id"`
	Library      string `json:"library"`
	PluginID     string `json:"plugin_id,omitempty"`
	TestID       string `json:"test_id"`
}

// InvocationFinished carries one test's terminal outcome along with the
// run's progress counters, so a consumer can drive a progress bar without
// tracking state of its own.
type InvocationFinished struct {
	InvocationID string `json:"invocation_id"`
	Library      string `json:"library"`
	PluginID     string `json:"plugin_id,omitempty"`
	TestID       string `json:"test_id"`
	Outcome      string `json:"code"`
	Message      string `json:"details,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
	Completed    int    `json:"completed"`
	Total        int    `json:"total"`
}

// LibraryLoadFailed reports a library that could not be scanned at plan
// time.
type LibraryLoadFailed struct {
	Library string `json:"library"`
	Error   string `json:"error"`
}

// RunFinished carries the final tally.
type RunFinished struct {
	RunID    string `json:"run_id"`
	Total    int    `json:"total"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	Warnings int    `json:"warnings"`
	Skipped  int    `json:"skipped"`
	Crashed  int    `json:"crashed"`
	TimedOut int    `json:"timed_out"`
}
