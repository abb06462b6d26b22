// protocol.go: newline-delimited JSON protocol spoken with a vision worker
// process over stdin/stdout. One JSON object per line in each direction.
package vision

// Commands sent to a worker.
const (
	cmdLoad         = "load"
	cmdFullAnalysis = "full_analysis"
	cmdExit         = "exit"
)

// workerRequest is one command line written to the worker's stdin.
type workerRequest struct {
	Command     string `json:"command"`
	Device      string `json:"device,omitempty"`
	ImagePath   string `json:"image_path,omitempty"`
	RequestID   int64  `json:"request_id,omitempty"`
	NeedObjects bool   `json:"need_objects,omitempty"`
}

// workerResponse is one line read from the worker's stdout. Exactly one of
// Status, Analysis or Error is meaningful per line; RequestID correlates
// analysis results and errors with their request.
type workerResponse struct {
	Status    string          `json:"status,omitempty"`
	Analysis  *AnalysisResult `json:"analysis,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID int64           `json:"request_id,omitempty"`
}

// AnalysisResult is the model output for one image.
type AnalysisResult struct {
	Caption string   `json:"caption"`
	Objects []string `json:"objects"`
}

const statusLoaded = "loaded"
