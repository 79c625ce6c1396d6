package piston

// wireRequest is the body of POST /execute.
type wireRequest struct {
	Language string        `json:"language"`
	Version  string        `json:"version"`
	Files    []ExecuteFile `json:"files"`

	Stdin              Optional[string]   `json:"stdin,omitzero"`
	Args               Optional[[]string] `json:"args,omitzero"`
	CompileTimeout     Optional[int64]    `json:"compile_timeout,omitzero"`
	CompileCPUTime     Optional[int64]    `json:"compile_cpu_time,omitzero"`
	CompileMemoryLimit Optional[int64]    `json:"compile_memory_limit,omitzero"`
	RunTimeout         Optional[int64]    `json:"run_timeout,omitzero"`
	RunCPUTime         Optional[int64]    `json:"run_cpu_time,omitzero"`
	RunMemoryLimit     Optional[int64]    `json:"run_memory_limit,omitzero"`
}

// wireStage is one stage of a POST /execute success body.
type wireStage struct {
	Stdout   string                    `json:"stdout"`
	Stderr   string                    `json:"stderr"`
	Output   string                    `json:"output"`
	Code     Optional[int]             `json:"code"`
	Signal   Optional[Signal]          `json:"signal"`
	Message  Optional[string]          `json:"message"`
	Status   Optional[ExecutionStatus] `json:"status"`
	CPUTime  Optional[int64]           `json:"cpu_time"`
	WallTime Optional[int64]           `json:"wall_time"`
	Memory   Optional[int64]           `json:"memory"`
}

type wireResponse struct {
	Language string     `json:"language"`
	Version  string     `json:"version"`
	Compile  *wireStage `json:"compile,omitempty"`
	Run      *wireStage `json:"run,omitempty"`
}

type wireError struct {
	Message string `json:"message"`
}

// toWireRequest renames the request fields for the service. Optional fields
// keep their presence, so unset ones are dropped when encoded.
func toWireRequest(req ExecuteRequest) wireRequest {
	files := req.Files
	if files == nil {
		files = []ExecuteFile{}
	}
	args := req.Args
	if v, ok := args.Get(); ok && v == nil {
		args = Some([]string{})
	}
	return wireRequest{
		Language:           req.Language,
		Version:            req.Version,
		Files:              files,
		Stdin:              req.Stdin,
		Args:               args,
		CompileTimeout:     req.CompileTimeout,
		CompileCPUTime:     req.CompileCPUTime,
		CompileMemoryLimit: req.CompileMemoryLimit,
		RunTimeout:         req.RunTimeout,
		RunCPUTime:         req.RunCPUTime,
		RunMemoryLimit:     req.RunMemoryLimit,
	}
}

func fromWireStage(w *wireStage) StageResult {
	return StageResult{
		Stdout:   w.Stdout,
		Stderr:   w.Stderr,
		Output:   w.Output,
		Code:     w.Code,
		Signal:   w.Signal,
		Message:  w.Message,
		Status:   w.Status,
		CPUTime:  w.CPUTime,
		WallTime: w.WallTime,
		Memory:   w.Memory,
	}
}

func fromWireResponse(w *wireResponse) *ExecuteResponse {
	resp := &ExecuteResponse{
		Language: w.Language,
		Version:  w.Version,
	}
	if w.Compile != nil {
		compile := fromWireStage(w.Compile)
		resp.Compile = &compile
	}
	if w.Run != nil {
		resp.Run = fromWireStage(w.Run)
	}
	return resp
}
