package sandbox

import (
	"slices"
	"strings"

	"github.com/michaelbrown/piston-go/internal/config"
	"github.com/michaelbrown/piston-go/piston"
)

// Limits are per-stage resource limits: milliseconds for time, bytes for
// memory, -1 for unlimited memory. Unset limits are left to the service.
type Limits struct {
	CompileTimeout     piston.Optional[int64]
	CompileCPUTime     piston.Optional[int64]
	CompileMemoryLimit piston.Optional[int64]
	RunTimeout         piston.Optional[int64]
	RunCPUTime         piston.Optional[int64]
	RunMemoryLimit     piston.Optional[int64]
}

// Merge returns l with every limit set in override replaced.
func (l Limits) Merge(override Limits) Limits {
	pick := func(base, over piston.Optional[int64]) piston.Optional[int64] {
		if over.IsSet() {
			return over
		}
		return base
	}
	return Limits{
		CompileTimeout:     pick(l.CompileTimeout, override.CompileTimeout),
		CompileCPUTime:     pick(l.CompileCPUTime, override.CompileCPUTime),
		CompileMemoryLimit: pick(l.CompileMemoryLimit, override.CompileMemoryLimit),
		RunTimeout:         pick(l.RunTimeout, override.RunTimeout),
		RunCPUTime:         pick(l.RunCPUTime, override.RunCPUTime),
		RunMemoryLimit:     pick(l.RunMemoryLimit, override.RunMemoryLimit),
	}
}

// Apply copies the limits onto req.
func (l Limits) Apply(req *piston.ExecuteRequest) {
	req.CompileTimeout = l.CompileTimeout
	req.CompileCPUTime = l.CompileCPUTime
	req.CompileMemoryLimit = l.CompileMemoryLimit
	req.RunTimeout = l.RunTimeout
	req.RunCPUTime = l.RunCPUTime
	req.RunMemoryLimit = l.RunMemoryLimit
}

// Policy defines defaults and restrictions for sandbox execution.
type Policy struct {
	Limits          Limits
	Languages       []string // allowed languages; empty allows all
	DefaultLanguage string
	DefaultVersion  string
}

// DefaultPolicy leaves limits to the service and accepts any language at
// its latest installed version.
func DefaultPolicy() Policy {
	return Policy{DefaultVersion: "*"}
}

// PolicyFromConfig builds a policy from the limits and defaults sections of
// the configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	p := DefaultPolicy()
	p.Limits = Limits{
		CompileTimeout:     piston.FromPtr(cfg.Limits.CompileTimeout),
		CompileCPUTime:     piston.FromPtr(cfg.Limits.CompileCPUTime),
		CompileMemoryLimit: piston.FromPtr(cfg.Limits.CompileMemoryLimit),
		RunTimeout:         piston.FromPtr(cfg.Limits.RunTimeout),
		RunCPUTime:         piston.FromPtr(cfg.Limits.RunCPUTime),
		RunMemoryLimit:     piston.FromPtr(cfg.Limits.RunMemoryLimit),
	}
	p.Languages = slices.Clone(cfg.Limits.Languages)
	p.DefaultLanguage = cfg.Defaults.Language
	if cfg.Defaults.Version != "" {
		p.DefaultVersion = cfg.Defaults.Version
	}
	return p
}

// IsLanguageAllowed checks if a language is on the allowlist.
func (p Policy) IsLanguageAllowed(language string) bool {
	if len(p.Languages) == 0 {
		return true
	}
	for _, allowed := range p.Languages {
		if strings.EqualFold(allowed, language) {
			return true
		}
	}
	return false
}
