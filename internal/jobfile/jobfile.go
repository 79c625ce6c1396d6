// Package jobfile reads execution jobs from YAML files.
//
//	language: python
//	version: 3.x
//	files:
//	  - path: main.py
//	  - name: util.py
//	    content: |
//	      def greet(n): return f"Hello, {n}!"
//	stdin: Alice
//	args: [--verbose]
//	limits:
//	  run_timeout: 3000
//	  run_memory_limit: -1
package jobfile

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/michaelbrown/piston-go/piston"
)

// File is one source file. Path is read relative to the job file and
// replaces Content; Name defaults to the base name of Path.
type File struct {
	Name     string              `yaml:"name"`
	Content  string              `yaml:"content"`
	Path     string              `yaml:"path"`
	Encoding piston.FileEncoding `yaml:"encoding"`
}

// Limits mirror the request limits. Nil fields are left to the service.
type Limits struct {
	CompileTimeout     *int64 `yaml:"compile_timeout"`
	CompileCPUTime     *int64 `yaml:"compile_cpu_time"`
	CompileMemoryLimit *int64 `yaml:"compile_memory_limit"`
	RunTimeout         *int64 `yaml:"run_timeout"`
	RunCPUTime         *int64 `yaml:"run_cpu_time"`
	RunMemoryLimit     *int64 `yaml:"run_memory_limit"`
}

// Job is an execution request as written in a job file.
type Job struct {
	Language string    `yaml:"language"`
	Version  string    `yaml:"version"`
	Files    []File    `yaml:"files"`
	Stdin    *string   `yaml:"stdin"`
	Args     *[]string `yaml:"args"`
	Limits   Limits    `yaml:"limits"`
}

// Load reads a job from a YAML file and inlines every file given by path.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job %s: %w", path, err)
	}

	j, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("parsing job %s: %w", path, err)
	}
	return j, nil
}

// Parse decodes a job, resolving file paths against dir.
func Parse(data []byte, dir string) (*Job, error) {
	var j Job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return nil, err
	}

	for i := range j.Files {
		f := &j.Files[i]
		if f.Path == "" {
			continue
		}
		if f.Content != "" {
			return nil, fmt.Errorf("file %d: content and path are mutually exclusive", i+1)
		}
		p := f.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", i+1, err)
		}
		f.Content = string(content)
		if f.Name == "" {
			f.Name = filepath.Base(f.Path)
		}
		f.Path = ""
	}

	return &j, nil
}

// Request converts the job into an execution request. Only the optional
// fields written in the file are set.
func (j *Job) Request() piston.ExecuteRequest {
	files := make([]piston.ExecuteFile, 0, len(j.Files))
	for _, f := range j.Files {
		files = append(files, piston.ExecuteFile{Name: f.Name, Content: f.Content, Encoding: f.Encoding})
	}

	return piston.ExecuteRequest{
		Language:           j.Language,
		Version:            j.Version,
		Files:              files,
		Stdin:              piston.FromPtr(j.Stdin),
		Args:               piston.FromPtr(j.Args),
		CompileTimeout:     piston.FromPtr(j.Limits.CompileTimeout),
		CompileCPUTime:     piston.FromPtr(j.Limits.CompileCPUTime),
		CompileMemoryLimit: piston.FromPtr(j.Limits.CompileMemoryLimit),
		RunTimeout:         piston.FromPtr(j.Limits.RunTimeout),
		RunCPUTime:         piston.FromPtr(j.Limits.RunCPUTime),
		RunMemoryLimit:     piston.FromPtr(j.Limits.RunMemoryLimit),
	}
}
