package core

import "fmt"

// Task is a declarative definition of one command.
type Task struct {
	// Name is for humans and logs; it does not affect the task hash.
	Name string `json:"name" yaml:"name"`

	// Inputs are file paths or glob patterns relative to the working
	// directory. Their contents are part of the task hash.
	Inputs []string `json:"inputs" yaml:"inputs"`

	// Run is passed verbatim to "sh -c".
	Run string `json:"run" yaml:"run"`

	// Env is the complete environment of the command. Nothing from the
	// host leaks in.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Outputs are files or directories the command produces. They are
	// hashed after a successful run and re-checked by the freshness check.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Validate rejects tasks that cannot run.
func (t *Task) Validate() error {
	if t == nil {
		return fmt.Errorf("task is nil")
	}
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if t.Run == "" {
		return fmt.Errorf("task %q: run command is required", t.Name)
	}
	return nil
}
