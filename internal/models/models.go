package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Environment string

const (
	EnvDev  Environment = "DEV"
	EnvProd Environment = "PROD"
)

type RunState string

const (
	RunStateStarting   RunState = "starting"
	RunStateRunning    RunState = "running"
	RunStateStopping   RunState = "stopping"
	RunStateStopped    RunState = "stopped"
	RunStateCancelling RunState = "cancelling"
	RunStateCancelled  RunState = "cancelled"
)

type RequestType string

const (
	RequestTypeStop RequestType = "stop"
)

// ServerSnapshot is what a running server publishes about itself in the
// control folder. It is a plain value; compare snapshots with ==.
type ServerSnapshot struct {
	Env     Environment `json:"env" yaml:"env"`
	Port    int         `json:"port" yaml:"port"`
	PID     int         `json:"pid" yaml:"pid"`
	Running bool        `json:"running" yaml:"running"`
}

type ServerRequest struct {
	Type RequestType `json:"type" yaml:"type"`
}

// Invocation is one `runway run` as recorded in the history database.
type Invocation struct {
	ID         string      `json:"id" yaml:"id"`
	Project    string      `json:"project" yaml:"project"`
	Env        Environment `json:"env" yaml:"env"`
	State      RunState    `json:"state" yaml:"state"`
	Reason     string      `json:"reason,omitempty" yaml:"reason,omitempty"`
	Port       int         `json:"port,omitempty" yaml:"port,omitempty"`
	PID        int         `json:"pid,omitempty" yaml:"pid,omitempty"`
	StartedAt  time.Time   `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time   `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development":
		return EnvDev, nil
	case "prod", "production":
		return EnvProd, nil
	default:
		return "", fmt.Errorf("unknown environment %q (expected dev or prod)", s)
	}
}

func (e Environment) Validate() error {
	switch e {
	case EnvDev, EnvProd:
		return nil
	default:
		return fmt.Errorf("invalid environment %q", string(e))
	}
}

// DisplayName is the human readable name used in terminal output.
func (e Environment) DisplayName() string {
	switch e {
	case EnvDev:
		return "development"
	case EnvProd:
		return "production"
	default:
		return strings.ToLower(string(e))
	}
}

func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateStopped, RunStateCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the state is one the state file is still polled in.
func (s RunState) IsActive() bool {
	return s == RunStateStarting || s == RunStateRunning
}

func (s ServerSnapshot) Validate() error {
	if err := s.Env.Validate(); err != nil {
		return err
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if s.PID <= 0 {
		return errors.New("pid must be positive")
	}
	return nil
}

func (r ServerRequest) Validate() error {
	switch r.Type {
	case RequestTypeStop:
		return nil
	case "":
		return errors.New("request type is required")
	default:
		return fmt.Errorf("unknown request type %q", string(r.Type))
	}
}
