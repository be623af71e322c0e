// Package runtime bundles the ambient services tools and subagents need
// — filesystem, working directory, LLM handle, session, approval
// mediator, and the subagent labor market — into one immutable-after-
// construction handle. One Runtime is constructed per session and shared
// by reference with every tool and subagent; nothing in this package
// mutates it after New returns.
package runtime

import (
	goruntime "runtime"

	"github.com/xonecas/symbcore/internal/approval"
	"github.com/xonecas/symbcore/internal/config"
	"github.com/xonecas/symbcore/internal/provider"
)

// Environment describes the host the session is running on (OS and
// shell), carried on the Runtime as Env.
type Environment struct {
	OS    string
	Shell string
}

// DetectEnvironment reports the current process's OS and the given shell
// (or a platform default if shellEnv is empty).
func DetectEnvironment(shellEnv string) Environment {
	shell := shellEnv
	if shell == "" {
		if goruntime.GOOS == "windows" {
			shell = "cmd.exe"
		} else {
			shell = "/bin/sh"
		}
	}
	return Environment{OS: goruntime.GOOS, Shell: shell}
}

// Runtime is the bundle handed to every tool constructor via the
// toolset.Injector. Construct with New; fields are not meant to change
// afterward, though the Mediator and LaborMarket it points to have their
// own internal mutability (whitelist growth, template registration).
type Runtime struct {
	FS       FileSystem
	WorkDir  string
	Provider provider.Provider
	Config   *config.Config
	Approval *approval.Mediator
	Labor    *LaborMarket
	Env      Environment

	SessionID string
}

// New constructs a Runtime. provider may be nil for tests that never
// dispatch an LLM-calling tool (e.g. unit tests of file tools).
func New(workDir string, prov provider.Provider, cfg *config.Config, appr *approval.Mediator, sessionID string) *Runtime {
	return &Runtime{
		FS:        OSFileSystem{},
		WorkDir:   workDir,
		Provider:  prov,
		Config:    cfg,
		Approval:  appr,
		Labor:     NewLaborMarket(),
		Env:       DetectEnvironment(""),
		SessionID: sessionID,
	}
}

// WithProvider returns a shallow copy of rt using prov instead — used by
// the Task tool to give a subagent the same runtime but (potentially) a
// scoped-down provider, without mutating the parent's Runtime.
func (rt *Runtime) WithProvider(prov provider.Provider) *Runtime {
	cp := *rt
	cp.Provider = prov
	return &cp
}
