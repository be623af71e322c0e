package toollib

import "github.com/xonecas/symbcore/internal/toolset"

// Factories returns the name-keyed factory table Toolset.Load resolves
// tool names against — one entry per tool this package ships, built
// fresh on each call so the Task tool can assemble an independent
// sub-agent toolset from the same table the root agent uses.
func Factories() map[string]toolset.Factory {
	return map[string]toolset.Factory{
		"Read":      NewReadFactory(),
		"Edit":      NewEditFactory(),
		"Grep":      NewGrepFactory(),
		"Glob":      NewGlobFactory(),
		"Shell":     NewShellFactory(),
		"WebFetch":  NewWebFetchFactory(),
		"WebSearch": NewWebSearchFactory(),
		"TodoWrite": NewTodoWriteFactory(),
		"Task":      NewTaskFactory(),
		"SendDMail": NewSendDMailFactory(),
	}
}
