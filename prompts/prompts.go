package prompts

import _ "embed"

// Embedded prompt files

//go:embed chat_system.txt
var chatSystem string

//go:embed code_execution.txt
var codeExecution string

//go:embed tool_system.txt
var toolSystem string

func ChatSystem() string    { return chatSystem }
func CodeExecution() string { return codeExecution }
func ToolSystem() string    { return toolSystem }
