// Package agentloop implements the interactive agent loop behind gemcode.
//
// A Session owns the conversation history. Each Submit streams a reply
// from the model, executes any requested tools sequentially in the order
// they were requested, appends their results and re-requests, until the
// model answers with plain text.
//
// # Architecture
//
//   - Session: the state machine (idle, streaming, tool pending,
//     executing) holding history and enforcing tool-call correlation.
//   - ToolRegistry: typed tool registration with reflected JSON Schemas,
//     validated arguments and dispatch that never fails the turn.
//   - ExecutionEnvironment: where tools run. LocalExecutionEnvironment
//     confines file access to a Sandbox rooted at the working directory.
//   - EventEmitter: typed events for the CLI and TUI front ends.
//
// # Quick Start
//
//	sandbox, _ := agentloop.NewSandbox(".")
//	env := agentloop.NewLocalExecutionEnvironment(sandbox, 0)
//	registry := agentloop.NewToolRegistry()
//	_ = agentloop.RegisterBuiltinTools(registry, nil)
//
//	cfg := agentloop.DefaultSessionConfig()
//	cfg.Model = "gpt-4o-mini"
//	cfg.SystemPrompt = agentloop.BuildSystemPrompt(env, cfg.Model, "")
//	session := agentloop.NewSession(client, registry, env, cfg)
//	defer session.Close()
//
//	if err := session.Submit(ctx, "Create a hello.py file"); err != nil {
//	    log.Fatal(err)
//	}
package agentloop
