/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"
)

// scriptInterpreters maps the declarative script kind to the
// interpreter binary and shebang line.
var scriptInterpreters = map[string]struct {
	command string
	shebang string
}{
	"shell":      {"sh", "#!/bin/sh"},
	"bash":       {"bash", "#!/usr/bin/env bash"},
	"python":     {"python3", "#!/usr/bin/env python3"},
	"node":       {"node", "#!/usr/bin/env node"},
	"perl":       {"perl", "#!/usr/bin/env perl"},
	"ruby":       {"ruby", "#!/usr/bin/env ruby"},
	"powershell": {"pwsh", "#!/usr/bin/env pwsh"},
}

// ValidScriptInterpreter reports whether kind names a supported
// interpreter.
func ValidScriptInterpreter(kind string) bool {
	_, ok := scriptInterpreters[kind]
	return ok
}

// scriptHandler runs an external script under the call deadline. The
// body is written to a fresh file per execution so concurrent calls
// never share state.
type scriptHandler struct {
	def *registry.Definition
	cfg *registry.ScriptConfig
	log logr.Logger
}

func newScriptHandler(def *registry.Definition, log logr.Logger) (registry.Handler, error) {
	cfg := def.Metadata.Script
	if !ValidScriptInterpreter(cfg.Interpreter) {
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown script interpreter %q", cfg.Interpreter)
	}
	if strings.TrimSpace(cfg.Body) == "" {
		return nil, errs.New(errs.KindInvalidArgument, "script body is empty")
	}
	return &scriptHandler{def: def, cfg: cfg, log: log.WithValues("tool", def.Name)}, nil
}

func (h *scriptHandler) Definition() *registry.Definition { return h.def }

func (h *scriptHandler) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	argv, err := stringArgs(args)
	if err != nil {
		return nil, err
	}

	path, cleanup, err := h.writeScript()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	interp := scriptInterpreters[h.cfg.Interpreter]
	cmd := exec.CommandContext(ctx, interp.command, append([]string{path}, argv...)...)
	if h.cfg.WorkDir != "" {
		cmd.Dir = h.cfg.WorkDir
	}
	if len(h.cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range h.cfg.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	// The deadline takes precedence over whatever exit state the killed
	// process reports.
	if ctx.Err() != nil {
		return nil, errs.Wrap(errs.KindTimeout, "script timed out (exit_code -1)", ctx.Err())
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, errs.Wrap(errs.KindUpstreamFailure, "script failed to start", runErr)
		}
	}

	return map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
		"success":   exitCode == 0,
	}, nil
}

// writeScript persists the body to a private executable file with its
// shebang line.
func (h *scriptHandler) writeScript() (string, func(), error) {
	dir, err := os.MkdirTemp("", "sajha-script-")
	if err != nil {
		return "", nil, errs.Wrap(errs.KindInternal, "create script directory", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	interp := scriptInterpreters[h.cfg.Interpreter]
	body := h.cfg.Body
	if !strings.HasPrefix(body, "#!") {
		body = interp.shebang + "\n" + body
	}

	path := filepath.Join(dir, "script")
	if err := os.WriteFile(path, []byte(body), 0o700); err != nil {
		cleanup()
		return "", nil, errs.Wrap(errs.KindInternal, "write script body", err)
	}
	return path, cleanup, nil
}

// stringArgs extracts the script argument vector from the call
// arguments.
func stringArgs(args map[string]any) ([]string, error) {
	raw, ok := args["args"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		if strs, ok := raw.([]string); ok {
			return strs, nil
		}
		return nil, errs.New(errs.KindInvalidArgument, "args must be an array of strings").WithFields("args")
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, errs.New(errs.KindInvalidArgument, "args must be an array of strings").WithFields("args")
		}
		out = append(out, s)
	}
	return out, nil
}
