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
	"context"
	"runtime"
	"time"

	"github.com/sajhalabs/sajha/internal/errs"
	"github.com/sajhalabs/sajha/internal/registry"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var processStart = time.Now()

// nativeHandler dispatches to a built-in Go function by implementation name.
type nativeHandler struct {
	def *registry.Definition
	fn  func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func newNativeHandler(def *registry.Definition) (registry.Handler, error) {
	fn, ok := nativeImpls[def.Implementation]
	if !ok {
		return nil, errs.Newf(errs.KindInvalidArgument, "unknown native implementation %q", def.Implementation)
	}
	return &nativeHandler{def: def, fn: fn}, nil
}

func (h *nativeHandler) Definition() *registry.Definition { return h.def }

func (h *nativeHandler) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	return h.fn(ctx, args)
}

var nativeImpls = map[string]func(ctx context.Context, args map[string]any) (map[string]any, error){
	"echo":        nativeEcho,
	"server_info": nativeServerInfo,
}

func nativeEcho(_ context.Context, args map[string]any) (map[string]any, error) {
	text, _ := args["text"].(string)
	return map[string]any{"text": text}, nil
}

func nativeServerInfo(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"version":        Version,
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": int64(time.Since(processStart).Seconds()),
	}, nil
}
