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

package mcp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajhalabs/sajha/internal/errs"
)

func writePrompt(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestPromptStoreLoad(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "summarize.json", `{
		"name": "summarize",
		"description": "summarize a report",
		"template": "Summarize the following: {{body}}",
		"arguments": [{"name": "body", "required": true}]
	}`)
	writePrompt(t, dir, "broken.json", `{not json`)
	writePrompt(t, dir, "nameless.json", `{"template": "orphan"}`)
	writePrompt(t, dir, "notes.txt", `ignored`)

	store := NewPromptStore(dir, logr.Discard())
	require.NoError(t, store.Load())

	prompts := store.List()
	require.Len(t, prompts, 1)
	assert.Equal(t, "summarize", prompts[0].Name)
}

func TestPromptStoreLoadMissingDir(t *testing.T) {
	store := NewPromptStore(filepath.Join(t.TempDir(), "absent"), logr.Discard())
	require.NoError(t, store.Load())
	assert.Empty(t, store.List())
}

func TestPromptStoreReloadReplaces(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "a.json", `{"name": "a", "template": "first"}`)

	store := NewPromptStore(dir, logr.Discard())
	require.NoError(t, store.Load())
	require.Len(t, store.List(), 1)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.json")))
	writePrompt(t, dir, "b.json", `{"name": "b", "template": "second"}`)
	require.NoError(t, store.Load())

	prompts := store.List()
	require.Len(t, prompts, 1)
	assert.Equal(t, "b", prompts[0].Name)
}

func TestPromptRender(t *testing.T) {
	store := NewPromptStore("", logr.Discard())
	store.Add(&Prompt{
		Name:     "intro",
		Template: "Analyze {{dataset}} for {{audience}}.",
		Arguments: []PromptArgument{
			{Name: "dataset", Required: true},
			{Name: "audience"},
		},
	})

	text, err := store.Render("intro", map[string]string{
		"dataset":  "sales",
		"audience": "finance",
	})
	require.NoError(t, err)
	assert.Equal(t, "Analyze sales for finance.", text)

	// Optional placeholders render empty when omitted.
	text, err = store.Render("intro", map[string]string{"dataset": "sales"})
	require.NoError(t, err)
	assert.Equal(t, "Analyze sales for .", text)
}

func TestPromptRenderMissingRequired(t *testing.T) {
	store := NewPromptStore("", logr.Discard())
	store.Add(&Prompt{
		Name:     "intro",
		Template: "Analyze {{dataset}}.",
		Arguments: []PromptArgument{
			{Name: "dataset", Required: true},
		},
	})

	_, err := store.Render("intro", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	assert.Contains(t, err.Error(), "dataset")
}

func TestPromptGetUnknown(t *testing.T) {
	store := NewPromptStore("", logr.Discard())
	_, err := store.Get("nope")
	require.Error(t, err)
	assert.Equal(t, errs.KindToolNotFound, errs.KindOf(err))
}
