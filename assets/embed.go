// Package assets embeds the default system prompt, the agent card and the
// landing page.
package assets

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
)

//go:embed system_prompt.md card.yaml
var files embed.FS

//go:embed all:static
var staticFS embed.FS

// DefaultSystemPrompt returns the embedded role prompt.
func DefaultSystemPrompt() string {
	data, err := files.ReadFile("system_prompt.md")
	if err != nil {
		panic("assets: missing embedded system prompt: " + err.Error())
	}
	return strings.TrimSpace(string(data))
}

// LoadSystemPrompt reads path, or returns the embedded prompt when path is empty.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("system prompt %s is empty", path)
	}
	return prompt, nil
}

// LoadCard returns the agent card YAML at path, or the embedded one when
// path is empty.
func LoadCard(path string) ([]byte, error) {
	if path == "" {
		return files.ReadFile("card.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent card: %w", err)
	}
	return data, nil
}

// StaticHandler serves the embedded landing page.
func StaticHandler() http.Handler {
	subFS, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("assets: failed to create sub filesystem: " + err.Error())
	}
	return http.FileServer(http.FS(subFS))
}
