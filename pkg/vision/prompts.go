package vision

import (
	"embed"
	"fmt"
	"strings"
)

const (
	promptSystem   = "system"
	promptPrimary  = "primary"
	promptFallback = "fallback"
)

//go:embed templates/*.md
var templatesFS embed.FS

// Prompts holds the instructions sent with every request. Primary asks for the structured
// critique; Fallback is the short variant used once the primary prompt came back empty.
type Prompts struct {
	System   string
	Primary  string
	Fallback string
}

// LoadPrompts reads the embedded prompt templates.
func LoadPrompts() (Prompts, error) {
	var prompts Prompts
	for name, target := range map[string]*string{
		promptSystem:   &prompts.System,
		promptPrimary:  &prompts.Primary,
		promptFallback: &prompts.Fallback,
	} {
		content, err := loadTemplate(name)
		if err != nil {
			return Prompts{}, err
		}
		*target = content
	}

	return prompts, nil
}

func loadTemplate(name string) (string, error) {
	content, err := templatesFS.ReadFile(templatePath(name))
	if err != nil {
		return "", fmt.Errorf("load %s prompt template: %w", name, err)
	}

	prompt := strings.TrimSpace(string(content))
	if prompt == "" {
		return "", fmt.Errorf("prompt template %q is empty", name)
	}

	return prompt, nil
}

func templatePath(name string) string {
	return "templates/" + strings.TrimSpace(name) + ".md"
}
