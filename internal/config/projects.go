package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// projectKeyPattern matches Jira project keys (e.g. "ATSP", "EVT", "ZSB_2").
var projectKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]+$`)

// Project describes one Jira project the tool is enabled for.
type Project struct {
	Name           string   `json:"name"`             // Human-readable project name for reports
	VectorStoreIDs []string `json:"vector_store_ids"` // Source-code context stores for this project
}

// ProjectsConfig represents the projects.json file
type ProjectsConfig struct {
	Version        string             `json:"version"`         // Config file version
	DefaultProject string             `json:"default_project"` // Project used when none is selected
	Projects       map[string]Project `json:"projects"`        // Keyed by Jira project key
}

// IsValidProjectKey reports whether key looks like a Jira project key.
func IsValidProjectKey(key string) bool {
	return projectKeyPattern.MatchString(key)
}

// Validate checks the configuration for errors
func (c *ProjectsConfig) Validate() error {
	if len(c.Projects) == 0 {
		return fmt.Errorf("no projects defined in configuration")
	}

	if c.DefaultProject != "" {
		if _, exists := c.Projects[c.DefaultProject]; !exists {
			return fmt.Errorf("default_project '%s' does not exist in projects", c.DefaultProject)
		}
	}

	for key, project := range c.Projects {
		if !IsValidProjectKey(key) {
			return fmt.Errorf("project '%s': key must match %s", key, projectKeyPattern.String())
		}
		for i, id := range project.VectorStoreIDs {
			if id == "" {
				return fmt.Errorf("project '%s': vector_store_ids[%d] is empty", key, i)
			}
		}
	}

	return nil
}

// IsSupported reports whether the project key is configured.
func (c *ProjectsConfig) IsSupported(key string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Projects[key]
	return ok
}

// GetProject returns a project by key, falling back to default_project if key is empty
func (c *ProjectsConfig) GetProject(key string) (*Project, error) {
	if key == "" {
		if c.DefaultProject == "" {
			return nil, fmt.Errorf("no project key specified and no default_project configured")
		}
		key = c.DefaultProject
	}

	project, exists := c.Projects[key]
	if !exists {
		return nil, fmt.Errorf("project '%s' not found (available: %v)", key, c.ListProjects())
	}

	return &project, nil
}

// VectorStoreIDs returns the context store IDs for a project, or nil.
func (c *ProjectsConfig) VectorStoreIDs(key string) []string {
	if c == nil {
		return nil
	}
	return c.Projects[key].VectorStoreIDs
}

// DisplayName returns the configured name, or the key when none is set.
func (c *ProjectsConfig) DisplayName(key string) string {
	if c != nil {
		if p, ok := c.Projects[key]; ok && p.Name != "" {
			return p.Name
		}
	}
	return key
}

// ListProjects returns all project keys in sorted order
func (c *ProjectsConfig) ListProjects() []string {
	keys := make([]string, 0, len(c.Projects))
	for key := range c.Projects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// LoadProjectsConfig loads and parses the projects.json file.
// If configPath is empty, it searches standard locations.
// Returns nil, "", nil if no file is found; every project is then allowed.
func LoadProjectsConfig(configPath string) (*ProjectsConfig, string, error) {
	var searchPaths []string

	if configPath != "" {
		searchPaths = append(searchPaths, configPath)
	} else {
		searchPaths = append(searchPaths,
			"./projects.json",
			"./configs/projects.json",
			"/opt/logtriage-ai/projects.json",
		)

		if home := os.Getenv("HOME"); home != "" {
			searchPaths = append(searchPaths,
				filepath.Join(home, ".config", "logtriage-ai", "projects.json"),
			)
		}
	}

	for _, path := range searchPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
		}

		var config ProjectsConfig
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, "", fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if err := config.Validate(); err != nil {
			return nil, "", fmt.Errorf("invalid config in %s: %w", path, err)
		}

		return &config, path, nil
	}

	if configPath != "" {
		return nil, "", fmt.Errorf("projects config not found: %s", configPath)
	}

	return nil, "", nil
}
