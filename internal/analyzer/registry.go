package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Category identifies the detected origin of a log file.
type Category string

// Supported log categories. Unknown is both the initial default and the
// outcome of a tied classification.
const (
	CategoryMobile  Category = "mobile"
	CategoryDesktop Category = "desktop"
	CategoryUnknown Category = "unknown"
)

// String returns the category identifier.
func (c Category) String() string {
	return string(c)
}

// DisplayName returns a human-readable label for reports and the web UI.
func (c Category) DisplayName() string {
	switch c {
	case CategoryMobile:
		return "Mobile device (ADB) log"
	case CategoryDesktop:
		return "Desktop OS (Windows) log"
	default:
		return "Unknown log type"
	}
}

// LogSource bundles all components needed to analyze one log category.
type LogSource struct {
	Category      Category
	Preprocessor  Preprocessor
	PromptBuilder PromptBuilder
}

// Registry holds all registered log sources.
// It provides thread-safe access to log source configurations.
type Registry struct {
	mu      sync.RWMutex
	sources map[Category]*LogSource
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[Category]*LogSource),
	}
}

// Register adds a log source to the registry.
// If a source with the same category already exists, it will be overwritten.
func (r *Registry) Register(source *LogSource) error {
	if source == nil {
		return fmt.Errorf("cannot register nil log source")
	}
	if source.Category == "" {
		return fmt.Errorf("log source category cannot be empty")
	}
	if source.Preprocessor == nil {
		return fmt.Errorf("log source preprocessor cannot be nil")
	}
	if source.PromptBuilder == nil {
		return fmt.Errorf("log source prompt builder cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources[source.Category] = source
	return nil
}

// Get retrieves a log source by category.
// Returns nil and false if the category is not registered.
func (r *Registry) Get(category Category) (*LogSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	source, ok := r.sources[category]
	return source, ok
}

// MustGet retrieves a log source by category or panics if not found.
// Use this only when you're certain the category is registered.
func (r *Registry) MustGet(category Category) *LogSource {
	source, ok := r.Get(category)
	if !ok {
		panic(fmt.Sprintf("log category %q not registered", category))
	}
	return source
}

// List returns all registered categories in sorted order.
func (r *Registry) List() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	categories := make([]Category, 0, len(r.sources))
	for c := range r.sources {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	return categories
}

// Has checks if a category is registered.
func (r *Registry) Has(category Category) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sources[category]
	return ok
}

// ValidCategories returns a list of valid category strings.
// Useful for request and flag validation.
func ValidCategories() []string {
	return []string{
		string(CategoryMobile),
		string(CategoryDesktop),
		string(CategoryUnknown),
	}
}

// ParseCategory converts a string to Category. It accepts the category
// names case-insensitively plus the "adb" and "windows" aliases.
// Returns an error if the string is not a valid category.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(CategoryMobile), "adb", "android":
		return CategoryMobile, nil
	case string(CategoryDesktop), "windows":
		return CategoryDesktop, nil
	case string(CategoryUnknown):
		return CategoryUnknown, nil
	default:
		return "", fmt.Errorf("invalid log category: %q (valid categories: %v)", s, ValidCategories())
	}
}
