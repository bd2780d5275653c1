// Package classifier decides whether a log file came from a mobile device
// (ADB/logcat output) or a desktop OS (Windows event and installer logs).
//
// Classification is a pure function of the input text: every call scores the
// text against two indicator sets plus a few pattern bonuses and returns the
// category with the strictly higher score. Ties, including two zero scores,
// resolve to analyzer.CategoryUnknown.
package classifier

import (
	"regexp"
	"strings"

	"github.com/olegiv/logtriage-ai-go/internal/analyzer"
)

// Weights holds the bonus values added on top of the literal indicator count.
// The defaults were chosen empirically and have no formal derivation; they are
// exposed so deployments can tune them without a rebuild.
type Weights struct {
	TimestampBonus int // mobile: logcat timestamp present (MM-dd HH:mm:ss.SSS)
	TagWeight      int // mobile: per level/tag prefix match such as "E/AndroidRuntime"
	PackageBonus   int // mobile: vendor or platform package namespace present
	SectionBonus   int // desktop: both "section start" and "exit status" present
}

// DefaultWeights returns the stock bonus weights.
func DefaultWeights() Weights {
	return Weights{
		TimestampBonus: 10,
		TagWeight:      2,
		PackageBonus:   8,
		SectionBonus:   5,
	}
}

// MobileIndicators are literal substrings that each add one point to the
// mobile score when present.
var MobileIndicators = []string{
	"adb:", "logcat", "ActivityManager", "WindowManager",
	"dalvikvm", "AndroidRuntime", "System.err",
	"I/", "D/", "V/", "W/", "E/",
	"ActivityTaskManager", "CoreBackPreview", "WindowManagerShell",
	"PackageManager", "AppsFilter", "ActivityThread",
	"BackupManagerService", "LauncherAppsService",
	"com.android.", "android.intent", "android.app.",
	"PackageSetting", "ComponentInfo", "TransitionRequestInfo",
}

// DesktopIndicators are literal substrings that each add one point to the
// desktop score when present.
var DesktopIndicators = []string{
	"Event ID", "Source:", "Level:", "Task Category:", "Keywords:",
	"Microsoft-Windows", "Application Error", "System Error",
	"Warning", "Information", "Error", "Critical", "Section start", "Exit status",
	"[Exit status: SUCCESS]", "[Exit status: FAILURE]", "Section start:",
	"Windows", "Driver", "Installation", "Registry", "System32", "Program Files",
	"EventLog", "Service", "Process", "Thread", "Module", "Device Manager",
	"Setup", "Install", "Uninstall", "Update", "Patch",
}

// MobilePackagePrefixes trigger the package bonus once when any is present.
var MobilePackagePrefixes = []string{
	"com.zebra.", "com.android.", "com.google.android.",
}

var (
	logcatTimestampPattern = regexp.MustCompile(`\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}\.\d{3}`)
	logcatTagPattern       = regexp.MustCompile(`[VDIWEF]/\w+`)
)

const (
	sectionStartMarker = "section start"
	exitStatusMarker   = "exit status"
)

// Scores is the breakdown of one classification pass.
type Scores struct {
	Mobile  int `json:"mobile"`
	Desktop int `json:"desktop"`

	MobileIndicatorHits  int  `json:"mobile_indicator_hits"`
	DesktopIndicatorHits int  `json:"desktop_indicator_hits"`
	TimestampMatched     bool `json:"timestamp_matched"`
	TagMatches           int  `json:"tag_matches"`
	PackageMatched       bool `json:"package_matched"`
	SectionMarkers       bool `json:"section_markers"`
}

// Category applies the decision rule to the scores.
func (s Scores) Category() analyzer.Category {
	switch {
	case s.Mobile > s.Desktop:
		return analyzer.CategoryMobile
	case s.Desktop > s.Mobile:
		return analyzer.CategoryDesktop
	default:
		return analyzer.CategoryUnknown
	}
}

// Classifier scores log text. A Classifier is immutable after construction
// and safe for concurrent use.
type Classifier struct {
	weights           Weights
	mobileIndicators  []string
	desktopIndicators []string
	packagePrefixes   []string
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithWeights overrides the bonus weights.
func WithWeights(w Weights) Option {
	return func(c *Classifier) {
		c.weights = w
	}
}

// New creates a Classifier with the default indicator sets and weights,
// modified by opts.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		weights:           DefaultWeights(),
		mobileIndicators:  lowerAll(MobileIndicators),
		desktopIndicators: lowerAll(DesktopIndicators),
		packagePrefixes:   lowerAll(MobilePackagePrefixes),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultClassifier = New()

// Default returns the shared classifier built with the stock settings.
func Default() *Classifier {
	return defaultClassifier
}

// Classify returns the category of text using the default classifier.
func Classify(text string) analyzer.Category {
	return defaultClassifier.Classify(text)
}

// Weights returns the bonus weights in use.
func (c *Classifier) Weights() Weights {
	return c.weights
}

// Classify returns the category of text. Empty or whitespace-only input is
// always unknown.
func (c *Classifier) Classify(text string) analyzer.Category {
	return c.Score(text).Category()
}

// Score computes both category scores for text.
func (c *Classifier) Score(text string) Scores {
	var s Scores
	if strings.TrimSpace(text) == "" {
		return s
	}

	lower := strings.ToLower(text)

	s.MobileIndicatorHits = countPresent(lower, c.mobileIndicators)
	s.DesktopIndicatorHits = countPresent(lower, c.desktopIndicators)
	s.Mobile = s.MobileIndicatorHits
	s.Desktop = s.DesktopIndicatorHits

	// Log-level tags are case-sensitive, so the patterns run on the raw text.
	if logcatTimestampPattern.MatchString(text) {
		s.TimestampMatched = true
		s.Mobile += c.weights.TimestampBonus
	}

	s.TagMatches = len(logcatTagPattern.FindAllStringIndex(text, -1))
	s.Mobile += s.TagMatches * c.weights.TagWeight

	if countPresent(lower, c.packagePrefixes) > 0 {
		s.PackageMatched = true
		s.Mobile += c.weights.PackageBonus
	}

	if strings.Contains(lower, sectionStartMarker) && strings.Contains(lower, exitStatusMarker) {
		s.SectionMarkers = true
		s.Desktop += c.weights.SectionBonus
	}

	return s
}

// countPresent counts how many needles occur at least once in haystack.
func countPresent(haystack string, needles []string) int {
	n := 0
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			n++
		}
	}
	return n
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
