// Package intent classifies user text into a reply strategy. Classification
// is a pure function over the text and the session's dataset state: an
// ordered rule table of regex predicates where the first matching rule whose
// requirement holds wins.
package intent

import "regexp"

// Strategy is the chosen reply-generation path for a single message.
type Strategy string

const (
	GenerateImage Strategy = "generate_image"
	MetricPlot    Strategy = "metric_plot"
	Stats         Strategy = "stats"
	PlayVideo     Strategy = "play_video"
	ClientTools   Strategy = "client_tools"
	CodeExecution Strategy = "code_execution"
	Plain         Strategy = "plain"
)

// State describes what data the session currently has loaded. At most one of
// the two is true at a time; a new upload replaces the previous context.
type State struct {
	HasCSV  bool
	HasJSON bool
}

// HasDataset reports whether any tabular context is loaded.
func (s State) HasDataset() bool { return s.HasCSV || s.HasJSON }

// Rule is one entry of the classification table. Requires may be nil, meaning
// the rule applies regardless of dataset state; a rule whose requirement
// fails is skipped, letting later rules match instead.
type Rule struct {
	Strategy Strategy
	Pattern  *regexp.Regexp
	Requires func(State) bool
}

// DefaultRules returns the built-in rule table. Order is the declared
// priority: image generation first, then chart/stat/video intents, then
// explicit code requests; generic analysis vocabulary falls through to code
// execution only when no datasets are loaded locally. The exact keyword
// boundaries are deliberately a data table rather than logic so deployments
// can tune them.
func DefaultRules() []Rule {
	requiresJSON := func(s State) bool { return s.HasJSON }
	requiresDataset := func(s State) bool { return s.HasDataset() }
	requiresNoDataset := func(s State) bool { return !s.HasDataset() }

	return []Rule{
		{
			Strategy: GenerateImage,
			Pattern:  regexp.MustCompile(`(?i)\b(generate|create|draw|make|design)\b.*\b(image|picture|photo|logo|illustration|drawing)\b`),
		},
		{
			Strategy: MetricPlot,
			Pattern:  regexp.MustCompile(`(?i)\b(plot|chart|graph|visuali[sz]e)\b.*\b(views?|likes?|comments?|engagement|subscribers?|over time|vs\.?|versus|time)\b`),
		},
		{
			Strategy: Stats,
			Pattern:  regexp.MustCompile(`(?i)\b(stats?|statistics|summar(y|ize|ise)|describe|average|mean|median|std|deviation|engagement\s+ratio|most\s+(viewed|liked)|top\s+\d*\s*videos?)\b`),
			Requires: requiresJSON,
		},
		{
			Strategy: PlayVideo,
			Pattern:  regexp.MustCompile(`(?i)\b(play|watch|open|show\s+me)\b.*\bvideos?\b`),
			Requires: requiresJSON,
		},
		{
			// Explicit code vocabulary always routes to execution, with or
			// without a dataset loaded; only the dataset carries the data.
			Strategy: CodeExecution,
			Pattern:  regexp.MustCompile(`(?i)\b(python|pandas|numpy|matplotlib|regress(ion)?|histogram|scatter|code|script)\b`),
		},
		{
			Strategy: ClientTools,
			Pattern:  regexp.MustCompile(`(?i)\b(calculate|compute|count|average|mean|median|std|deviation|min|max|rank|top|bottom|ratio|frequen(cy|t)|distribution|column|correlat)\b`),
			Requires: requiresDataset,
		},
		{
			// Generic analysis vocabulary with nothing loaded locally.
			Strategy: CodeExecution,
			Pattern:  regexp.MustCompile(`(?i)\b(run|average|mean|median|std|plot|analy[sz]e|aggregate)\b`),
			Requires: requiresNoDataset,
		},
	}
}

// Classifier applies an ordered rule table. The zero value is not usable;
// construct with New.
type Classifier struct {
	rules []Rule
}

// New builds a classifier. With no rules the default table is used.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify returns the strategy for text given the session's dataset state.
// First match wins; text matching nothing falls back to plain chat.
func (c *Classifier) Classify(text string, st State) Strategy {
	for _, rule := range c.rules {
		if rule.Requires != nil && !rule.Requires(st) {
			continue
		}
		if rule.Pattern.MatchString(text) {
			return rule.Strategy
		}
	}
	return Plain
}
