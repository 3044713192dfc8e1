package search

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gaspipe/docvault/pkg/config"
)

// MinQueryLength is the shortest sanitized query, in runes, that is searched
const MinQueryLength = 2

// Config tunes the engine
type Config struct {
	Language            string
	SimilarityThreshold float64
	DefaultLimit        int
	MaxLimit            int
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Language:            config.SearchIndexLanguage,
		SimilarityThreshold: 0.3,
		DefaultLimit:        20,
		MaxLimit:            100,
	}
}

// ConfigFrom maps the service configuration onto the engine
func ConfigFrom(c config.SearchConfig) Config {
	cfg := DefaultConfig()
	if c.Language != "" {
		cfg.Language = c.Language
	}
	if c.SimilarityThreshold > 0 {
		cfg.SimilarityThreshold = c.SimilarityThreshold
	}
	if c.DefaultLimit > 0 {
		cfg.DefaultLimit = c.DefaultLimit
	}
	if c.MaxLimit > 0 {
		cfg.MaxLimit = c.MaxLimit
	}
	return cfg
}

// Request is a search for one user
type Request struct {
	Query      string
	UserID     int64
	CategoryID *int64
	ObjectID   *int64
	// The date facet applies only when both bounds are set. Both are inclusive.
	DateFrom *time.Time
	DateTo   *time.Time
	Tags     []string
	Limit    int
	Offset   int
}

// Result is one matching document
type Result struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	FileName   string    `json:"file_name"`
	CategoryID int64     `json:"category_id"`
	UmgID      int64     `json:"umg_id"`
	ObjectID   *int64    `json:"object_id,omitempty"`
	Version    int       `json:"version"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Rank       float64   `json:"rank"`
	Excerpt    string    `json:"excerpt"`
}

// Response is a page of results
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

var stripper = strings.NewReplacer(
	"!", "", "@", "", "#", "", "$", "", "%", "", "^", "", "&", "", "*", "",
	"(", "", ")", "", "+", "", "=", "", "[", "", "]", "", "{", "", "}", "",
	";", "", "'", "", `"`, "", `\`, "", "|", "", ",", "", ".", "", "<", "",
	">", "", "?", "",
)

// Sanitize strips tsquery and LIKE metacharacters and collapses whitespace
func Sanitize(q string) string {
	return strings.Join(strings.Fields(stripper.Replace(q)), " ")
}

// searchable reports whether a sanitized query is long enough to run
func searchable(q string) bool {
	return utf8.RuneCountInString(q) >= MinQueryLength
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// escapeLike protects the LIKE wildcard that Sanitize leaves in place
func escapeLike(q string) string {
	return strings.ReplaceAll(q, "_", `\_`)
}
