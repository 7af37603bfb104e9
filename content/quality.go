package content

import "github.com/caffeineduck/gorex/extract"

// QualityScore rates an extraction from 0 to 100. A page with a title and any
// text always scores above zero.
func QualityScore(c *extract.Content) int {
	score := 0

	switch n := len(c.Title); {
	case n > 10 && n < 150:
		score += 20
	case n > 0:
		score += 10
	}

	switch n := len(c.Text); {
	case n > 2000:
		score += 30
	case n > 500:
		score += 20
	case n > 0:
		score += 5
	}

	switch {
	case c.WordCount > 500:
		score += 15
	case c.WordCount > 100:
		score += 10
	}

	if c.Byline != "" {
		score += 10
	}
	if c.PublishedISO != "" {
		score += 10
	}

	switch n := len(c.Links); {
	case n > 10:
		score += 10
	case n > 5:
		score += 5
	}
	switch n := len(c.Media); {
	case n > 5:
		score += 10
	case n > 0:
		score += 5
	}
	if c.Language != "" {
		score += 5
	}
	if len(c.Categories) > 0 {
		score += 5
	}

	return min(score, 100)
}
