// Package element models the accessibility-tree node shape shared by the
// wire protocol, the driver abstraction, and the executor.
package element

// Frame is the {x, y, width, height} rectangle of a UI element in screen
// points.
type Frame struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// UIElement is a node in an accessibility tree, as parsed from the agent's
// JSON-encoded tree dumps.
type UIElement struct {
	Identifier *string     `json:"AXUniqueId,omitempty"`
	Label      *string     `json:"AXLabel,omitempty"`
	Value      *string     `json:"AXValue,omitempty"`
	Type       *string     `json:"type,omitempty"`
	Frame      *Frame      `json:"frame,omitempty"`
	Children   []UIElement `json:"children,omitempty"`
}

// Actionable reports whether the element has an identifier or label.
func (e UIElement) Actionable() bool {
	return nonEmpty(e.Identifier) || nonEmpty(e.Label)
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

// ListElements flattens a tree into pre-order actionable elements: every
// node whose identifier or label is present.
func ListElements(roots []UIElement) []UIElement {
	var out []UIElement
	var walk func([]UIElement)
	walk = func(nodes []UIElement) {
		for _, n := range nodes {
			if n.Actionable() {
				out = append(out, n)
			}
			walk(n.Children)
		}
	}
	walk(roots)
	return out
}

// FindElement performs a depth-first, pre-order search for the first
// element whose identifier (or label, when byLabel is set) matches the
// glob pattern, optionally constrained to elements of the given type.
func FindElement(roots []UIElement, pattern string, byLabel bool, elementType *string) *UIElement {
	var found *UIElement
	var walk func([]UIElement) bool
	walk = func(nodes []UIElement) bool {
		for i := range nodes {
			n := &nodes[i]
			if elementType == nil || (n.Type != nil && *n.Type == *elementType) {
				var candidate string
				var has bool
				if byLabel {
					has = nonEmpty(n.Label)
					if has {
						candidate = *n.Label
					}
				} else {
					has = nonEmpty(n.Identifier)
					if has {
						candidate = *n.Identifier
					}
				}
				if has && Match(pattern, candidate) {
					found = n
					return true
				}
			}
			if walk(n.Children) {
				return true
			}
		}
		return false
	}
	walk(roots)
	return found
}

// Match implements the restricted glob language supported by selectors:
// '*' matches zero or more characters, '?' matches exactly one character,
// any other pattern is compared by equality.
//
// Matching is a dynamic-programming table over pattern and text indices:
// dp[i][j] is true iff pattern[:i] matches text[:j]. A leading run of '*'
// can absorb empty text; '*' matches zero characters (dp[i-1][j]) or one
// more (dp[i][j-1]); '?' and literal characters advance both indices.
func Match(pattern, text string) bool {
	hasWildcard := false
	for _, r := range pattern {
		if r == '*' || r == '?' {
			hasWildcard = true
			break
		}
	}
	if !hasWildcard {
		return pattern == text
	}

	p := []rune(pattern)
	t := []rune(text)
	dp := make([][]bool, len(p)+1)
	for i := range dp {
		dp[i] = make([]bool, len(t)+1)
	}
	dp[0][0] = true
	for i := 1; i <= len(p); i++ {
		if p[i-1] == '*' {
			dp[i][0] = dp[i-1][0]
		}
	}
	for i := 1; i <= len(p); i++ {
		for j := 1; j <= len(t); j++ {
			switch p[i-1] {
			case '*':
				dp[i][j] = dp[i-1][j] || dp[i][j-1]
			case '?':
				dp[i][j] = dp[i-1][j-1]
			default:
				dp[i][j] = dp[i-1][j-1] && p[i-1] == t[j-1]
			}
		}
	}
	return dp[len(p)][len(t)]
}
