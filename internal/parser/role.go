package parser

import "strings"

// roleRule pairs a set of substrings with the role they imply. Order
// matters: the first matching rule wins.
type roleRule struct {
	needles []string
	role    string
}

var roleRules = []roleRule{
	{needles: []string{"lead"}, role: "lead"},
	{needles: []string{"research", "explore", "architect"}, role: "researcher"},
	{needles: []string{"test", "validat"}, role: "tester"},
	{needles: []string{"plan", "design", "artist", "scribe"}, role: "planner"},
}

// InferRole derives an agent's role from its agent type and display name,
// lowercasing both and testing substring membership against a fixed,
// ordered rule list. Falls back to "implementer".
func InferRole(agentType, name string) string {
	haystack := strings.ToLower(agentType) + " " + strings.ToLower(name)
	for _, rule := range roleRules {
		for _, needle := range rule.needles {
			if strings.Contains(haystack, needle) {
				return rule.role
			}
		}
	}
	return "implementer"
}
