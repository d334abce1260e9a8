package grammar

// ScopesFromStack lists the scope names open at the top of stack, outermost
// first. When endPatternMatched is set and rule is the top rule, the top
// entry's content scope is left out: content scopes cover only the text
// between a region's delimiters, not the end delimiter itself.
func ScopesFromStack(stack *Stack, rule Rule, endPatternMatched bool) []string {
	if stack == nil {
		return nil
	}
	scopes := make([]string, 0, stack.Len()*2)
	for _, e := range stack.entries {
		if e.ScopeName != "" {
			scopes = append(scopes, e.ScopeName)
		}
		if e.ContentScopeName != "" {
			scopes = append(scopes, e.ContentScopeName)
		}
	}

	if endPatternMatched && rule != nil && stack.Len() > 0 {
		top := stack.Top()
		if top.ContentScopeName != "" && top.Rule != nil && top.Rule.ID() == rule.ID() {
			scopes = scopes[:len(scopes)-1]
		}
	}
	return scopes
}
