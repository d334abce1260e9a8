package grammar

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zjrosen/tmscope/internal/log"
)

// InitialRule returns the root rule, compiling it on first use.
func (g *Grammar) InitialRule() Rule { return g.initialRule() }

// Repository returns every named rule, compiling them on first use.
func (g *Grammar) Repository() map[string]Rule {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.compileRepository()
	out := make(map[string]Rule, len(g.repository))
	for name, r := range g.repository {
		out[name] = r
	}
	return out
}

func (g *Grammar) initialRule() *rule {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.root == nil {
		g.root = g.compileRule(g.config.ScopeName, "", g.config.Patterns, "patterns")
		g.root.name = "$self"
	}
	return g.root
}

func (g *Grammar) repositoryRule(name string) *rule {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.compileRepository()
	return g.repository[name]
}

// compileRepository must be called with mu held. An entry written as a
// single match, region or include is wrapped into a one-element pattern list
// so every entry compiles to the same kind of rule.
func (g *Grammar) compileRepository() {
	if g.repository != nil {
		return
	}
	names := make([]string, 0, len(g.config.Repository))
	for name := range g.config.Repository {
		names = append(names, name)
	}
	sort.Strings(names)

	repo := make(map[string]*rule, len(names))
	for _, name := range names {
		entry := g.config.Repository[name]
		path := "repository." + name
		var r *rule
		if entry.Match != "" || entry.Begin != "" || entry.Include != "" {
			r = g.compileRule("", "", []PatternConfig{entry}, path)
		} else {
			r = g.compileRule(entry.Name, entry.ContentName, entry.Patterns, path)
		}
		r.name = name
		repo[name] = r
	}
	g.repository = repo
}

func (g *Grammar) compileRule(scopeName, contentScopeName string, patterns []PatternConfig, path string) *rule {
	return &rule{
		id:               nextRuleID(),
		grammar:          g,
		scopeName:        scopeName,
		contentScopeName: contentScopeName,
		patterns:         g.compilePatterns(patterns, path),
	}
}

func (g *Grammar) compilePatterns(patterns []PatternConfig, path string) []*pattern {
	out := make([]*pattern, 0, len(patterns))
	for i, pc := range patterns {
		if p := g.compilePattern(pc, fmt.Sprintf("%s[%d]", path, i)); p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (g *Grammar) compilePattern(pc PatternConfig, path string) *pattern {
	if pc.Disabled {
		return nil
	}
	p := &pattern{grammar: g, name: pc.Name, contentName: pc.ContentName}

	switch {
	case pc.Include != "":
		p.kind = includePattern
		p.include = pc.Include
		if !strings.HasPrefix(pc.Include, "#") && !strings.HasPrefix(pc.Include, "$") {
			scopeName, _, _ := strings.Cut(pc.Include, "#")
			g.addIncludedGrammarScope(scopeName)
		}

	case pc.Match != "":
		p.kind = matchPattern
		p.re = g.compileSource(pc.Match, path+".match")
		p.captures = g.compileCaptures(pc.Captures, path)

	case pc.Begin != "" && pc.End != "":
		p.kind = beginPattern
		p.re = g.compileSource(pc.Begin, path+".begin")
		p.captures = g.compileCaptures(orCaptures(pc.BeginCaptures, pc.Captures), path)
		end := &pattern{
			grammar:  g,
			kind:     endPattern,
			re:       g.compileSource(pc.End, path+".end"),
			captures: g.compileCaptures(orCaptures(pc.EndCaptures, pc.Captures), path),
		}
		if end.re == nil {
			// A region that can never close would swallow the rest of the
			// document.
			p.re = nil
		}
		p.push = g.compileRule(pc.Name, pc.ContentName, pc.Patterns, path+".patterns")
		p.push.end = end
		p.push.applyEndPatternLast = bool(pc.ApplyEndPatternLast)

	case pc.Begin != "":
		log.Debug(log.CatGrammar, "while rule matched as begin only", "grammar", g.config.ScopeName, "path", path)
		p.kind = matchPattern
		p.re = g.compileSource(pc.Begin, path+".begin")
		p.captures = g.compileCaptures(orCaptures(pc.BeginCaptures, pc.Captures), path)

	case len(pc.Patterns) > 0:
		p.kind = groupPattern
		p.group = g.compileRule("", "", pc.Patterns, path+".patterns")

	default:
		return nil
	}
	return p
}

func (g *Grammar) compileSource(source, path string) *regex {
	re, err := compileRegex(source)
	if err != nil {
		log.ErrorErr(log.CatGrammar, "pattern disabled", err, "grammar", g.config.ScopeName, "path", path, "pattern", source)
		return nil
	}
	return re
}

func (g *Grammar) compileCaptures(captures Captures, path string) map[int]captureRule {
	if len(captures) == 0 {
		return nil
	}
	out := make(map[int]captureRule, len(captures))
	for n, c := range captures {
		cr := captureRule{name: c.Name}
		if len(c.Patterns) > 0 {
			cr.rule = g.compileRule("", "", c.Patterns, fmt.Sprintf("%s.captures.%d", path, n))
		}
		out[n] = cr
	}
	return out
}

func orCaptures(preferred, fallback Captures) Captures {
	if len(preferred) > 0 {
		return preferred
	}
	return fallback
}

// expand flattens the patterns of r for stacks based on g: includes are
// replaced by the patterns of the rules they name. Each rule is expanded at
// most once, which also stops include cycles. Results are memoized until
// ClearRules.
func (g *Grammar) expand(r *rule) []*pattern {
	g.expandMu.Lock()
	if ps, ok := g.expanded[r.id]; ok {
		g.expandMu.Unlock()
		return ps
	}
	g.expandMu.Unlock()

	ps := g.collect(r, make(map[int64]struct{}))

	g.expandMu.Lock()
	if g.expanded == nil {
		g.expanded = make(map[int64][]*pattern)
	}
	g.expanded[r.id] = ps
	g.expandMu.Unlock()
	return ps
}

func (g *Grammar) collect(r *rule, seen map[int64]struct{}) []*pattern {
	if r == nil {
		return nil
	}
	if _, ok := seen[r.id]; ok {
		return nil
	}
	seen[r.id] = struct{}{}

	var out []*pattern
	for _, p := range r.patterns {
		switch p.kind {
		case includePattern:
			out = append(out, g.collect(p.resolveInclude(g), seen)...)
		case groupPattern:
			out = append(out, g.collect(p.group, seen)...)
		default:
			if p.re != nil {
				out = append(out, p)
			}
		}
	}
	return out
}
