package mockagent

import (
	"context"
	"fmt"
	"net/url"

	"github.com/open-policy-agent/opa/rego"
)

// Preview decisions.
const (
	decisionAllow = "allow"
	decisionBlock = "block"
)

// DefaultPreviewPolicy blocks non-HTTP links and the scenario's fail hosts.
const DefaultPreviewPolicy = `
package preview_policy

default decision = "allow"

decision = "block" {
	not startswith(input.url, "http://")
	not startswith(input.url, "https://")
}

decision = "block" {
	input.host == input.blocked_hosts[_]
}
`

// previewPolicy decides whether the mock server will preview a link.
type previewPolicy struct {
	query rego.PreparedEvalQuery
}

func newPreviewPolicy(ctx context.Context, module string) (*previewPolicy, error) {
	if module == "" {
		module = DefaultPreviewPolicy
	}
	r := rego.New(
		rego.Query("data.preview_policy.decision"),
		rego.Module("preview_policy.rego", module),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &previewPolicy{query: query}, nil
}

// evaluate returns the decision for link; a policy that yields nothing allows.
func (p *previewPolicy) evaluate(ctx context.Context, link string, blocked []string, userID any) (string, error) {
	host := ""
	if u, err := url.Parse(link); err == nil {
		host = u.Hostname()
	}
	if blocked == nil {
		blocked = []string{}
	}

	results, err := p.query.Eval(ctx, rego.EvalInput(map[string]any{
		"url":           link,
		"host":          host,
		"blocked_hosts": blocked,
		"user_id":       userID,
	}))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decisionAllow, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return decisionAllow, nil
}
