package engine

import (
	"context"
	"fmt"
)

// maxListPages bounds pagination against a provider that never stops
// returning tokens.
const maxListPages = 1000

// FindOne returns the single resource tagged with filter's (deployment,
// component) pair, or nil when there is none. Every page is read before
// deciding. More than one match is a fatal AMBIGUOUS_RESOURCE error listing
// all of them; the engine never picks one.
func FindOne(ctx context.Context, kind string, lister Lister, filter TagFilter) (*ObservedResource, error) {
	matches, err := ListAll(ctx, lister, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s resources for %s: %w", kind, filter, err)
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	return nil, NewFatalError(fmt.Sprintf("found %d resources tagged for one component", len(matches)), nil).
		WithCode(ErrCodeAmbiguousResource).
		WithKind(kind).
		WithResource(filter.String()).
		WithDetail("matches", ids).
		WithRemediation("delete the duplicate resources in the provider console, then retry")
}

// ListAll pages through lister to exhaustion and keeps the resources whose
// tags match filter.
func ListAll(ctx context.Context, lister Lister, filter TagFilter) ([]ObservedResource, error) {
	var (
		matches []ObservedResource
		token   string
	)
	for page := 0; ; page++ {
		if page >= maxListPages {
			return nil, NewPermanentError("listing did not terminate", nil).
				WithCode(ErrCodeProviderFailed).
				WithDetail("pages", page)
		}

		p, err := lister.List(ctx, filter, token)
		if err != nil {
			return nil, err
		}
		for _, r := range p.Resources {
			if filter.Matches(r.Tags) {
				matches = append(matches, r)
			}
		}

		if p.NextToken == "" {
			return matches, nil
		}
		token = p.NextToken
	}
}
