package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/blackwell-systems/deploygate/internal/deploy"
	"github.com/blackwell-systems/deploygate/internal/provider"
)

// builtinCollectionPrefix identifies platform-reserved collections such as
// SMS00001 (All Systems). There is no flag or override that lifts this
// rule.
const builtinCollectionPrefix = "SMS000"

// IsBuiltinCollection reports whether id belongs to a built-in system
// collection. Matching is case-insensitive.
func IsBuiltinCollection(id string) bool {
	id = strings.TrimSpace(id)
	return len(id) >= len(builtinCollectionPrefix) &&
		strings.EqualFold(id[:len(builtinCollectionPrefix)], builtinCollectionPrefix)
}

// EvaluateCollectionSafe judges a resolved collection as a deployment
// target.
func EvaluateCollectionSafe(c *deploy.Collection) deploy.SafetyVerdict {
	if c == nil {
		return deploy.SafetyVerdict{Reason: "collection not resolved"}
	}
	if IsBuiltinCollection(c.ID) {
		return deploy.SafetyVerdict{
			Reason: fmt.Sprintf("collection ID %s is a built-in system collection (%s*) and can never be a deployment target",
				c.ID, builtinCollectionPrefix),
		}
	}
	return deploy.SafetyVerdict{
		IsSafe: true,
		Reason: fmt.Sprintf("collection ID %s is not a built-in system collection", c.ID),
	}
}

// HasDuplicate reports whether deployableName is already deployed to
// collectionName.
func HasDuplicate(ctx context.Context, svc provider.Service, deployableName, collectionName string) (bool, error) {
	dup, _, err := countExisting(ctx, provider.NewResolver(svc, nil), deployableName, collectionName)
	return dup, err
}

func countExisting(ctx context.Context, r *provider.Resolver, deployableName, collectionName string) (bool, int, error) {
	n, err := r.ExistingDeployments(ctx, deployableName, collectionName)
	if err != nil {
		return false, 0, err
	}
	return n > 0, n, nil
}
