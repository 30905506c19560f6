package ratelimit

import "github.com/llmur/llmur/internal/models"

// RequestLimits collects the request quotas of a key, its deployment and its project.
func RequestLimits(key *models.VirtualKey, deployment *models.Deployment, project *models.Project) []ScopeLimit {
	var out []ScopeLimit
	if key != nil {
		out = appendLimits(out, ScopeVirtualKey, key.ID, KindRequests, key.RequestLimits.Data().ByPeriod())
	}
	if deployment != nil {
		out = appendLimits(out, ScopeDeployment, deployment.ID, KindRequests, deployment.RequestLimits.Data().ByPeriod())
	}
	if project != nil {
		out = appendLimits(out, ScopeProject, project.ID, KindRequests, project.RequestLimits.Data().ByPeriod())
	}
	return out
}

// TokenLimits collects the token quotas of a key, its deployment and its project.
func TokenLimits(key *models.VirtualKey, deployment *models.Deployment, project *models.Project) []ScopeLimit {
	var out []ScopeLimit
	if key != nil {
		out = appendLimits(out, ScopeVirtualKey, key.ID, KindTokens, key.TokenLimits.Data().ByPeriod())
	}
	if deployment != nil {
		out = appendLimits(out, ScopeDeployment, deployment.ID, KindTokens, deployment.TokenLimits.Data().ByPeriod())
	}
	if project != nil {
		out = appendLimits(out, ScopeProject, project.ID, KindTokens, project.TokenLimits.Data().ByPeriod())
	}
	return out
}

func appendLimits(out []ScopeLimit, scope Scope, id string, kind Kind, byPeriod map[models.Period]int64) []ScopeLimit {
	for _, period := range models.Periods {
		limit, ok := byPeriod[period]
		if !ok {
			continue
		}
		out = append(out, ScopeLimit{Scope: scope, ID: id, Period: period, Limit: limit, Kind: kind})
	}
	return out
}
