// Package source resolves which ingestion channel produced an inbound item.
package source

import (
	"strings"

	"paypersist/pkg/models"
)

// endpointPatterns is checked in order; the first substring hit wins.
var endpointPatterns = []struct {
	substrings []string
	source     models.Source
}{
	{[]string{"mq"}, models.SourceMQ},
	{[]string{"http", "rest"}, models.SourceHTTPAPI},
	{[]string{"file"}, models.SourceFile},
}

// Classify returns the source named by hint when it is a known value, otherwise the
// source inferred from the endpoint identifier.
func Classify(hint, endpoint string) models.Source {
	if strings.TrimSpace(hint) != "" {
		if src, ok := models.ParseSource(hint); ok {
			return src
		}
	}

	id := strings.ToLower(endpoint)
	for _, p := range endpointPatterns {
		for _, sub := range p.substrings {
			if strings.Contains(id, sub) {
				return p.source
			}
		}
	}
	return models.SourceUnknown
}
