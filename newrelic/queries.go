package newrelic

import (
	"context"
	"fmt"
	"strings"
)

const entitySearchQuery = `query($query: String!, $cursor: String) {
  actor {
    entitySearch(query: $query) {
      count
      results(cursor: $cursor) {
        nextCursor
        entities { guid name domain entityType reporting }
      }
    }
  }
}`

const nrqlQuery = `query($accountId: Int!, $nrql: Nrql!) {
  actor {
    account(id: $accountId) {
      nrql(query: $nrql) { results }
    }
  }
}`

// maxPages bounds entity search pagination.
const maxPages = 50

// RawEntity is an entity as returned by entity search.
type RawEntity struct {
	GUID       string `json:"guid"`
	Name       string `json:"name"`
	Domain     string `json:"domain"`
	EntityType string `json:"entityType"`
	Reporting  bool   `json:"reporting"`
}

type entitySearchData struct {
	Actor struct {
		EntitySearch struct {
			Count   int `json:"count"`
			Results struct {
				NextCursor *string     `json:"nextCursor"`
				Entities   []RawEntity `json:"entities"`
			} `json:"results"`
		} `json:"entitySearch"`
	} `json:"actor"`
}

type nrqlData struct {
	Actor struct {
		Account struct {
			NRQL *struct {
				Results []map[string]any `json:"results"`
			} `json:"nrql"`
		} `json:"account"`
	} `json:"actor"`
}

// SearchEntities lists the account's entities in the given New Relic domain codes (APM, INFRA...).
func (c *Client) SearchEntities(ctx context.Context, domains []string) ([]RawEntity, error) {
	search := fmt.Sprintf("accountId = %d", c.accountID)
	if len(domains) > 0 {
		quoted := make([]string, 0, len(domains))
		for _, d := range domains {
			quoted = append(quoted, "'"+strings.ToUpper(d)+"'")
		}
		search += " AND domain IN (" + strings.Join(quoted, ",") + ")"
	}

	var entities []RawEntity
	var cursor *string

	for page := 0; page < maxPages; page++ {
		vars := map[string]any{"query": search}
		if cursor != nil {
			vars["cursor"] = *cursor
		}

		var data entitySearchData
		if err := c.query(ctx, entitySearchQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("failed to search entities: %w", err)
		}

		results := data.Actor.EntitySearch.Results
		entities = append(entities, results.Entities...)

		if results.NextCursor == nil || *results.NextCursor == "" {
			break
		}
		cursor = results.NextCursor
	}

	c.logger.Debug("entity search complete", "query", search, "entities", len(entities))
	return entities, nil
}

// NRQL runs a query against the configured account and returns its result rows.
func (c *Client) NRQL(ctx context.Context, query string) ([]map[string]any, error) {
	vars := map[string]any{
		"accountId": c.accountID,
		"nrql":      query,
	}

	var data nrqlData
	if err := c.query(ctx, nrqlQuery, vars, &data); err != nil {
		return nil, fmt.Errorf("nrql query failed: %w", err)
	}
	if data.Actor.Account.NRQL == nil {
		return nil, fmt.Errorf("nrql query returned no result set")
	}
	return data.Actor.Account.NRQL.Results, nil
}
