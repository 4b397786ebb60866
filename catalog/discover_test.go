package catalog

import (
	"testing"
)

func TestDiscoverCandidatesCustomerQuery(t *testing.T) {
	cat, _ := loadedCatalog(t)

	candidates := cat.DiscoverCandidates("Find the email for customer cust001")
	if len(candidates) == 0 {
		t.Fatal("expected candidates for customer query")
	}

	// customers table scores entity:customer (+5) and email (+3)
	top := candidates[0]
	if top.MCPID != "sql_customers" || top.Entity != "customers" {
		t.Errorf("unexpected top candidate %s.%s", top.MCPID, top.Entity)
	}
	if top.Score != 8 {
		t.Errorf("expected score 8, got %d", top.Score)
	}
}

func TestDiscoverCandidatesOrderQuery(t *testing.T) {
	cat, _ := loadedCatalog(t)

	candidates := cat.DiscoverCandidates("show recent purchases")
	if len(candidates) == 0 {
		t.Fatal("expected candidates for order query")
	}
	if candidates[0].Entity != "orders" {
		t.Errorf("expected orders entity first, got %s", candidates[0].Entity)
	}
	if candidates[0].Score != 5 {
		t.Errorf("expected score 5, got %d", candidates[0].Score)
	}
}

func TestDiscoverCandidatesSimilarityQuery(t *testing.T) {
	cat, _ := loadedCatalog(t)

	candidates := cat.DiscoverCandidates("customers similar to cust050")

	var vectorScore int
	for _, c := range candidates {
		if c.MCPID == "vector_customers" {
			// entity:customer (+5) and embedding field (+3)
			vectorScore = c.Score
		}
	}
	if vectorScore != 8 {
		t.Errorf("expected vector candidate score 8, got %d", vectorScore)
	}
}

func TestDiscoverCandidatesReferralQuery(t *testing.T) {
	cat, _ := loadedCatalog(t)

	candidates := cat.DiscoverCandidates("show referrals for customer cust010")

	var graphScore int
	for _, c := range candidates {
		if c.MCPID == "graph_referrals" {
			// entity:customer (+5) and referral tag (+3)
			graphScore = c.Score
		}
	}
	if graphScore != 8 {
		t.Errorf("expected graph candidate score 8, got %d", graphScore)
	}
}

func TestDiscoverCandidatesNoMatch(t *testing.T) {
	cat, _ := loadedCatalog(t)

	if candidates := cat.DiscoverCandidates("what is the weather today"); len(candidates) != 0 {
		t.Errorf("expected no candidates, got %v", candidates)
	}
}

func TestDiscoverCandidatesDeterministicOrder(t *testing.T) {
	cat, _ := loadedCatalog(t)

	first := cat.DiscoverCandidates("customer email")
	second := cat.DiscoverCandidates("customer email")

	if len(first) != len(second) {
		t.Fatalf("candidate counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].MCPID != second[i].MCPID || first[i].Entity != second[i].Entity {
			t.Fatalf("ordering not deterministic at %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestSearchFields(t *testing.T) {
	cat, _ := loadedCatalog(t)

	hits := cat.SearchFields("email")
	if len(hits) == 0 {
		t.Fatal("expected hits for email")
	}

	top := hits[0]
	if top.Field != "email" {
		t.Errorf("exact name match should rank first, got %s", top.Field)
	}
	if top.MCP != "sql_customers" || top.Parent != "customers" {
		t.Errorf("unexpected hit location %s.%s", top.MCP, top.Parent)
	}
	if top.ID != "sql_customers.customers.email" {
		t.Errorf("unexpected hit id %s", top.ID)
	}
}

func TestSearchFieldsSubstringAndTags(t *testing.T) {
	cat, _ := loadedCatalog(t)

	hits := cat.SearchFields("customer_id")
	if len(hits) == 0 {
		t.Fatal("expected hits for customer_id")
	}

	found := false
	for _, h := range hits {
		if h.MCP == "orders_mongo" && h.Field == "customer_id" {
			found = true
		}
	}
	if !found {
		t.Errorf("orders_mongo.orders.customer_id not found in %v", hits)
	}
}

func TestSearchFieldsEmptyQuery(t *testing.T) {
	cat, _ := loadedCatalog(t)

	if hits := cat.SearchFields("  "); hits != nil {
		t.Errorf("expected nil for blank query, got %v", hits)
	}
}
