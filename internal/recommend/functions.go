package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/tastecall/internal/tools"
)

const (
	defaultTake = 5
	maxTake     = 10
)

var domains = []string{
	"artist", "book", "brand", "destination", "movie",
	"person", "place", "podcast", "tv_show", "video_game",
}

// Functions exposes the recommendation API as model-callable functions.
type Functions struct {
	client  *Client
	timeout time.Duration
}

func NewFunctions(client *Client, timeout time.Duration) *Functions {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Functions{client: client, timeout: timeout}
}

func (f *Functions) All() []tools.Function {
	return []tools.Function{
		{
			Name:        "search_entities",
			Description: "Look up movies, books, artists, places and other entities by name. Call this before asking for recommendations based on something the caller mentioned.",
			Parameters: objectSchema(map[string]any{
				"query": map[string]any{"type": "string", "description": "Name the caller said, e.g. \"Dune\"."},
				"types": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string", "enum": domains},
					"description": "Optional entity kinds to restrict the search to.",
				},
			}, "query"),
			Handler: f.searchEntities,
		},
		{
			Name:        "get_recommendations",
			Description: "Recommend entities of one kind based on entities the caller likes. Entities found earlier in the call can be referenced by name.",
			Parameters: objectSchema(map[string]any{
				"entity_ids":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"entity_names": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"domain":       map[string]any{"type": "string", "enum": domains, "description": "Kind of thing to recommend."},
				"location":     map[string]any{"type": "string", "description": "City or neighbourhood, for places."},
				"take":         map[string]any{"type": "integer", "minimum": 1, "maximum": maxTake},
			}, "domain"),
			Handler: f.getRecommendations,
		},
		{
			Name:        "find_venues",
			Description: "Find restaurants, bars, venues and other places near a location.",
			Parameters: objectSchema(map[string]any{
				"query":    map[string]any{"type": "string", "description": "What to look for, e.g. \"ramen\"."},
				"location": map[string]any{"type": "string", "description": "City or neighbourhood."},
			}, "query", "location"),
			Handler: f.findVenues,
		},
		{
			Name:        "search_tags",
			Description: "Find genre, cuisine or style tags matching a phrase.",
			Parameters: objectSchema(map[string]any{
				"query":  map[string]any{"type": "string"},
				"domain": map[string]any{"type": "string", "enum": domains},
			}, "query"),
			Handler: f.searchTags,
		},
	}
}

func (f *Functions) searchEntities(ctx context.Context, args map[string]any, ec *tools.EntityContext) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return errorJSON("query is required"), nil
	}
	if !f.client.Configured() {
		return errorJSON("recommendation service is not configured"), nil
	}
	types := make([]string, 0)
	for _, d := range stringSliceArg(args, "types") {
		types = append(types, entityURN(d))
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	found, err := f.client.Search(ctx, query, types, "", defaultTake)
	if err != nil {
		return f.failure("search_entities", err)
	}

	out := make([]tools.Entity, 0, len(found))
	for _, e := range found {
		ent := tools.Entity{ID: e.EntityID, Name: e.Name, Type: e.Type()}
		ec.Remember(ent)
		out = append(out, ent)
	}
	return encode(map[string]any{"query": query, "entities": out})
}

func (f *Functions) getRecommendations(ctx context.Context, args map[string]any, ec *tools.EntityContext) (string, error) {
	domain := stringArg(args, "domain")
	if domain == "" {
		return errorJSON("domain is required"), nil
	}
	if !f.client.Configured() {
		return errorJSON("recommendation service is not configured"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ids := stringSliceArg(args, "entity_ids")
	var basedOn []string
	for _, id := range ids {
		if e, ok := ec.Lookup(id); ok {
			basedOn = append(basedOn, e.Name)
		}
	}
	for _, name := range stringSliceArg(args, "entity_names") {
		if e, ok := ec.FindByName(name); ok {
			ids = append(ids, e.ID)
			basedOn = append(basedOn, e.Name)
			continue
		}
		found, err := f.client.Search(ctx, name, nil, "", 1)
		if err != nil {
			return f.failure("get_recommendations", err)
		}
		if len(found) == 0 {
			continue
		}
		e := tools.Entity{ID: found[0].EntityID, Name: found[0].Name, Type: found[0].Type()}
		ec.Remember(e)
		ids = append(ids, e.ID)
		basedOn = append(basedOn, e.Name)
	}
	if len(ids) == 0 {
		return errorJSON("no known entities to base recommendations on; call search_entities first"), nil
	}

	take := intArg(args, "take", defaultTake)
	recs, err := f.client.Insights(ctx, entityURN(domain), ids, stringArg(args, "location"), take)
	if err != nil {
		return f.failure("get_recommendations", err)
	}
	out := make([]tools.Entity, 0, len(recs))
	for _, e := range recs {
		ent := tools.Entity{ID: e.EntityID, Name: e.Name, Type: e.Type()}
		ec.Remember(ent)
		out = append(out, ent)
	}
	return encode(map[string]any{"domain": domain, "based_on": basedOn, "recommendations": out})
}

type venue struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

func (f *Functions) findVenues(ctx context.Context, args map[string]any, ec *tools.EntityContext) (string, error) {
	query := stringArg(args, "query")
	location := stringArg(args, "location")
	if query == "" || location == "" {
		return errorJSON("query and location are required"), nil
	}
	if !f.client.Configured() {
		return errorJSON("recommendation service is not configured"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	found, err := f.client.Search(ctx, query, []string{entityURN("place")}, location, defaultTake)
	if err != nil {
		return f.failure("find_venues", err)
	}

	out := make([]venue, 0, len(found))
	for _, e := range found {
		ec.Remember(tools.Entity{ID: e.EntityID, Name: e.Name, Type: e.Type()})
		v := venue{ID: e.EntityID, Name: e.Name}
		if addr, ok := e.Properties["address"].(string); ok {
			v.Address = addr
		}
		out = append(out, v)
	}
	return encode(map[string]any{"location": location, "venues": out})
}

func (f *Functions) searchTags(ctx context.Context, args map[string]any, _ *tools.EntityContext) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return errorJSON("query is required"), nil
	}
	if !f.client.Configured() {
		return errorJSON("recommendation service is not configured"), nil
	}
	parent := ""
	if d := stringArg(args, "domain"); d != "" {
		parent = entityURN(d)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	tags, err := f.client.Tags(ctx, query, parent, defaultTake)
	if err != nil {
		return f.failure("search_tags", err)
	}
	return encode(map[string]any{"query": query, "tags": tags})
}

// failure turns upstream trouble into an error payload the model can relay;
// anything else is returned as a fault.
func (f *Functions) failure(name string, err error) (string, error) {
	if isExpected(err) {
		return errorJSON(fmt.Sprintf("%s could not reach the recommendation service: %v", name, err)), nil
	}
	return "", err
}

func entityURN(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if strings.HasPrefix(domain, "urn:") {
		return domain
	}
	return "urn:entity:" + domain
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func stringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return v
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func intArg(args map[string]any, key string, fallback int) int {
	n := fallback
	switch v := args[key].(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	}
	if n <= 0 {
		return fallback
	}
	if n > maxTake {
		return maxTake
	}
	return n
}

func errorJSON(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}
