package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiro/poi_service/pkg/models"
)

func TestRankedQueryNoFilters(t *testing.T) {
	query, args := rankedQuery(models.RankedParams{Limit: 10, Offset: 5})

	assert.Contains(t, query, "RANK() OVER (PARTITION BY ml.message_id")
	assert.Contains(t, query, "ORDER BY l.review_count DESC, l.id ASC")
	assert.Contains(t, query, "NOT EXISTS (SELECT 1 FROM blacklisted_locations")
	assert.NotContains(t, query, "location_categories")
	assert.Contains(t, query, "LIMIT $1 OFFSET $2")
	assert.Equal(t, []interface{}{10, 5}, args)
}

func TestRankedQueryCategoryFilter(t *testing.T) {
	query, args := rankedQuery(models.RankedParams{Limit: 10, Category: "ramen"})

	assert.Contains(t, query, "c.category ILIKE '%' || $1 || '%'")
	assert.NotContains(t, query, "c.alias ILIKE")
	assert.Contains(t, query, "LIMIT $2 OFFSET $3")
	assert.Equal(t, []interface{}{"ramen", 10, 0}, args)
}

func TestRankedQueryBothFiltersAreOrCombined(t *testing.T) {
	query, args := rankedQuery(models.RankedParams{Limit: 10, Category: "ramen", Alias: "noodles"})

	assert.Contains(t, query,
		"(c.category ILIKE '%' || $1 || '%' OR c.alias ILIKE '%' || $2 || '%')")
	assert.Contains(t, query, "LIMIT $3 OFFSET $4")
	assert.Equal(t, []interface{}{"ramen", "noodles", 10, 0}, args)
}

func TestRankedQueryAliasOnly(t *testing.T) {
	query, args := rankedQuery(models.RankedParams{Limit: 10, Alias: "noodles"})

	assert.Contains(t, query, "c.alias ILIKE '%' || $1 || '%'")
	assert.NotContains(t, query, "c.category ILIKE")
	assert.Equal(t, []interface{}{"noodles", 10, 0}, args)
}

func TestCentroidQuery(t *testing.T) {
	query, args := centroidQuery(3, "", "")

	assert.Contains(t, query, "AVG(latitude)")
	assert.Contains(t, query, "AVG(longitude)")
	assert.Contains(t, query, "WHERE rank <= $1")
	assert.Equal(t, []interface{}{3}, args)
}

func TestCentroidQueryWithFilter(t *testing.T) {
	query, args := centroidQuery(5, "bar", "bars")

	require.Len(t, args, 3)
	assert.Equal(t, "bar", args[0])
	assert.Equal(t, "bars", args[1])
	assert.Equal(t, 5, args[2])
	assert.Contains(t, query, "WHERE rank <= $3")
}
