package database

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern wraps term for a substring LIKE match, escaping wildcards.
func LikePattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

// BuildSearchCandidatesQuery selects ids of people whose name or local_name
// contains any of the terms. Scoring happens in the search package.
func BuildSearchCandidatesQuery(terms []string, includeInactive bool) (string, []interface{}, error) {
	if len(terms) == 0 {
		return "", nil, fmt.Errorf("at least one search term is required")
	}

	matches := sq.Or{}
	for _, term := range terms {
		pattern := LikePattern(term)
		matches = append(matches,
			sq.Expr(`name LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`local_name LIKE ? ESCAPE '\'`, pattern),
		)
	}

	queryBuilder := psql.Select("id").From("people").Where(matches)
	if !includeInactive {
		queryBuilder = queryBuilder.Where(sq.Eq{"active": true})
	}

	sqlStr, args, err := queryBuilder.OrderBy("name ASC").ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build SQL for search candidates: %w", err)
	}
	return sqlStr, args, nil
}
