package repository

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"caseanalysis-backend/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LegalReferenceRepository handles database operations for legal reference text
type LegalReferenceRepository struct {
	db *pgxpool.Pool
}

// NewLegalReferenceRepository creates a new legal reference repository
func NewLegalReferenceRepository(db *pgxpool.Pool) *LegalReferenceRepository {
	return &LegalReferenceRepository{db: db}
}

// SearchByTopic performs a full-text search over references tagged with one of the topics.
// query: free text (case facts, legal question). Any keyword may match and more matches rank higher;
// a query without keywords returns topic matches in import order.
func (r *LegalReferenceRepository) SearchByTopic(
	ctx context.Context,
	topics []string,
	query string,
	limit int,
) ([]models.LegalReference, error) {
	if len(topics) == 0 || limit <= 0 {
		return nil, nil
	}

	keywords := keywordQuery(query)

	sql := `
		SELECT
			id,
			topic,
			source_document,
			citation,
			chunk_text,
			CASE WHEN $2 = '' THEN 0 ELSE ts_rank(search_vector, to_tsquery('simple', $2)) END AS rank
		FROM legal_references
		WHERE
			topic = ANY($1)
			AND ($2 = '' OR search_vector @@ to_tsquery('simple', $2))
		ORDER BY rank DESC, source_document, chunk_index
		LIMIT $3`

	rows, err := r.db.Query(ctx, sql, topics, keywords, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query legal references: %w", err)
	}
	defer rows.Close()

	var refs []models.LegalReference
	for rows.Next() {
		var ref models.LegalReference
		err := rows.Scan(
			&ref.ID,
			&ref.Topic,
			&ref.SourceDocument,
			&ref.Citation,
			&ref.Text,
			&ref.Rank,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan legal reference: %w", err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legal references: %w", err)
	}

	return refs, nil
}

// Insert stores one reference chunk; used by the import tool
func (r *LegalReferenceRepository) Insert(ctx context.Context, ref *models.LegalReference, chunkIndex int) error {
	query := `
		INSERT INTO legal_references (topic, source_document, chunk_index, citation, chunk_text)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return r.db.QueryRow(ctx, query, ref.Topic, ref.SourceDocument, chunkIndex, ref.Citation, ref.Text).Scan(&ref.ID)
}

// keywordQuery turns free text into an OR-joined tsquery of distinct words of three or more letters
func keywordQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var terms []string
	for _, w := range words {
		if len([]rune(w)) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if len(terms) == 32 {
			break
		}
	}
	return strings.Join(terms, " | ")
}

// DeleteBySource removes every chunk of a source document so it can be re-imported
func (r *LegalReferenceRepository) DeleteBySource(ctx context.Context, sourceDocument string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM legal_references WHERE source_document = $1`, sourceDocument)
	if err != nil {
		return 0, fmt.Errorf("failed to delete legal references: %w", err)
	}
	return tag.RowsAffected(), nil
}
