// Package patterns defines the scam-pattern data model and the vector-index
// abstraction used by the Wardline screening core.
//
// A pattern is a short phrase known to occur in scam calls ("this is the IRS,
// you owe back taxes"), tagged with a category and a severity weight. The
// corpus of patterns is immutable once indexed; adding patterns means
// rebuilding the index. Similarity search over pattern embeddings is the
// primary risk signal — see the risk package for how matches are fused with
// rule-extracted transcript signals.
//
// Storage backends implement [VectorIndex]: an exact in-memory index
// (memindex) and a PostgreSQL/pgvector index (postgres) are provided.
// Every implementation must be safe for concurrent reads.
package patterns

// Category classifies a scam pattern into one of a fixed set of scheme types.
//
// The set is closed on purpose: ad-hoc category strings drift silently and
// break the category→action policy in the decision engine. New schemes must
// be added here and to the policy tables together.
type Category string

const (
	// CategoryImpersonation covers authority impersonation schemes
	// (IRS, FBI, police, Social Security Administration).
	CategoryImpersonation Category = "impersonation"

	// CategoryPrize covers prize, lottery, and sweepstakes schemes.
	CategoryPrize Category = "prize"

	// CategoryGrandparent covers family-emergency schemes
	// ("hi grandma, it's me, I need bail money").
	CategoryGrandparent Category = "grandparent"

	// CategoryMedicare covers Medicare, health-insurance, and benefits schemes.
	CategoryMedicare Category = "medicare"

	// CategoryWarranty covers extended-warranty and service-contract schemes.
	CategoryWarranty Category = "warranty"

	// CategoryOther covers scam patterns that fit no specific scheme.
	CategoryOther Category = "other"

	// CategoryNone is the assessment category when no pattern match clears
	// the similarity floor. It is never a valid pattern category.
	CategoryNone Category = "none"
)

// IsValid reports whether c is a recognised pattern category.
// CategoryNone is not valid for pattern records.
func (c Category) IsValid() bool {
	switch c {
	case CategoryImpersonation, CategoryPrize, CategoryGrandparent,
		CategoryMedicare, CategoryWarranty, CategoryOther:
		return true
	}
	return false
}

// Record is a single scam-pattern entry in the corpus. Records are immutable
// once indexed; a corpus rebuild replaces the whole set.
type Record struct {
	// ID uniquely identifies this record within one corpus build
	// (e.g., "curated-14", "article-irs-back-taxes-2"). IDs are the
	// deterministic tie-breaker for equal-similarity search results.
	ID string

	// Phrase is the pattern text that gets embedded and matched against
	// transcript chunks.
	Phrase string

	// Category is the scheme classification of this pattern.
	Category Category

	// Severity weights how strongly a similarity match against this pattern
	// contributes to the risk score. Range (0, 1]; 1 means a confident match
	// is on its own enough to clear the high-risk threshold.
	Severity float64
}

// IndexedRecord pairs a [Record] with its embedding vector, ready for
// insertion into a [VectorIndex]. The embedding is computed once at corpus
// build time and never mutated; changing the embedding model requires a
// full rebuild.
type IndexedRecord struct {
	Record    Record
	Embedding []float32
}

// Match is a single similarity-search result: a corpus record together with
// its cosine similarity to the query embedding.
type Match struct {
	// Record is the matched corpus entry.
	Record Record

	// Similarity is the cosine similarity between the query embedding and
	// the record's embedding, in [-1, 1]. Higher is more similar.
	Similarity float64
}
