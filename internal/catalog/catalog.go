// Package catalog provides BM25 keyword matching over a merchant's
// product catalog. Extracted item names rarely match catalog names
// verbatim (abbreviations, typos, mixed scripts), so the matcher scores
// the query against every catalog entry and backfills prices from the
// best hit. Prices come only from the catalog; an item that matches
// nothing keeps a nil price.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/iwilltry42/bm25-go/bm25"

	"github.com/talkorder/talkorder-go/internal/logger"
	"github.com/talkorder/talkorder-go/internal/order"
	"github.com/talkorder/talkorder-go/internal/storage"
)

// Match is one catalog hit with a rank-based confidence score.
type Match struct {
	Product    storage.Product
	Score      float64
	Confidence float32
}

// Index is a BM25 index over one merchant's active products.
type Index struct {
	bm25Okapi *bm25.BM25Okapi
	products  []storage.Product
	logger    *logger.Logger
	mu        sync.RWMutex
}

// NewIndex creates an empty catalog index.
func NewIndex(log *logger.Logger) *Index {
	return &Index{logger: log}
}

// Initialize builds the BM25 index from the merchant's products.
// BM25 needs the whole corpus for IDF, so catalog changes rebuild from
// scratch rather than updating incrementally.
func (idx *Index) Initialize(products []storage.Product) error {
	if idx == nil {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.products = products
	idx.bm25Okapi = nil
	if len(products) == 0 {
		return nil
	}

	corpus := make([]string, len(products))
	for i, p := range products {
		doc := p.Name
		if p.Description != "" {
			doc += " " + p.Description
		}
		corpus[i] = doc
	}

	// k1=1.5, b=0.75 are standard BM25 parameters
	bm25Okapi, err := bm25.NewBM25Okapi(corpus, tokenizeChinese, 1.5, 0.75, nil)
	if err != nil {
		return fmt.Errorf("failed to create BM25 index: %w", err)
	}
	idx.bm25Okapi = bm25Okapi

	if idx.logger != nil {
		idx.logger.WithField("products", len(products)).Debug("Catalog index initialized")
	}
	return nil
}

// Search returns catalog entries scoring above zero for the query,
// sorted by BM25 score descending. An exact normalized-name match
// always ranks first: IDF is non-positive for a term occurring in every
// document, so a single-product catalog (or a name token shared by all
// products) scores zero even on a verbatim name.
func (idx *Index) Search(query string, topN int) ([]Match, error) {
	if idx == nil {
		return nil, nil
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.bm25Okapi == nil {
		return nil, nil
	}

	tokens := tokenizeChinese(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	scores, err := idx.bm25Okapi.GetScores(tokens)
	if err != nil {
		return nil, fmt.Errorf("BM25 scoring failed: %w", err)
	}

	exact := -1
	nq := normalizeName(query)
	for i, p := range idx.products {
		if normalizeName(p.Name) == nq {
			exact = i
			break
		}
	}

	var matches []Match
	for i, score := range scores {
		if i != exact && score > 0 {
			matches = append(matches, Match{Product: idx.products[i], Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if exact >= 0 {
		matches = append([]Match{{Product: idx.products[exact], Score: scores[exact]}}, matches...)
	}

	for i := range matches {
		matches[i].Confidence = computeRankConfidence(i + 1)
	}
	if topN > 0 && len(matches) > topN {
		matches = matches[:topN]
	}
	return matches, nil
}

// BestMatch returns the highest-ranked catalog entry for the query, or
// nil when nothing matches.
func (idx *Index) BestMatch(query string) (*Match, error) {
	matches, err := idx.Search(query, 1)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return &matches[0], nil
}

// BackfillPrices fills nil item prices from the catalog. Items that
// already carry a price are left alone so what the customer was quoted
// earlier in the conversation survives; items matching nothing stay
// unpriced for staff to resolve.
func (idx *Index) BackfillPrices(items []order.Item) []order.Item {
	if idx == nil || len(items) == 0 {
		return items
	}

	out := make([]order.Item, len(items))
	copy(out, items)
	for i := range out {
		if out[i].Price != nil {
			continue
		}
		match, err := idx.BestMatch(out[i].Name)
		if err != nil || match == nil {
			continue
		}
		price := match.Product.Price
		out[i].Price = &price
	}
	return out
}

// Count returns the number of indexed products.
func (idx *Index) Count() int {
	if idx == nil {
		return 0
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.products)
}

// Text renders the catalog as prompt-ready lines, one product each.
func (idx *Index) Text() string {
	if idx == nil {
		return ""
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var b strings.Builder
	for _, p := range idx.products {
		fmt.Fprintf(&b, "- %s NT$%.0f", p.Name, p.Price)
		if p.Description != "" {
			b.WriteString(" (" + p.Description + ")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// computeRankConfidence calculates confidence from BM25 rank.
// BM25 scores are unbounded and query-dependent, so rank is the proxy:
// 1/(1+0.05*rank) gives 0.95 at rank 1 and 0.67 at rank 10.
func computeRankConfidence(rank int) float32 {
	if rank <= 0 {
		return 0
	}
	return float32(1.0 / (1.0 + 0.05*float64(rank)))
}

// tokenizeChinese performs tokenization optimized for Chinese text:
// lowercase, split on whitespace/punctuation, and generate character
// bigrams for CJK runs since Chinese has no word boundaries.
func tokenizeChinese(text string) []string {
	text = strings.ToLower(text)

	var tokens []string
	var currentWord strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if isCJK(r) {
				if currentWord.Len() > 0 {
					tokens = append(tokens, currentWord.String())
					currentWord.Reset()
				}
				tokens = append(tokens, string(r))
				if i+1 < len(runes) && isCJK(runes[i+1]) {
					tokens = append(tokens, string(r)+string(runes[i+1]))
				}
			} else {
				currentWord.WriteRune(r)
			}
		} else {
			if currentWord.Len() > 0 {
				tokens = append(tokens, currentWord.String())
				currentWord.Reset()
			}
		}
	}
	if currentWord.Len() > 0 {
		tokens = append(tokens, currentWord.String())
	}

	return tokens
}

// normalizeName collapses a name for exact comparison: lowercase with
// whitespace removed.
func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
