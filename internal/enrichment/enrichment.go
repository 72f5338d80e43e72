// Package enrichment attaches merchant metadata and a spending category to
// raw transactions, reusing what earlier runs stored before asking the model.
package enrichment

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/statement-pipeline/internal/completion"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultBatchSize is how many unknown merchants go into one model call.
const DefaultBatchSize = 20

// CacheSource loads previously enriched merchants.
type CacheSource interface {
	LoadMerchantCache(ctx context.Context) ([]Entry, error)
}

// Config tunes the engine. Geo also asks for business name, location and coordinates.
type Config struct {
	BatchSize int
	Geo       bool
}

// Engine enriches transactions.
type Engine struct {
	cfg       Config
	source    CacheSource
	completer completion.Completer
	log       zerolog.Logger
}

// New creates an Engine. source may be nil, which means an empty cache.
func New(cfg Config, source CacheSource, completer completion.Completer, log zerolog.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Engine{cfg: cfg, source: source, completer: completer, log: log}
}

// Enrich returns one enriched transaction per input, in input order.
// Merchants found in the cache are resolved without a model call. Batches
// the model fails on are passed through un-enriched.
func (e *Engine) Enrich(ctx context.Context, txs []domain.RawTransaction) ([]domain.EnrichedTransaction, error) {
	out := domain.PassThrough(txs)
	if len(txs) == 0 {
		return out, nil
	}

	cache := e.loadCache(ctx)

	resolved := make(map[string]Entry)
	var misses []string
	seen := make(map[string]bool)
	for _, tx := range txs {
		key := normalizeKey(tx.MerchantKey())
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if entry, ok := match(cache, key); ok {
			resolved[key] = entry
			continue
		}
		misses = append(misses, key)
	}

	hits := len(resolved)
	if len(misses) > 0 && e.completer != nil {
		for start := 0; start < len(misses); start += e.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return out, fmt.Errorf("Enrich: %w", err)
			}
			end := start + e.cfg.BatchSize
			if end > len(misses) {
				end = len(misses)
			}
			batch := misses[start:end]

			entries, err := e.enrichBatch(ctx, batch)
			if err != nil {
				e.log.Warn().Err(err).Int("merchants", len(batch)).Msg("Enrichment batch failed, passing through")
				continue
			}
			for _, entry := range entries {
				resolved[entry.Key] = entry
			}
		}
	}

	for i := range out {
		entry, ok := resolved[normalizeKey(out[i].MerchantKey())]
		if !ok {
			continue
		}
		apply(&out[i], entry)
	}

	e.log.Info().
		Int("transactions", len(txs)).
		Int("cache_hits", hits).
		Int("model_lookups", len(misses)).
		Msg("Enrichment complete")
	return out, nil
}

// CategoriesOf returns the distinct categories assigned in txs, in first-seen order.
func CategoriesOf(txs []domain.EnrichedTransaction) []string {
	seen := make(map[string]bool)
	var names []string
	for _, tx := range txs {
		if tx.Category == "" || seen[tx.Category] {
			continue
		}
		seen[tx.Category] = true
		names = append(names, tx.Category)
	}
	return names
}

func (e *Engine) loadCache(ctx context.Context) *MemoryCache {
	if e.source == nil {
		return NewMemoryCache(nil)
	}
	entries, err := e.source.LoadMerchantCache(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Merchant cache unavailable, enriching without it")
		return NewMemoryCache(nil)
	}
	return NewMemoryCache(entries)
}

func (e *Engine) enrichBatch(ctx context.Context, merchants []string) ([]Entry, error) {
	raw, err := e.completer.Complete(ctx, completion.Request{Prompt: enrichPrompt(merchants, e.cfg.Geo)})
	if err != nil {
		return nil, fmt.Errorf("enrichBatch: model call: %w", err)
	}
	items, err := completion.DecodeArray(raw)
	if err != nil {
		return nil, fmt.Errorf("enrichBatch: %w", err)
	}

	var out []Entry
	for i, obj := range items {
		entry, err := entryFromMap(obj, merchants, i)
		if err != nil {
			e.log.Debug().Err(err).Int("index", i).Msg("Dropping malformed enrichment row")
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func entryFromMap(obj map[string]interface{}, merchants []string, position int) (Entry, error) {
	idx := position
	if v, ok := obj["index"].(float64); ok {
		idx = int(v)
	}
	if idx < 0 || idx >= len(merchants) {
		return Entry{}, fmt.Errorf("index %d out of range", idx)
	}

	var (
		entry = Entry{Key: merchants[idx]}
		err   error
	)
	if entry.MerchantType, err = completion.GetString(obj, "merchantType", false); err != nil {
		return Entry{}, err
	}
	if entry.MerchantDescription, err = completion.GetString(obj, "description", false); err != nil {
		return Entry{}, err
	}
	category, err := completion.GetString(obj, "category", true)
	if err != nil {
		return Entry{}, err
	}
	entry.Category = NormalizeCategory(category)

	if entry.BusinessName, err = completion.GetString(obj, "businessName", false); err != nil {
		return Entry{}, err
	}
	if entry.Location, err = completion.GetString(obj, "location", false); err != nil {
		return Entry{}, err
	}
	if entry.Latitude, err = completion.GetOptionalFloat64(obj, "latitude"); err != nil {
		return Entry{}, err
	}
	if entry.Longitude, err = completion.GetOptionalFloat64(obj, "longitude"); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func apply(tx *domain.EnrichedTransaction, e Entry) {
	tx.BusinessName = e.BusinessName
	tx.MerchantType = e.MerchantType
	tx.MerchantDescription = e.MerchantDescription
	tx.Category = e.Category
	tx.Location = e.Location
	tx.Latitude = e.Latitude
	tx.Longitude = e.Longitude
	tx.Enriched = true
}

func enrichPrompt(merchants []string, geo bool) string {
	var b strings.Builder
	b.WriteString("You are categorising merchants from Australian bank statements.\n\n")
	b.WriteString("For each merchant below return one JSON object with:\n")
	b.WriteString("- \"index\": the number shown before the merchant\n")
	b.WriteString("- \"merchantType\": short type of business, e.g. \"Supermarket\"\n")
	b.WriteString("- \"description\": one sentence describing the business\n")
	b.WriteString("- \"category\": exactly one of " + strings.Join(Vocabulary, ", ") + "\n")
	if geo {
		b.WriteString("- \"businessName\": the trading name\n")
		b.WriteString("- \"location\": suburb and state if known, else null\n")
		b.WriteString("- \"latitude\", \"longitude\": numbers if the location is known, else null\n")
	}
	b.WriteString("\nReturn ONLY a raw JSON array, no Markdown.\n\nMerchants:\n")
	for i, m := range merchants {
		b.WriteString(strconv.Itoa(i) + ". " + m + "\n")
	}
	return b.String()
}
