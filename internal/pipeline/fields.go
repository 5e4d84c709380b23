package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"receipts/internal"
	"receipts/internal/util"
)

// PageBreak separates page texts in the full document text.
const PageBreak = "\n--PAGE_BREAK--\n"

const excerptLen = 400

var ErrUnknownDocument = errors.New("no vendor signature found")

type UnknownDocumentError struct {
	Excerpt string
}

func (e *UnknownDocumentError) Error() string {
	return fmt.Sprintf("%v in text: %s", ErrUnknownDocument, e.Excerpt)
}

func (e *UnknownDocumentError) Unwrap() error { return ErrUnknownDocument }

// PatternMissError means the vendor was recognised but its date or amount
// pattern did not match, usually after a template change upstream.
type PatternMissError struct {
	Supplier string
	Field    string
	Excerpt  string
}

func (e *PatternMissError) Error() string {
	return fmt.Sprintf("%s: %s pattern not found in text: %s", e.Supplier, e.Field, e.Excerpt)
}

// ExtractionRule recognises one vendor template. Every signature must match;
// when Supplier is empty it is read from the "supplier" group of the first
// signature.
type ExtractionRule struct {
	Supplier   string
	Signatures []*regexp.Regexp
	Date       *regexp.Regexp
	Amount     *regexp.Regexp
	FormatDate func(string) string
}

// Validate checks the shape invariants of the rule's patterns.
func (r ExtractionRule) Validate() error {
	if len(r.Signatures) == 0 {
		return errors.New("rule has no signature")
	}
	if r.Supplier == "" && r.Signatures[0].SubexpIndex("supplier") < 0 {
		return fmt.Errorf("signature %q needs a supplier group", r.Signatures[0])
	}
	if r.Date == nil || r.Date.NumSubexp() != 1 {
		return fmt.Errorf("date pattern %q must capture exactly one group", r.Date)
	}
	if r.Amount == nil || r.Amount.NumSubexp() != 1 {
		return fmt.Errorf("amount pattern %q must capture exactly one group", r.Amount)
	}
	return nil
}

func (r ExtractionRule) supplier(text string) (string, bool) {
	var name string
	for i, sig := range r.Signatures {
		m := sig.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		if i == 0 && r.Supplier == "" {
			name = m[sig.SubexpIndex("supplier")]
		}
	}
	if r.Supplier != "" {
		name = r.Supplier
	}
	return name, true
}

type Extractor struct {
	rules []ExtractionRule
}

func NewExtractor(rules []ExtractionRule) (*Extractor, error) {
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("extraction rule %d: %w", i, err)
		}
	}
	return &Extractor{rules: rules}, nil
}

// Extract returns the record of the first rule whose signatures match text.
func (e *Extractor) Extract(text string) (internal.Record, error) {
	for _, rule := range e.rules {
		supplier, ok := rule.supplier(text)
		if !ok {
			continue
		}

		date := rule.Date.FindStringSubmatch(text)
		if date == nil {
			return internal.Record{}, &PatternMissError{Supplier: supplier, Field: "date", Excerpt: util.Excerpt(text, excerptLen)}
		}
		amount := rule.Amount.FindStringSubmatch(text)
		if amount == nil {
			return internal.Record{}, &PatternMissError{Supplier: supplier, Field: "amount", Excerpt: util.Excerpt(text, excerptLen)}
		}

		rec := internal.Record{Supplier: supplier, Date: date[1], Amount: amount[1]}
		if rule.FormatDate != nil {
			rec.Date = rule.FormatDate(rec.Date)
		}
		rec.Amount = NormalizeAmount(rec.Amount)
		return rec, nil
	}
	return internal.Record{}, &UnknownDocumentError{Excerpt: util.Excerpt(text, excerptLen)}
}

// JoinPages builds the full document text from per-page texts.
func JoinPages(pages []string) string {
	return strings.Join(pages, PageBreak)
}

// NormalizeAmount turns every period into a comma. Thousands separators are
// not expected in any supported template.
func NormalizeAmount(amount string) string {
	return strings.ReplaceAll(strings.TrimSpace(amount), ".", ",")
}

// AmountDecimal parses a normalized (comma) amount.
func AmountDecimal(amount string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(amount, ",", "."))
}

var reCoupDate = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`)

// CoupDate reorders Coup's MM-DD-YYYY invoice date into DD.MM.YYYY.
func CoupDate(s string) string {
	m := reCoupDate.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return s
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("%02d.%02d.%s", day, month, m[3])
}

var defaultExtractor = mustExtractor(DefaultExtractionRules())

func mustExtractor(rules []ExtractionRule) *Extractor {
	e, err := NewExtractor(rules)
	if err != nil {
		panic(err)
	}
	return e
}

// ExtractFields runs the default vendor table over text.
func ExtractFields(text string) (internal.Record, error) {
	return defaultExtractor.Extract(text)
}

func DefaultExtractionRules() []ExtractionRule {
	re := regexp.MustCompile
	return []ExtractionRule{
		{
			Supplier:   "mytaxi Intelligent Apps GmbH",
			Signatures: []*regexp.Regexp{re(`mytaxi ID:`)},
			Date:       re(`(?m)Belegdatum.*:\s*(\d+\.\d+\.\d+) \d+:\d+$`),
			Amount:     re(`(?m)Bruttobetrag.*\s+(\d+,\d+)\s+€$`),
		},
		{
			Supplier:   "Berliner Verkehrsbetriebe",
			Signatures: []*regexp.Regexp{re(`(?i)BVG-OnlineShop`)},
			Date:       re(`Date: ([\d-]+)`),
			Amount:     re(`Order total: €(\d+\.\d+)`),
		},
		{
			// fleetbird based providers
			Signatures: []*regexp.Regexp{re(`(?P<supplier>Electric Mobility Concepts GmbH|drive by mobility GmbH)`)},
			Date:       re(`Rechnungsdatum:\s+([\d.]+)`),
			Amount:     re(`Gesamtbetrag:\s+(\d+\.\d+) EUR`),
		},
		{
			Signatures: []*regexp.Regexp{re(`(?P<supplier>car2go Deutschland GmbH)`)},
			Date:       re(`(?:Rechnungsdatum|Datum):\s+([\d.]+)`),
			Amount:     re(`Gesamtbetrag\s+(?:\d+,\d+\s+){2}(\d+,\d+)`),
		},
		{
			Signatures: []*regexp.Regexp{re(`(?P<supplier>DriveNow GmbH & Co\. KG)`)},
			Date:       re(`Berlin, ([\d.]+)`),
			Amount:     re(`Gesamtkosten:\s+(\d+,\d+) EUR`),
		},
		{
			Signatures: []*regexp.Regexp{re(`(?P<supplier>Coup Mobility GmbH)`)},
			Date:       re(`Invoice\sdate:\s+([\d-]+)`),
			Amount:     re(`Total\samount\s+(\d+\.\d+) €`),
			FormatDate: CoupDate,
		},
		{
			Signatures: []*regexp.Regexp{re(`From:\s*(?P<supplier>Uber) Receipts`)},
			Date:       re(`Date:\s+([\d-]+)`),
			Amount:     re(`(\d+[.,]\d+)`),
		},
		{
			Supplier:   "DB Fernverkehr",
			Signatures: []*regexp.Regexp{re(`bahncard\.service@bahn\.de`)},
			Date:       re(`(\d+\.\d+\.\d{4})`),
			Amount:     re(`Gesamtbetrag\s+(\d+,\d+)\s+€`),
		},
		{
			Supplier:   "DB Fernverkehr",
			Signatures: []*regexp.Regexp{re(`Online-Ticket`), re(`Fernverkehr`)},
			Date:       re(`erfolgte am (\d+\.\d+\.\d{4})`),
			Amount:     re(`Summe\s+(\d+,\d+)€`),
		},
		{
			Supplier:   "DB Fernverkehr",
			Signatures: []*regexp.Regexp{re(`Online seat reservation`), re(`bahn\.com`)},
			Date:       re(`reservation was made on (\d+\.\d+\.\d{4})`),
			Amount:     re(`Total fare\s+(\d+,\d+)\s*€`),
		},
		{
			Signatures: []*regexp.Regexp{re(`(?P<supplier>Deutsche Bahn Connect GmbH)`)},
			Date:       re(`, den (\d+\.\d+\.\d{4})`),
			Amount:     re(`Gesamtbetrag\s+(\d+,\d+)\s*€`),
		},
	}
}
