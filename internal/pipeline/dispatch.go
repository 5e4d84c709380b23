package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"receipts/internal"
)

var ErrUnhandled = errors.New("no vendor rule handles message")

// DispatchMissError reports a message that no rule (or no rule condition) accepts.
type DispatchMissError struct {
	From    string
	Subject string
	Reason  string
}

func (e *DispatchMissError) Error() string {
	msg := fmt.Sprintf("unhandled message from %q subject %q", e.From, e.Subject)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *DispatchMissError) Unwrap() error { return ErrUnhandled }

// Selector is one sender/subject pair. Set fields must all match, case
// insensitive substring, the same way an IMAP FROM/SUBJECT search does.
type Selector struct {
	From    string
	Subject string
}

// Filter renders the selector as an IMAP search expression.
func (s Selector) Filter() string {
	parts := make([]string, 0, 2)
	if s.From != "" {
		parts = append(parts, "FROM "+imapQuote(s.From))
	}
	if s.Subject != "" {
		parts = append(parts, "SUBJECT "+imapQuote(s.Subject))
	}
	return strings.Join(parts, " ")
}

func (s Selector) matches(msg internal.Message) bool {
	if s.From == "" && s.Subject == "" {
		return false
	}
	if s.From != "" && !containsFold(msg.From, s.From) {
		return false
	}
	if s.Subject != "" && !containsFold(msg.Subject, s.Subject) {
		return false
	}
	return true
}

type DispatchOptions struct {
	Mode           internal.Mode
	PaymentMethods []string
}

// Condition is evaluated only after a rule's selectors matched. It returns the
// strategy to use (the rule's own or skip) with a reason, or an error when
// the message needs manual handling.
type Condition func(msg internal.Message, opts DispatchOptions) (internal.Strategy, string, error)

type VendorRule struct {
	ID        string
	Label     string
	Selectors []Selector
	Strategy  internal.Strategy
	Condition Condition
}

type Decision struct {
	RuleID   string
	Label    string
	Strategy internal.Strategy
	Reason   string
}

type Dispatcher struct {
	rules []VendorRule
	opts  DispatchOptions
}

func NewDispatcher(rules []VendorRule, opts DispatchOptions) *Dispatcher {
	return &Dispatcher{rules: rules, opts: opts}
}

// Dispatch picks the first rule whose sender selector matches, falling back to
// subject-only selectors, then applies the rule's condition.
func (d *Dispatcher) Dispatch(msg internal.Message) (Decision, error) {
	rule := d.match(msg)
	if rule == nil {
		return Decision{}, &DispatchMissError{From: msg.From, Subject: msg.Subject}
	}

	decision := Decision{RuleID: rule.ID, Label: rule.Label, Strategy: rule.Strategy}
	if rule.Condition == nil {
		return decision, nil
	}
	strategy, reason, err := rule.Condition(msg, d.opts)
	if err != nil {
		return Decision{}, err
	}
	decision.Strategy = strategy
	decision.Reason = reason
	return decision, nil
}

func (d *Dispatcher) match(msg internal.Message) *VendorRule {
	for i := range d.rules {
		for _, sel := range d.rules[i].Selectors {
			if sel.From != "" && sel.matches(msg) {
				return &d.rules[i]
			}
		}
	}
	for i := range d.rules {
		for _, sel := range d.rules[i].Selectors {
			if sel.From == "" && sel.matches(msg) {
				return &d.rules[i]
			}
		}
	}
	return nil
}

// Rules returns the rules with the given IDs in table order; empty ids selects all.
func (d *Dispatcher) Rules(ids []string) ([]VendorRule, error) {
	if len(ids) == 0 {
		return d.rules, nil
	}
	wanted := map[string]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	out := make([]VendorRule, 0, len(ids))
	for _, r := range d.rules {
		if wanted[r.ID] {
			out = append(out, r)
			delete(wanted, r.ID)
		}
	}
	if len(wanted) > 0 {
		unknown := make([]string, 0, len(wanted))
		for _, id := range ids {
			if wanted[id] {
				unknown = append(unknown, id)
			}
		}
		return nil, fmt.Errorf("unknown handler(s): %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// DefaultRules is the handler table, most specific senders first.
func DefaultRules() []VendorRule {
	return []VendorRule{
		{ID: "bvg", Label: "BVG", Strategy: internal.StrategyRenderText,
			Selectors: []Selector{{From: "onlineshop@bvg.de"}}},
		{ID: "hvv", Label: "HVV", Strategy: internal.StrategyRenderText,
			Selectors: []Selector{{From: "onlineshop@hochbahn.de"}}},
		{ID: "car2go", Label: "car2go", Strategy: internal.StrategyAttachmentFiltered,
			Selectors: []Selector{{From: "noreply@payment.car2go.com"}},
			Condition: car2goCondition},
		{ID: "mytaxi", Label: "FREE NOW / mytaxi", Strategy: internal.StrategyAttachment,
			Selectors: []Selector{{From: "mytaxi Payment"}, {From: "kundenservice@free-now.com"}},
			Condition: paymentMethodCondition},
		{ID: "coup", Label: "COUP", Strategy: internal.StrategyRenderHTML,
			Selectors: []Selector{{From: "payment@joincoup.com"}}},
		{ID: "drivenow", Label: "Drive Now", Strategy: internal.StrategyAttachment,
			Selectors: []Selector{{Subject: "DriveNow eBilling"}}},
		{ID: "emmy", Label: "Emmy", Strategy: internal.StrategyAttachment,
			Selectors: []Selector{{Subject: "emmy Rechnung"}}},
		{ID: "uber", Label: "UBER", Strategy: internal.StrategyRenderHTML,
			Selectors: []Selector{{From: "Uber Receipts", Subject: "trip receipt"}},
			Condition: uberCondition},
		{ID: "deutsche_bahn", Label: "Deutsche Bahn", Strategy: internal.StrategyAttachment,
			Selectors: []Selector{{From: "buchungsbestaetigung@bahn.de"}, {From: "noreply.bahncard-rechnung@bahn.de"}}},
		{ID: "miles", Label: "MILES Sharing", Strategy: internal.StrategyAttachment,
			Selectors: []Selector{{Subject: "Deine MILES Rechnung"}, {Subject: "Deine drive by Rechnung"}}},
		{ID: "callabike", Label: "Call a Bike", Strategy: internal.StrategyAttachment,
			Selectors: []Selector{{Subject: "Call a Bike-Rechnung"}}},
		{ID: "hotel_invoice_marriott", Label: "Marriott Invoice", Strategy: internal.StrategyAttachment,
			Selectors: []Selector{{Subject: "Invoice of your stay"}}},
		{ID: "hotel_invoice_hilton", Label: "Hilton Invoice", Strategy: internal.StrategyAttachment,
			Selectors: []Selector{{From: "receipt@hilton.com"}}},
	}
}

func car2goCondition(msg internal.Message, _ DispatchOptions) (internal.Strategy, string, error) {
	if strings.Contains(msg.Subject, "Lastschriftvorankündigung") {
		return internal.StrategySkip, "Lastschriftvorankündigung", nil
	}
	if !strings.Contains(msg.Subject, "Deine neue Rechnung") {
		return "", "", &DispatchMissError{From: msg.From, Subject: msg.Subject, Reason: "unexpected car2go subject"}
	}
	return internal.StrategyAttachmentFiltered, "", nil
}

var (
	rePaymentMethod = regexp.MustCompile(`Bezahlart: (.*)`)
	reStarred       = regexp.MustCompile(`^\*(.*)\*$`)
	reTip           = regexp.MustCompile(` Trinkgeld.*`)
)

// PaymentMethod reads the FREE NOW "Bezahlart" line from a receipt body.
func PaymentMethod(text string) string {
	m := rePaymentMethod.FindStringSubmatch(text)
	if m == nil {
		return "NULL"
	}
	method := strings.TrimRight(m[1], "\r")
	method = strings.ReplaceAll(method, " ,", ",")
	method = reStarred.ReplaceAllString(method, "$1")
	method = reTip.ReplaceAllString(method, "")
	return method
}

func paymentMethodCondition(msg internal.Message, opts DispatchOptions) (internal.Strategy, string, error) {
	method := PaymentMethod(msg.Text)
	for _, eligible := range opts.PaymentMethods {
		if eligible == method {
			return internal.StrategyAttachment, "payment method " + method, nil
		}
	}
	return internal.StrategySkip, fmt.Sprintf("payment method %q not eligible in %s mode", method, opts.Mode), nil
}

var (
	reUberPersonal = regexp.MustCompile(`^\[Personal\]`)
	reUberBusiness = regexp.MustCompile(`^\[Business\]`)
	reUberTip      = regexp.MustCompile(`Thanks for tipping!.*trip receipt`)
)

func uberCondition(msg internal.Message, opts DispatchOptions) (internal.Strategy, string, error) {
	switch opts.Mode {
	case internal.ModeMobilityPackage:
		if reUberPersonal.MatchString(msg.Subject) {
			return internal.StrategyRenderHTML, "personal trip", nil
		}
	case internal.ModeExpenses:
		if reUberBusiness.MatchString(msg.Subject) {
			return internal.StrategyRenderHTML, "business trip", nil
		}
		if reUberTip.MatchString(msg.Subject) {
			return internal.StrategyRenderHTML, "tip receipt", nil
		}
	}
	return internal.StrategySkip, "not matching condition", nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func imapQuote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}
