package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts/internal"
)

func dispatch(t *testing.T, opts DispatchOptions, msg internal.Message) (Decision, error) {
	t.Helper()
	return NewDispatcher(DefaultRules(), opts).Dispatch(msg)
}

func TestDispatchBVGRendersText(t *testing.T) {
	d, err := dispatch(t, DispatchOptions{}, internal.Message{From: "BVG <onlineshop@bvg.de>", Subject: "Ihre Bestellung"})
	require.NoError(t, err)
	assert.Equal(t, "bvg", d.RuleID)
	assert.Equal(t, internal.StrategyRenderText, d.Strategy)
}

func TestDispatchCar2goDirectDebitNoticeIsSkipped(t *testing.T) {
	d, err := dispatch(t, DispatchOptions{}, internal.Message{
		From:    "car2go <noreply@payment.car2go.com>",
		Subject: "Deine Lastschriftvorankündigung",
	})
	require.NoError(t, err)
	assert.Equal(t, "car2go", d.RuleID)
	assert.Equal(t, internal.StrategySkip, d.Strategy)
}

func TestDispatchCar2goInvoice(t *testing.T) {
	d, err := dispatch(t, DispatchOptions{}, internal.Message{
		From:    "noreply@payment.car2go.com",
		Subject: "Deine neue Rechnung",
	})
	require.NoError(t, err)
	assert.Equal(t, internal.StrategyAttachmentFiltered, d.Strategy)
}

func TestDispatchCar2goUnknownSubject(t *testing.T) {
	_, err := dispatch(t, DispatchOptions{}, internal.Message{
		From:    "noreply@payment.car2go.com",
		Subject: "Willkommen",
	})
	require.ErrorIs(t, err, ErrUnhandled)
	var miss *DispatchMissError
	require.ErrorAs(t, err, &miss)
	assert.Equal(t, "Willkommen", miss.Subject)
}

func TestDispatchUnknownSender(t *testing.T) {
	_, err := dispatch(t, DispatchOptions{}, internal.Message{From: "newsletter@example.com", Subject: "Hello"})
	assert.ErrorIs(t, err, ErrUnhandled)
}

func TestDispatchMytaxiPaymentMethod(t *testing.T) {
	msg := internal.Message{
		From:    "mytaxi Payment <payment@mytaxi.com>",
		Subject: "Deine Fahrt",
		Text:    "Danke!\nBezahlart: *Business Account*\n",
	}

	d, err := dispatch(t, DispatchOptions{Mode: internal.ModeExpenses, PaymentMethods: []string{"Business Account"}}, msg)
	require.NoError(t, err)
	assert.Equal(t, internal.StrategyAttachment, d.Strategy)

	d, err = dispatch(t, DispatchOptions{Mode: internal.ModeMobilityPackage, PaymentMethods: []string{"PayPal"}}, msg)
	require.NoError(t, err)
	assert.Equal(t, internal.StrategySkip, d.Strategy)
}

func TestPaymentMethod(t *testing.T) {
	cases := map[string]string{
		"Bezahlart: PayPal":                         "PayPal",
		"Bezahlart: *Kreditkarte*":                  "Kreditkarte",
		"Bezahlart: Visa , 1234 Trinkgeld inkl.":    "Visa, 1234",
		"Keine Angabe":                              "NULL",
		"Zeile\r\nBezahlart: Lastschrift\r\nEnde\r": "Lastschrift",
	}
	for in, want := range cases {
		assert.Equal(t, want, PaymentMethod(in), in)
	}
}

func TestDispatchUberModes(t *testing.T) {
	personal := internal.Message{From: "Uber Receipts <uber.germany@uber.com>", Subject: "[Personal] Your Monday evening trip receipt"}
	business := internal.Message{From: "Uber Receipts <uber.germany@uber.com>", Subject: "[Business] Your Monday evening trip receipt"}

	d, err := dispatch(t, DispatchOptions{Mode: internal.ModeMobilityPackage}, personal)
	require.NoError(t, err)
	assert.Equal(t, internal.StrategyRenderHTML, d.Strategy)

	d, err = dispatch(t, DispatchOptions{Mode: internal.ModeMobilityPackage}, business)
	require.NoError(t, err)
	assert.Equal(t, internal.StrategySkip, d.Strategy)

	d, err = dispatch(t, DispatchOptions{Mode: internal.ModeExpenses}, business)
	require.NoError(t, err)
	assert.Equal(t, internal.StrategyRenderHTML, d.Strategy)
}

func TestDispatchSubjectOnlyRule(t *testing.T) {
	d, err := dispatch(t, DispatchOptions{}, internal.Message{From: "billing@miles-mobility.com", Subject: "Deine MILES Rechnung 2019-04"})
	require.NoError(t, err)
	assert.Equal(t, "miles", d.RuleID)
	assert.Equal(t, internal.StrategyAttachment, d.Strategy)
}

func TestDispatchIsDeterministic(t *testing.T) {
	msg := internal.Message{From: "buchungsbestaetigung@bahn.de", Subject: "Call a Bike-Rechnung"}
	first, err := dispatch(t, DispatchOptions{}, msg)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		d, err := dispatch(t, DispatchOptions{}, msg)
		require.NoError(t, err)
		assert.Equal(t, first, d)
	}
	// sender rules win over subject rules
	assert.Equal(t, "deutsche_bahn", first.RuleID)
}

func TestRulesSelection(t *testing.T) {
	d := NewDispatcher(DefaultRules(), DispatchOptions{})

	all, err := d.Rules(nil)
	require.NoError(t, err)
	assert.Len(t, all, len(DefaultRules()))

	some, err := d.Rules([]string{"uber", "bvg"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "bvg", some[0].ID)
	assert.Equal(t, "uber", some[1].ID)

	_, err = d.Rules([]string{"bvg", "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestSelectorFilter(t *testing.T) {
	assert.Equal(t, `FROM "onlineshop@bvg.de"`, Selector{From: "onlineshop@bvg.de"}.Filter())
	assert.Equal(t, `FROM "Uber Receipts" SUBJECT "trip receipt"`, Selector{From: "Uber Receipts", Subject: "trip receipt"}.Filter())
	assert.Equal(t, `SUBJECT "say \"hi\""`, Selector{Subject: `say "hi"`}.Filter())
}
