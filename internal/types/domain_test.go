package types

import "testing"

func TestIntentTypeValid(t *testing.T) {
	for _, typ := range []IntentType{IntentTypePayment, IntentTypeSetup} {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	for _, typ := range []IntentType{"", "charge", "PAYMENT_INTENT"} {
		if typ.Valid() {
			t.Errorf("%q should be invalid", typ)
		}
	}
}

func TestPlanRecursEvery(t *testing.T) {
	month := "month"
	three := int64(3)
	one := int64(1)

	quarterly := Plan{ID: "price_q", Interval: &month, IntervalCount: &three}
	monthly := Plan{ID: "price_m", Interval: &month, IntervalCount: &one}
	oneTime := Plan{ID: "price_once"}

	if !quarterly.RecursEvery("month", 3) {
		t.Error("quarterly plan should recur every 3 months")
	}
	if monthly.RecursEvery("month", 3) {
		t.Error("monthly plan should not match 3 months")
	}
	if oneTime.RecursEvery("month", 3) {
		t.Error("one-time plan should never match")
	}
}

func TestIntentIDFromSecret(t *testing.T) {
	cases := map[string]string{
		"pi_123_secret_abc": "pi_123",
		"seti_9_secret_x":   "seti_9",
		"pi_123":            "",
		"":                  "",
	}
	for in, want := range cases {
		if got := IntentIDFromSecret(in); got != want {
			t.Errorf("IntentIDFromSecret(%q) = %q, want %q", in, got, want)
		}
	}
}
