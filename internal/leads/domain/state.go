// Package domain provides core business rules for the lead pipeline
// bounded context.
package domain

// Pipeline states in funnel order. Movement between known states is not
// restricted to adjacent stages: operators may move a lead to any known
// state, including re-affirming its current one.
const (
	StateInitialContact   = "initial_contact"
	StateResponded        = "responded"
	StateContentSent      = "content_sent"
	StatePositiveResponse = "positive_response"
	StateNegativeResponse = "negative_response"
	StateCallScheduled    = "call_scheduled"
	StateCallRescheduled  = "call_rescheduled"
	StateCallCancelled    = "call_cancelled"
	StateNoShow           = "no_show"
	StateDisqualified     = "disqualified"
	StateDeposit          = "deposit"
	StatePartialClose     = "partial_close"
	StateClosedWon        = "closed_won"
)

var knownStates = map[string]struct{}{
	StateInitialContact:   {},
	StateResponded:        {},
	StateContentSent:      {},
	StatePositiveResponse: {},
	StateNegativeResponse: {},
	StateCallScheduled:    {},
	StateCallRescheduled:  {},
	StateCallCancelled:    {},
	StateNoShow:           {},
	StateDisqualified:     {},
	StateDeposit:          {},
	StatePartialClose:     {},
	StateClosedWon:        {},
}

// conversionEligibleStates are the closing states from which a lead may be
// materialized into a client.
var conversionEligibleStates = map[string]bool{
	StateDeposit:      true,
	StatePartialClose: true,
	StateClosedWon:    true,
}

// IsKnownState reports whether the value is one of the enumerated
// pipeline states.
func IsKnownState(state string) bool {
	_, ok := knownStates[state]
	return ok
}

// IsConversionEligible reports whether a lead in this state qualifies for
// conversion into a client.
func IsConversionEligible(state string) bool {
	return conversionEligibleStates[state]
}

// KnownStates returns the enumerated pipeline states for validation
// messages and rule-scope checks.
func KnownStates() []string {
	return []string{
		StateInitialContact,
		StateResponded,
		StateContentSent,
		StatePositiveResponse,
		StateNegativeResponse,
		StateCallScheduled,
		StateCallRescheduled,
		StateCallCancelled,
		StateNoShow,
		StateDisqualified,
		StateDeposit,
		StatePartialClose,
		StateClosedWon,
	}
}
