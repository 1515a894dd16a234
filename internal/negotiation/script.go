package negotiation

import (
	"fmt"
	"strings"
)

const (
	evidenceFallback = "the attached screenshot"
	requestFallback  = "the issue with their order"

	agentPersona = "You are a negotiator calling customer service on behalf of a customer. " +
		"You are professional and polite, but persistent, and you advocate for the customer."
)

// Script is the instruction payload handed to the voice agent for one call.
type Script struct {
	OpeningLine  string   `json:"openingLine"`
	Instructions []string `json:"instructions"`
	ClosingLine  string   `json:"closingLine"`
}

// BuildScript expands the template for category. It never fails: a missing
// reference falls back to the attached screenshot and an empty message to a
// generic description.
func BuildScript(category Category, message, referenceNumber string) Script {
	message = strings.TrimSpace(message)
	if message == "" {
		message = requestFallback
	}
	subject := evidenceFallback
	if ref := strings.TrimSpace(referenceNumber); ref != "" {
		subject = "order " + ref
	}

	s := Script{
		OpeningLine: fmt.Sprintf("Hello, I'm calling on behalf of a customer regarding %s.", subject),
	}
	first := fmt.Sprintf("State the reference %s at the start of the call.", subject)
	if subject == evidenceFallback {
		first = "Refer to the details in the attached screenshot at the start of the call."
	}
	request := fmt.Sprintf("Explain the customer's request clearly: %q.", message)

	switch category {
	case CategoryRefund:
		s.Instructions = []string{
			first,
			request,
			"Ask for a full refund to the original payment method.",
			"If a partial refund or store credit is offered, politely insist on the full amount and explain why.",
			"Confirm the refund amount before ending the call.",
		}
		s.ClosingLine = "Could you please provide a confirmation code for this refund?"
	case CategoryReturn:
		s.Instructions = []string{
			first,
			request,
			"Ask for a return authorization and a prepaid return label.",
			"Ask that the refund be issued as soon as the item is received.",
			"Confirm the return deadline before ending the call.",
		}
		s.ClosingLine = "Could you please provide the return authorization or confirmation code?"
	case CategoryAppointment:
		s.Instructions = []string{
			first,
			request,
			"Ask to cancel the appointment.",
			"If a cancellation fee is mentioned, politely ask for it to be waived.",
			"Confirm that no further charges will apply.",
		}
		s.ClosingLine = "Could you please provide a cancellation confirmation code?"
	case CategorySubscription:
		s.Instructions = []string{
			first,
			request,
			"Ask the representative to review the bill and remove any incorrect charges.",
			"If the customer wants to cancel, ask for the subscription to end immediately with no further billing.",
			"Ask for any charges made after cancellation to be refunded.",
		}
		s.ClosingLine = "Could you please provide a confirmation code for this account change?"
	default:
		s.Instructions = []string{
			first,
			request,
			"Ask what can be done to resolve the issue today.",
			"Be specific about the outcome the customer wants.",
		}
		s.ClosingLine = "Could you please provide a reference or confirmation code for this request?"
	}
	s.Instructions = append(s.Instructions, "Stay calm and professional throughout the call.")
	return s
}

// SystemPrompt renders the script as agent instructions.
func (s Script) SystemPrompt() string {
	var b strings.Builder
	b.WriteString(agentPersona)
	b.WriteString("\n\nInstructions:\n")
	for i, step := range s.Instructions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	fmt.Fprintf(&b, "%d. End the call by asking: %q\n", len(s.Instructions)+1, s.ClosingLine)
	b.WriteString("\nOpen the call with: ")
	b.WriteString(s.OpeningLine)
	return b.String()
}
