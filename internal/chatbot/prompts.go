package chatbot

// Prompts holds every user-facing string the engine produces. Empty fields
// fall back to DefaultPrompts.
type Prompts struct {
	AuthFailure    string `koanf:"auth_failure"`
	HandlerFailure string `koanf:"handler_failure"`

	AllocationStart  string `koanf:"allocation_start"`
	AllocationSaved  string `koanf:"allocation_saved"`
	AllocationRetry  string `koanf:"allocation_retry"`
	AllocationGiveUp string `koanf:"allocation_give_up"`

	ProblemStart    string `koanf:"problem_start"`
	ProblemRecorded string `koanf:"problem_recorded"`
	// ProblemRepeated is appended when similar reports exist; %d is the count.
	ProblemRepeated string `koanf:"problem_repeated"`

	SuccessStart  string `koanf:"success_start"`
	SuccessThanks string `koanf:"success_thanks"`

	GeneralHelp    string   `koanf:"general_help"`
	GeneralActions []string `koanf:"general_actions"`
}

// DefaultPrompts returns the built-in wording.
func DefaultPrompts() Prompts {
	return Prompts{
		AuthFailure:    "Sorry, I couldn't authenticate your identity.",
		HandlerFailure: "Sorry, something went wrong while handling your message. Please try again.",

		AllocationStart:  "I'll help you log your time allocation. Share percentages like '60% meetings, 40% research'.",
		AllocationSaved:  "Thanks, I've saved your time allocation.",
		AllocationRetry:  "Sorry, I couldn't understand that. Please provide percentages like '50% research, 50% meetings'.",
		AllocationGiveUp: "I still couldn't read any percentages, so I've stopped logging for now. Just tell me how you spent your time whenever you're ready.",

		ProblemStart:    "Sorry to hear that. Could you describe the problem in a sentence or two?",
		ProblemRecorded: "Thanks for the details. I'll keep track of this problem.",
		ProblemRepeated: "It has been reported %d times so far.",

		SuccessStart:  "That's great to hear! Tell me a bit more about what went well.",
		SuccessThanks: "Thanks for sharing your success!",

		GeneralHelp: "I'm here to help you track your time allocation and identify areas for improvement. You can tell me about:\n" +
			"• How you spend your time each week\n" +
			"• Problems or frustrations you're facing\n" +
			"• Success stories and what's working well\n\n" +
			"What would you like to share today?",
		GeneralActions: []string{"Log my time", "Report a problem", "Share a success"},
	}
}

func (p Prompts) withDefaults() Prompts {
	d := DefaultPrompts()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&p.AuthFailure, d.AuthFailure)
	fill(&p.HandlerFailure, d.HandlerFailure)
	fill(&p.AllocationStart, d.AllocationStart)
	fill(&p.AllocationSaved, d.AllocationSaved)
	fill(&p.AllocationRetry, d.AllocationRetry)
	fill(&p.AllocationGiveUp, d.AllocationGiveUp)
	fill(&p.ProblemStart, d.ProblemStart)
	fill(&p.ProblemRecorded, d.ProblemRecorded)
	fill(&p.ProblemRepeated, d.ProblemRepeated)
	fill(&p.SuccessStart, d.SuccessStart)
	fill(&p.SuccessThanks, d.SuccessThanks)
	fill(&p.GeneralHelp, d.GeneralHelp)
	if len(p.GeneralActions) == 0 {
		p.GeneralActions = d.GeneralActions
	}
	return p
}
