package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Action is the verdict a reviewer gives a single item.
type Action int

const (
	ActionRequestInfo Action = iota + 1
	ActionFlag
	ActionDuplicate
	ActionReject
	ActionApprove
)

var actionNames = map[Action]string{
	ActionRequestInfo: "moreinfo",
	ActionFlag:        "flag",
	ActionDuplicate:   "duplicate",
	ActionReject:      "reject",
	ActionApprove:     "approve",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction accepts the wire name ("approve") or numeric code ("5").
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for a, n := range actionNames {
		if s == n || s == fmt.Sprint(int(a)) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("invalid action %q", s)
}

func (a Action) MarshalText() ([]byte, error) {
	if _, ok := actionNames[a]; !ok {
		return nil, fmt.Errorf("invalid action %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Decision is one verdict in a commit batch.
type Decision struct {
	ItemID       string `json:"item_id"`
	Action       Action `json:"action"`
	RejectReason int    `json:"reject_reason,omitempty"`
	Comment      string `json:"comment,omitempty"`
}

// Outcome is the fixed mapping of an action to its effects.
type Outcome struct {
	// Status is the status a standard or flagged item moves to; empty keeps it.
	Status string
	// Template names the notification template.
	Template string
	Subject  string
	// Senior sends to the senior reviewer list instead of the item owner.
	Senior bool
	// Promote swaps staged content into the live slot for rereview items.
	Promote bool
}

var outcomes = map[Action]Outcome{
	ActionRequestInfo: {Template: "moreinfo", Subject: "A question about your Theme submission"},
	ActionFlag:        {Status: StatusReviewPending, Template: "flag_reviewer", Subject: "Theme submission flagged for review", Senior: true},
	ActionDuplicate:   {Status: StatusRejected, Template: "reject", Subject: "A problem with your Theme submission"},
	ActionReject:      {Status: StatusRejected, Template: "reject", Subject: "A problem with your Theme submission"},
	ActionApprove:     {Status: StatusPublic, Template: "approve", Subject: "Thanks for submitting your Theme", Promote: true},
}

// OutcomeOf returns the effects table entry for an action.
func OutcomeOf(a Action) (Outcome, bool) {
	o, ok := outcomes[a]
	return o, ok
}

// RejectReason is an entry of the rejection catalog.
type RejectReason struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

// ReasonDuplicate is recorded for ActionDuplicate.
const ReasonDuplicate = 0

var rejectReasons = map[int]string{
	ReasonDuplicate: "Duplicate Submission",
	1:               "Sexual or pornographic content",
	2:               "Inappropriate or offensive content",
	3:               "Violence, war, or weaponry images",
	4:               "Nazi or other hate content",
	5:               "Defamatory content",
	6:               "Online gambling",
	7:               "Spam content",
	8:               "Low-quality, stretched, or blank image",
	9:               "Header image alignment problem",
}

// RejectReasonText returns the catalog text for a code.
func RejectReasonText(code int) (string, bool) {
	t, ok := rejectReasons[code]
	return t, ok
}

// RejectReasons lists the catalog ordered by code.
func RejectReasons() []RejectReason {
	out := make([]RejectReason, 0, len(rejectReasons))
	for code, text := range rejectReasons {
		out = append(out, RejectReason{Code: code, Text: text})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Validate checks a decision is well formed on its own.
func (d Decision) Validate() error {
	if strings.TrimSpace(d.ItemID) == "" {
		return fmt.Errorf("decision item_id required")
	}
	if _, ok := outcomes[d.Action]; !ok {
		return fmt.Errorf("decision for %s: invalid action %d", d.ItemID, int(d.Action))
	}
	if d.Action == ActionReject {
		if d.RejectReason == ReasonDuplicate {
			return fmt.Errorf("decision for %s: reject reason required", d.ItemID)
		}
		if _, ok := rejectReasons[d.RejectReason]; !ok {
			return fmt.Errorf("decision for %s: unknown reject reason %d", d.ItemID, d.RejectReason)
		}
	}
	return nil
}
