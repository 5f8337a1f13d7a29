package domain

import "testing"

func TestParseAction(t *testing.T) {
	cases := map[string]Action{
		"moreinfo":  ActionRequestInfo,
		"1":         ActionRequestInfo,
		"flag":      ActionFlag,
		"Duplicate": ActionDuplicate,
		"reject":    ActionReject,
		" 5 ":       ActionApprove,
	}
	for in, want := range cases {
		got, err := ParseAction(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %v want %v", in, got, want)
		}
	}
	if _, err := ParseAction("publish"); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestDecisionValidate(t *testing.T) {
	ok := []Decision{
		{ItemID: "a", Action: ActionApprove},
		{ItemID: "a", Action: ActionDuplicate},
		{ItemID: "a", Action: ActionReject, RejectReason: 1},
	}
	for _, d := range ok {
		if err := d.Validate(); err != nil {
			t.Fatalf("validate %+v: %v", d, err)
		}
	}
	bad := []Decision{
		{Action: ActionApprove},
		{ItemID: "a"},
		{ItemID: "a", Action: ActionReject},
		{ItemID: "a", Action: ActionReject, RejectReason: 99},
	}
	for _, d := range bad {
		if err := d.Validate(); err == nil {
			t.Fatalf("expected validation error for %+v", d)
		}
	}
}

func TestWorkItemCategory(t *testing.T) {
	staged := "pending_header"
	cases := []struct {
		item WorkItem
		want Category
	}{
		{WorkItem{Status: StatusPending}, CategoryStandard},
		{WorkItem{Status: StatusReviewPending}, CategoryFlagged},
		{WorkItem{Status: StatusPublic, PendingHeader: &staged}, CategoryRereview},
	}
	for _, c := range cases {
		if got := c.item.Category(); got != c.want {
			t.Fatalf("category for %+v: got %s want %s", c.item, got, c.want)
		}
	}
	if CategoryFlagged.ExcludesOwner() {
		t.Fatalf("flagged queue must not exclude owners")
	}
}

func TestOutcomeTable(t *testing.T) {
	for _, a := range []Action{ActionRequestInfo, ActionFlag, ActionDuplicate, ActionReject, ActionApprove} {
		o, ok := OutcomeOf(a)
		if !ok || o.Template == "" || o.Subject == "" {
			t.Fatalf("missing outcome for %v", a)
		}
	}
	if o, _ := OutcomeOf(ActionRequestInfo); o.Status != "" {
		t.Fatalf("moreinfo must not change status")
	}
	if o, _ := OutcomeOf(ActionFlag); !o.Senior {
		t.Fatalf("flag notifies senior reviewers")
	}
}

func TestWorkItemInQueue(t *testing.T) {
	staged := "themes/t1/pending/header.png"
	cases := []struct {
		item WorkItem
		cat  Category
		want bool
	}{
		{WorkItem{Status: StatusPending}, CategoryStandard, true},
		{WorkItem{Status: StatusRejected}, CategoryStandard, false},
		{WorkItem{Status: StatusReviewPending}, CategoryFlagged, true},
		{WorkItem{Status: StatusPublic}, CategoryRereview, false},
		{WorkItem{Status: StatusPublic, PendingHeader: &staged}, CategoryRereview, true},
		{WorkItem{Status: StatusPending}, CategoryFlagged, false},
	}
	for i, c := range cases {
		if got := c.item.InQueue(c.cat); got != c.want {
			t.Fatalf("case %d: got %v want %v", i, got, c.want)
		}
	}
}
