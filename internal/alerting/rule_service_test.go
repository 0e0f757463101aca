package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/letter-dispatch/internal/domain"
)

func newTestRuleService(t *testing.T, rules *memRuleRepo, events *memEventRepo) *RuleService {
	t.Helper()

	svc, err := NewRuleService(rules, events, nil)
	if err != nil {
		t.Fatalf("NewRuleService() error = %v", err)
	}
	svc.now = func() time.Time { return engineNow }
	return svc
}

func TestRuleServiceCreateValidatesCondition(t *testing.T) {
	t.Parallel()

	svc := newTestRuleService(t, newMemRuleRepo(), &memEventRepo{})

	testCases := []struct {
		name    string
		rule    *domain.NotificationRule
		wantErr bool
	}{
		{name: "nil", rule: nil, wantErr: true},
		{
			name: "mismatched condition",
			rule: &domain.NotificationRule{
				Name: "backlog", Type: domain.RuleQueueBacklog,
				Condition: domain.SubmissionFailureCondition{Threshold: 1, TimeWindowMinutes: 5},
			},
			wantErr: true,
		},
		{
			name: "zero threshold",
			rule: &domain.NotificationRule{
				Name: "backlog", Type: domain.RuleQueueBacklog,
				Condition: domain.QueueBacklogCondition{},
			},
			wantErr: true,
		},
		{
			name: "valid",
			rule: &domain.NotificationRule{
				Name: "  backlog  ", Type: domain.RuleQueueBacklog, Enabled: true,
				Condition: domain.QueueBacklogCondition{Threshold: 100},
			},
		},
	}

	for _, tc := range testCases {
		created, err := svc.Create(context.Background(), tc.rule)
		if tc.wantErr {
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("%s: Create() error = %v, want ErrValidation", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: Create() error = %v", tc.name, err)
		}
		if created.ID == "" || created.Name != "backlog" || !created.CreatedAt.Equal(engineNow) {
			t.Fatalf("%s: Create() = %+v, want id, trimmed name and timestamps", tc.name, created)
		}
	}
}

func TestRuleServiceUpdateKeepsCooldownState(t *testing.T) {
	t.Parallel()

	fired := engineNow.Add(-5 * time.Minute)
	rule := universityDownRule()
	rule.LastTriggeredAt = &fired
	repo := newMemRuleRepo(rule)
	svc := newTestRuleService(t, repo, &memEventRepo{})

	changes := universityDownRule()
	changes.Name = "State schools down"
	changes.CooldownMinutes = 120
	changes.LastTriggeredAt = nil

	updated, err := svc.Update(context.Background(), rule.ID, &changes)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.LastTriggeredAt == nil || !updated.LastTriggeredAt.Equal(fired) {
		t.Fatalf("LastTriggeredAt = %v, want %v", updated.LastTriggeredAt, fired)
	}
	if updated.CooldownMinutes != 120 || updated.Name != "State schools down" {
		t.Fatalf("Update() = %+v, want new name and cooldown", updated)
	}

	if _, err := svc.Update(context.Background(), "missing", &changes); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRuleServiceSetEnabled(t *testing.T) {
	t.Parallel()

	repo := newMemRuleRepo(universityDownRule())
	svc := newTestRuleService(t, repo, &memEventRepo{})

	rule, err := svc.SetEnabled(context.Background(), "rule-down", false)
	if err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	if rule.Enabled {
		t.Fatal("SetEnabled(false) left rule enabled")
	}
	enabled, _ := repo.ListEnabled(context.Background())
	if len(enabled) != 0 {
		t.Fatalf("enabled rules = %d, want 0", len(enabled))
	}
}

func TestRuleServiceAcknowledge(t *testing.T) {
	t.Parallel()

	events := &memEventRepo{events: map[string]*domain.NotificationEvent{
		"evt-1": {ID: "evt-1", RuleID: "rule-down", Severity: domain.SeverityCritical},
	}}
	svc := newTestRuleService(t, newMemRuleRepo(), events)

	if err := svc.Acknowledge(context.Background(), "evt-1", "  "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Acknowledge(blank by) error = %v, want ErrValidation", err)
	}
	if err := svc.Acknowledge(context.Background(), "evt-1", "ops"); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	if err := svc.Acknowledge(context.Background(), "evt-1", "someone-else"); err != nil {
		t.Fatalf("second Acknowledge() error = %v", err)
	}
	if got := *events.events["evt-1"].AcknowledgedBy; got != "ops" {
		t.Fatalf("AcknowledgedBy = %s, want first acknowledger", got)
	}
	if err := svc.Acknowledge(context.Background(), "missing", "ops"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Acknowledge(missing) error = %v, want ErrNotFound", err)
	}

	pending, _ := svc.UnacknowledgedEvents(context.Background(), 10)
	if len(pending) != 0 {
		t.Fatalf("unacknowledged = %d, want 0", len(pending))
	}
}
