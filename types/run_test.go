package types

import "testing"

func TestMapExitCondition(t *testing.T) {
	cases := []struct {
		name                                string
		exitCode                            int
		timedOut, cancelled, oom, cpuExceed bool
		wantStatus                          Status
		wantReason                          ExitReason
	}{
		{"success", 0, false, false, false, false, StatusSuccess, ExitReasonOK},
		{"timeout", 124, true, false, false, false, StatusTimeout, ExitReasonTimeout},
		{"cancel_wins_over_timeout", 124, true, true, false, false, StatusCancelled, ExitReasonCancelled},
		{"oom", 137, false, false, true, false, StatusFailed, ExitReasonOOM},
		{"cpu_exceeded", 137, false, false, false, true, StatusFailed, ExitReasonCPUExceeded},
		{"generic_error", 1, false, false, false, false, StatusFailed, ExitReasonError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, reason := MapExitCondition(tc.exitCode, tc.timedOut, tc.cancelled, tc.oom, tc.cpuExceed)
			if status != tc.wantStatus || reason != tc.wantReason {
				t.Fatalf("got (%s, %s), want (%s, %s)", status, reason, tc.wantStatus, tc.wantReason)
			}
		})
	}
}

func TestExecResultValidate(t *testing.T) {
	r := &ExecResult{Status: StatusSuccess}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for empty run_id")
	}
	r.RunID = "r1"
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Status = "bogus"
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for invalid status")
	}
}

func TestConnectionConfigEndpoints(t *testing.T) {
	c := &ConnectionConfig{MasterURL: "https://a"}
	if got := c.Endpoints(); len(got) != 1 || got[0] != "https://a" {
		t.Fatalf("got %v", got)
	}
	c.MasterURLs = []string{"https://a", "https://b"}
	if got := c.Endpoints(); len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}
