package models

// RemoteBranchStatus is a fresh, uncached view of a branch's remote counterpart.
type RemoteBranchStatus struct {
	Exists       bool
	RemoteAhead  bool
	LocalAhead   bool
	NetworkError bool
	ErrorMessage string
}

// SafetyCheck is the verdict of the safety classifier. Every blocker is a
// complete remediation message.
type SafetyCheck struct {
	IsSafe   bool
	Warnings []string
	Blockers []string
}

// NewSafetyCheck derives IsSafe from the blockers.
func NewSafetyCheck(warnings, blockers []string) SafetyCheck {
	return SafetyCheck{
		IsSafe:   len(blockers) == 0,
		Warnings: warnings,
		Blockers: blockers,
	}
}
