package activation

import "time"

// elapsedDays returns whole days between from and now. Clock skew that puts
// from in the future counts as zero.
func elapsedDays(from, now time.Time) int {
	d := now.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / dayLength)
}

// DaysRemaining derives the countdown for rec at now
func DaysRemaining(rec *Record, now time.Time) int {
	if rec == nil {
		return 0
	}
	if rec.IsActive && rec.ActivatedAt != nil {
		remaining := rec.TotalDurationDays - elapsedDays(*rec.ActivatedAt, now)
		if remaining < 0 {
			return 0
		}
		return remaining
	}
	if !rec.IsActive && rec.PausedDaysRemaining != nil && *rec.PausedDaysRemaining > 0 {
		return *rec.PausedDaysRemaining
	}
	return 0
}

// DefaultState is what a user without any activation row sees
func DefaultState(userID string) *State {
	return &State{
		UserID:            userID,
		IsActive:          false,
		DaysRemaining:     0,
		TotalDurationDays: DefaultDurationDays,
	}
}

// ToState builds the read model for rec at now
func ToState(rec *Record, now time.Time) *State {
	if rec == nil {
		return DefaultState("")
	}
	total := rec.TotalDurationDays
	if total <= 0 {
		total = DefaultDurationDays
	}
	return &State{
		UserID:              rec.UserID,
		IsActive:            rec.IsActive,
		DaysRemaining:       DaysRemaining(rec, now),
		TotalDurationDays:   total,
		ActivatedAt:         rec.ActivatedAt,
		PausedDaysRemaining: rec.PausedDaysRemaining,
		LastPauseDate:       rec.LastPauseDate,
	}
}

// ApplyActivate returns the merge for an activate request. days is the
// operator supplied duration, nil when omitted.
func ApplyActivate(userID string, now time.Time, days *int, policy ResumePolicy) MergeFunc {
	return func(current *Record) *Record {
		next := cloneOrNew(current, userID, now)

		total := DefaultDurationDays
		banked := 0
		if current != nil && current.PausedDaysRemaining != nil {
			banked = *current.PausedDaysRemaining
		}

		switch {
		case days != nil && policy == PreferExplicitDays:
			total = *days
		case banked > 0:
			total = banked
		case days != nil:
			total = *days
		}

		activatedAt := now
		next.IsActive = true
		next.ActivatedAt = &activatedAt
		next.TotalDurationDays = total
		next.PausedDaysRemaining = nil
		next.UpdatedAt = now
		return next
	}
}

// ApplyDeactivate returns the merge for a deactivate request. Time already
// consumed is subtracted and the rest is banked for the next activation.
func ApplyDeactivate(userID string, now time.Time) MergeFunc {
	return func(current *Record) *Record {
		if current == nil {
			return &Record{
				UserID:            userID,
				IsActive:          false,
				TotalDurationDays: DefaultDurationDays,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
		}

		next := cloneOrNew(current, userID, now)
		if current.IsActive && current.ActivatedAt != nil {
			remaining := DaysRemaining(current, now)
			pauseDate := now
			next.PausedDaysRemaining = &remaining
			next.LastPauseDate = &pauseDate
		}
		next.IsActive = false
		next.ActivatedAt = nil
		next.UpdatedAt = now
		return next
	}
}

func cloneOrNew(current *Record, userID string, now time.Time) *Record {
	if current == nil {
		return &Record{
			UserID:            userID,
			TotalDurationDays: DefaultDurationDays,
			CreatedAt:         now,
		}
	}
	next := *current
	if current.PausedDaysRemaining != nil {
		v := *current.PausedDaysRemaining
		next.PausedDaysRemaining = &v
	}
	return &next
}
