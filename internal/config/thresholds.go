package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"usageprep/internal/event"
)

// TimezonePolicy selects how events are brought into a single timezone.
type TimezonePolicy int

const (
	RemoveUnlessSelected TimezonePolicy = iota
	ConvertToSelected
	RemoveUnlessPrimary
	ConvertToPrimary
)

var policyNames = map[TimezonePolicy]string{
	RemoveUnlessSelected: "remove_unless_selected",
	ConvertToSelected:    "convert_to_selected",
	RemoveUnlessPrimary:  "remove_unless_primary",
	ConvertToPrimary:     "convert_to_primary",
}

func (p TimezonePolicy) String() string {
	if n, ok := policyNames[p]; ok {
		return n
	}
	return "invalid(" + strconv.Itoa(int(p)) + ")"
}

// NeedsSelectedTimezone reports whether the policy works against a
// user-supplied timezone rather than the per-file primary one.
func (p TimezonePolicy) NeedsSelectedTimezone() bool {
	return p == RemoveUnlessSelected || p == ConvertToSelected
}

// Removes reports whether events outside the target timezone are dropped.
func (p TimezonePolicy) Removes() bool {
	return p == RemoveUnlessSelected || p == RemoveUnlessPrimary
}

func (p TimezonePolicy) Valid() bool {
	_, ok := policyNames[p]
	return ok
}

// ParseTimezonePolicy accepts a policy name or its number (0-3).
func ParseTimezonePolicy(s string) (TimezonePolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		p := TimezonePolicy(n)
		if !p.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidTimezoneOption, n)
		}
		return p, nil
	}
	for p, name := range policyNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimezoneOption, s)
}

var ErrInvalidTimezoneOption = errors.New("invalid timezone option")

// MissingTimezoneError is returned when a policy needs a selected
// timezone and none was configured.
type MissingTimezoneError struct {
	Policy TimezonePolicy
}

func (e *MissingTimezoneError) Error() string {
	return fmt.Sprintf("timezone must be provided when using %s option", e.Policy)
}

// DefaultThresholdLadder applies to both the usage-duration and data-gap flags.
var DefaultThresholdLadder = []int{1, 6, 12, 24}

func DefaultSameAppStopTypes() []event.InteractionType {
	return []event.InteractionType{
		event.ActivityPaused,
		event.ActivityResumed,
		event.ActivityStopped,
		event.ActivityDestroyed,
	}
}

func DefaultOtherAppStopTypes() []event.InteractionType {
	return []event.InteractionType{
		event.ActivityResumed,
		event.ScreenNonInteractive,
		event.KeyguardShown,
		event.ActivityDestroyed,
		event.DeviceShutdown,
		event.UserStopped,
		event.FilteredAppResumed,
		event.FilteredAppUsage,
	}
}

// DefaultTypesToRemove are dropped from the final table unless they sit
// after a data gap.
func DefaultTypesToRemove() []event.InteractionType {
	return []event.InteractionType{
		event.AppLaunch,
		event.EndOfDay,
		event.ContinuePreviousDay,
		event.ConfigurationChange,
		event.SystemInteraction,
		event.UserInteraction,
		event.ShortcutInvocation,
		event.ChooserAction,
		event.NotificationSeen,
		event.NotificationReceived,
		event.NotificationRemoved,
		event.StandbyBucketChanged,
		event.NotificationInterruption,
		event.SlicePinnedPriv,
		event.SlicePinnedApp,
		event.ScreenInteractive,
		event.ScreenNonInteractive,
		event.DeviceScreenOff,
		event.KeyguardShown,
		event.KeyguardHidden,
		event.ScreenInteractiveKeyguardShown,
		event.ScreenNonInteractiveKeyguardHidden,
		event.ForegroundServiceStart,
		event.ForegroundServiceStop,
		event.ContinuingForegroundService,
		event.RolloverForegroundService,
		event.ActivityStopped,
		event.ActivityDestroyed,
		event.FlushToDisk,
		event.DeviceShutdown,
		event.DeviceStartup,
		event.UserUnlocked,
		event.UserStopped,
		event.LocusIDSet,
		event.AppComponentUsed,
		event.FilteredAppStopped,
		event.FilteredAppDestroyed,
	}
}

// Thresholds is the validated, read-only parameter set for one run.
type Thresholds struct {
	MinimumUsageDuration        time.Duration
	CustomEngagementWindow      time.Duration
	LongUsageDurationThresholds []int // hours, descending
	LongDataTimeGapThresholds   []int // hours, descending
	TimezonePolicy              TimezonePolicy
	SelectedTimezone            string
	CorrectDuplicateTimestamps  bool
	SameAppStopTypes            event.TypeSet
	OtherAppStopTypes           event.TypeSet
	TypesToRemove               event.TypeSet
}

// DefaultThresholds mirrors the configuration defaults with the given
// timezone policy and selected timezone.
func DefaultThresholds(policy TimezonePolicy, selected string) Thresholds {
	return Thresholds{
		MinimumUsageDuration:        0,
		CustomEngagementWindow:      300 * time.Second,
		LongUsageDurationThresholds: descending(DefaultThresholdLadder),
		LongDataTimeGapThresholds:   descending(DefaultThresholdLadder),
		TimezonePolicy:              policy,
		SelectedTimezone:            selected,
		CorrectDuplicateTimestamps:  true,
		SameAppStopTypes:            event.NewTypeSet(DefaultSameAppStopTypes()...),
		OtherAppStopTypes:           event.NewTypeSet(DefaultOtherAppStopTypes()...),
		TypesToRemove:               event.NewTypeSet(DefaultTypesToRemove()...),
	}
}

// Thresholds validates the preprocessing section.
func (p PreprocessingConfig) Thresholds() (Thresholds, error) {
	var t Thresholds
	if p.MinimumUsageDurationSeconds < 0 {
		return t, fmt.Errorf("minimum_usage_duration_seconds must be >= 0, got %d", p.MinimumUsageDurationSeconds)
	}
	if p.CustomEngagementSeconds < 1 {
		return t, fmt.Errorf("custom_engagement_seconds must be >= 1, got %d", p.CustomEngagementSeconds)
	}
	policy, err := ParseTimezonePolicy(p.TimezonePolicy)
	if err != nil {
		return t, err
	}
	selected := strings.TrimSpace(p.SelectedTimezone)
	if policy.NeedsSelectedTimezone() && selected == "" {
		return t, &MissingTimezoneError{Policy: policy}
	}

	usageLadder, err := ladder("long_usage_duration_thresholds", p.LongUsageDurationThresholds)
	if err != nil {
		return t, err
	}
	gapLadder, err := ladder("long_data_time_gap_thresholds", p.LongDataTimeGapThresholds)
	if err != nil {
		return t, err
	}

	same, err := typeSet("same_app_stop_types", p.SameAppStopTypes, true)
	if err != nil {
		return t, err
	}
	other, err := typeSet("other_app_stop_types", p.OtherAppStopTypes, true)
	if err != nil {
		return t, err
	}
	remove, err := typeSet("interaction_types_to_remove", p.InteractionTypesToRemove, false)
	if err != nil {
		return t, err
	}

	return Thresholds{
		MinimumUsageDuration:        time.Duration(p.MinimumUsageDurationSeconds) * time.Second,
		CustomEngagementWindow:      time.Duration(p.CustomEngagementSeconds) * time.Second,
		LongUsageDurationThresholds: usageLadder,
		LongDataTimeGapThresholds:   gapLadder,
		TimezonePolicy:              policy,
		SelectedTimezone:            selected,
		CorrectDuplicateTimestamps:  p.CorrectDuplicateTimestamps,
		SameAppStopTypes:            same,
		OtherAppStopTypes:           other,
		TypesToRemove:               remove,
	}, nil
}

func ladder(key string, hours []int) ([]int, error) {
	if len(hours) == 0 {
		return descending(DefaultThresholdLadder), nil
	}
	for _, h := range hours {
		if h <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %d", key, h)
		}
	}
	return descending(hours), nil
}

func descending(hours []int) []int {
	out := append([]int(nil), hours...)
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func typeSet(key string, names []string, required bool) (event.TypeSet, error) {
	set, unknown := event.ParseTypeSet(names)
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%s: unknown interaction types %q", key, unknown)
	}
	if required && len(set) == 0 {
		return nil, fmt.Errorf("%s must not be empty", key)
	}
	return set, nil
}
