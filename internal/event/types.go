package event

import (
	"sort"
	"strings"
	"time"
)

// InteractionType is the closed vocabulary of Chronicle interaction types.
type InteractionType int

const (
	Unknown InteractionType = iota
	ActivityResumed
	ActivityPaused
	AppUsage
	AppLaunch
	EndOfDay
	ContinuePreviousDay
	ConfigurationChange
	SystemInteraction
	UserInteraction
	ShortcutInvocation
	ChooserAction
	NotificationSeen
	NotificationReceived
	NotificationRemoved
	StandbyBucketChanged
	NotificationInterruption
	SlicePinnedPriv
	SlicePinnedApp
	ScreenInteractive
	ScreenNonInteractive
	DeviceScreenOff
	KeyguardShown
	KeyguardHidden
	ScreenInteractiveKeyguardShown
	ScreenNonInteractiveKeyguardHidden
	ForegroundServiceStart
	ForegroundServiceStop
	ContinuingForegroundService
	RolloverForegroundService
	ActivityStopped
	ActivityDestroyed
	FlushToDisk
	DeviceShutdown
	DeviceStartup
	UserUnlocked
	UserStopped
	LocusIDSet
	AppComponentUsed
	FilteredAppResumed
	FilteredAppPaused
	FilteredAppStopped
	FilteredAppDestroyed
	FilteredAppUsage
	EndOfUsageMissing
	NonTargetChildAppUsage

	numInteractionTypes
)

var typeNames = [numInteractionTypes]string{
	Unknown:                            "Unknown",
	ActivityResumed:                    "Activity Resumed",
	ActivityPaused:                     "Activity Paused",
	AppUsage:                           "App Usage",
	AppLaunch:                          "App Launch",
	EndOfDay:                           "End of Day",
	ContinuePreviousDay:                "Continue Previous Day",
	ConfigurationChange:                "Configuration Change",
	SystemInteraction:                  "System Interaction",
	UserInteraction:                    "User Interaction",
	ShortcutInvocation:                 "Shortcut Invocation",
	ChooserAction:                      "Chooser Action",
	NotificationSeen:                   "Notification Seen",
	NotificationReceived:               "Notification Received",
	NotificationRemoved:                "Notification Removed",
	StandbyBucketChanged:               "Standby Bucket Changed",
	NotificationInterruption:           "Notification Interruption",
	SlicePinnedPriv:                    "Slice Pinned Priv",
	SlicePinnedApp:                     "Slice Pinned App",
	ScreenInteractive:                  "Screen Interactive",
	ScreenNonInteractive:               "Screen Non-Interactive",
	DeviceScreenOff:                    "Device Screen Off",
	KeyguardShown:                      "Keyguard Shown",
	KeyguardHidden:                     "Keyguard Hidden",
	ScreenInteractiveKeyguardShown:     "Screen Interactive/Keyguard Shown",
	ScreenNonInteractiveKeyguardHidden: "Screen Non-Interactive/Keyguard Hidden",
	ForegroundServiceStart:             "Foreground Service Start",
	ForegroundServiceStop:              "Foreground Service Stop",
	ContinuingForegroundService:        "Continuing Foreground Service",
	RolloverForegroundService:          "Rollover Foreground Service",
	ActivityStopped:                    "Activity Stopped",
	ActivityDestroyed:                  "Activity Destroyed",
	FlushToDisk:                        "Flush to Disk",
	DeviceShutdown:                     "Device Shutdown",
	DeviceStartup:                      "Device Startup",
	UserUnlocked:                       "User Unlocked",
	UserStopped:                        "User Stopped",
	LocusIDSet:                         "Locus ID Set",
	AppComponentUsed:                   "App Component Used",
	FilteredAppResumed:                 "Filtered App Resumed",
	FilteredAppPaused:                  "Filtered App Paused",
	FilteredAppStopped:                 "Filtered App Stopped",
	FilteredAppDestroyed:               "Filtered App Destroyed",
	FilteredAppUsage:                   "Filtered App Usage",
	EndOfUsageMissing:                  "End of Usage Missing",
	NonTargetChildAppUsage:             "Non-Target Child App Usage",
}

// Raw names emitted by Chronicle that differ from the canonical names.
var rawAliases = map[string]InteractionType{
	"Move to Foreground":                                 ActivityResumed,
	"Move to Background":                                 ActivityPaused,
	"Instance of Usage for an App":                       AppUsage,
	"Activity Resumed for a Filtered App":                FilteredAppResumed,
	"Activity Paused for a Filtered App":                 FilteredAppPaused,
	"Instance of Usage for a Filtered App":               FilteredAppUsage,
	"Missing End of Usage after an App Starts Being Used": EndOfUsageMissing,
	"Screen Non-interactive":                             ScreenNonInteractive,
	"Unknown importance: 1":                              ActivityResumed,
	"Unknown importance: 2":                              ActivityPaused,
	"Unknown importance: 3":                              EndOfDay,
	"Unknown importance: 4":                              ContinuePreviousDay,
	"Unknown importance: 5":                              ConfigurationChange,
	"Unknown importance: 6":                              SystemInteraction,
	"Unknown importance: 7":                              UserInteraction,
	"Unknown importance: 8":                              ShortcutInvocation,
	"Unknown importance: 9":                              ChooserAction,
	"Unknown importance: 10":                             NotificationSeen,
	"Unknown importance: 11":                             StandbyBucketChanged,
	"Unknown importance: 12":                             NotificationInterruption,
	"Unknown importance: 13":                             SlicePinnedPriv,
	"Unknown importance: 14":                             SlicePinnedApp,
	"Unknown importance: 15":                             ScreenInteractive,
	"Unknown importance: 16":                             ScreenNonInteractive,
	"Unknown importance: 17":                             KeyguardShown,
	"Unknown importance: 18":                             KeyguardHidden,
	"Unknown importance: 19":                             ForegroundServiceStart,
	"Unknown importance: 20":                             ForegroundServiceStop,
	"Unknown importance: 21":                             ContinuingForegroundService,
	"Unknown importance: 22":                             RolloverForegroundService,
	"Unknown importance: 23":                             ActivityStopped,
	"Unknown importance: 24":                             ActivityDestroyed,
	"Unknown importance: 25":                             FlushToDisk,
	"Unknown importance: 26":                             DeviceShutdown,
	"Unknown importance: 27":                             DeviceStartup,
	"Unknown importance: 28":                             UserUnlocked,
	"Unknown importance: 29":                             UserStopped,
	"Unknown importance: 30":                             LocusIDSet,
	"Unknown importance: 31":                             AppComponentUsed,
}

var byName = func() map[string]InteractionType {
	m := make(map[string]InteractionType, len(typeNames)+len(rawAliases))
	for t := ActivityResumed; t < numInteractionTypes; t++ {
		m[typeNames[t]] = t
	}
	for raw, t := range rawAliases {
		m[raw] = t
	}
	return m
}()

// ParseInteractionType maps a raw Chronicle string onto the enum. The
// second return value is false for strings outside the vocabulary, in which
// case Unknown is returned.
func ParseInteractionType(raw string) (InteractionType, bool) {
	t, ok := byName[strings.TrimSpace(raw)]
	if !ok {
		return Unknown, false
	}
	return t, true
}

func (t InteractionType) String() string {
	if t < 0 || t >= numInteractionTypes {
		return typeNames[Unknown]
	}
	return typeNames[t]
}

// Category groups interaction types by how reconstruction treats them.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryValid
	CategoryFiltered
	CategoryDevice
	CategorySynthetic
	CategoryOther
)

func (c Category) String() string {
	switch c {
	case CategoryValid:
		return "valid"
	case CategoryFiltered:
		return "filtered"
	case CategoryDevice:
		return "device"
	case CategorySynthetic:
		return "synthetic"
	case CategoryOther:
		return "other"
	default:
		return "unknown"
	}
}

func (t InteractionType) Category() Category {
	switch t {
	case ActivityResumed, ActivityPaused, ActivityStopped, ActivityDestroyed, AppUsage:
		return CategoryValid
	case FilteredAppResumed, FilteredAppPaused, FilteredAppStopped, FilteredAppDestroyed, FilteredAppUsage:
		return CategoryFiltered
	case ScreenInteractive, ScreenNonInteractive, DeviceScreenOff, KeyguardShown, KeyguardHidden,
		ScreenInteractiveKeyguardShown, ScreenNonInteractiveKeyguardHidden,
		DeviceShutdown, DeviceStartup, UserUnlocked, UserStopped, FlushToDisk:
		return CategoryDevice
	case EndOfUsageMissing, NonTargetChildAppUsage:
		return CategorySynthetic
	case Unknown:
		return CategoryUnknown
	default:
		return CategoryOther
	}
}

// Lifecycle returns the resumed, paused, stopped and usage types of a
// reconstructable category. ok is false for any other category.
func Lifecycle(c Category) (resumed, paused, stopped, usage InteractionType, ok bool) {
	switch c {
	case CategoryValid:
		return ActivityResumed, ActivityPaused, ActivityStopped, AppUsage, true
	case CategoryFiltered:
		return FilteredAppResumed, FilteredAppPaused, FilteredAppStopped, FilteredAppUsage, true
	}
	return Unknown, Unknown, Unknown, Unknown, false
}

// Filtered returns the Filtered counterpart of a Valid type, or t itself.
func (t InteractionType) Filtered() InteractionType {
	switch t {
	case ActivityResumed:
		return FilteredAppResumed
	case ActivityPaused:
		return FilteredAppPaused
	case ActivityStopped:
		return FilteredAppStopped
	case ActivityDestroyed:
		return FilteredAppDestroyed
	case AppUsage:
		return FilteredAppUsage
	}
	return t
}

// AllInteractionTypes lists every known type in declaration order.
func AllInteractionTypes() []InteractionType {
	out := make([]InteractionType, 0, numInteractionTypes-1)
	for t := ActivityResumed; t < numInteractionTypes; t++ {
		out = append(out, t)
	}
	return out
}

// TypeSet is an unordered set of interaction types.
type TypeSet map[InteractionType]struct{}

func NewTypeSet(types ...InteractionType) TypeSet {
	s := make(TypeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// ParseTypeSet builds a set from raw names, reporting the names it could not map.
func ParseTypeSet(names []string) (TypeSet, []string) {
	s := make(TypeSet, len(names))
	var unknown []string
	for _, n := range names {
		t, ok := ParseInteractionType(n)
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		s[t] = struct{}{}
	}
	return s, unknown
}

func (s TypeSet) Has(t InteractionType) bool {
	_, ok := s[t]
	return ok
}

// Map returns a new set with f applied to every member.
func (s TypeSet) Map(f func(InteractionType) InteractionType) TypeSet {
	out := make(TypeSet, len(s))
	for t := range s {
		out[f(t)] = struct{}{}
	}
	return out
}

// Sorted returns the members in declaration order.
func (s TypeSet) Sorted() []InteractionType {
	out := make([]InteractionType, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RawEvent is one line of a participant's Chronicle export, as read.
type RawEvent struct {
	StudyID          string
	ParticipantID    string
	Username         string
	EventTimestamp   string
	Timezone         string
	AppPackageName   string
	ApplicationLabel string
	InteractionType  string
}

// Event is a normalized raw event.
type Event struct {
	StudyID          string
	ParticipantID    string
	Username         string
	Timestamp        time.Time
	Timezone         string
	OffsetLabel      string // offset embedded in the raw timestamp, e.g. "UTC-04:00"
	AppPackageName   string
	ApplicationLabel string
	Type             InteractionType
	RawType          string
	GapHours         float64
}

// TypeName is the canonical name, or the raw string for unrecognized types.
func (e Event) TypeName() string {
	if e.Type == Unknown && e.RawType != "" {
		return e.RawType
	}
	return e.Type.String()
}
